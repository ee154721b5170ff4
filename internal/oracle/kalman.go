package oracle

import (
	"errors"
	"sync"

	"dexos/internal/domain"
)

var ErrPredictorNotFound = errors.New("no predictor for pair")

// KalmanState is the filter estimate: price plus its variance (uncertainty)
type KalmanState struct {
	Price    float64
	Variance float64
}

// KalmanPredictor is a one-dimensional Kalman filter over a price series.
// The process model assumes the true price holds between observations with
// processNoise of drift; measurementNoise models feed jitter
type KalmanPredictor struct {
	state            KalmanState
	processNoise     float64
	measurementNoise float64
	lastUpdate       int64
}

func NewKalmanPredictor(initialPrice, processNoise, measurementNoise float64) *KalmanPredictor {
	return &KalmanPredictor{
		state:            KalmanState{Price: initialPrice, Variance: 1.0},
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
	}
}

// Update corrects the estimate with a new observation
func (k *KalmanPredictor) Update(observation float64, timestamp int64) KalmanState {
	predictedVariance := k.state.Variance + k.processNoise

	innovation := observation - k.state.Price
	gain := predictedVariance / (predictedVariance + k.measurementNoise)

	k.state.Price += gain * innovation
	k.state.Variance = (1 - gain) * predictedVariance
	k.lastUpdate = timestamp

	return k.state
}

// Predict extrapolates without a new observation; uncertainty grows by the
// process noise
func (k *KalmanPredictor) Predict() KalmanState {
	return KalmanState{
		Price:    k.state.Price,
		Variance: k.state.Variance + k.processNoise,
	}
}

// State returns the current estimate
func (k *KalmanPredictor) State() KalmanState { return k.state }

// Reset re-seeds the filter
func (k *KalmanPredictor) Reset(initialPrice float64) {
	k.state = KalmanState{Price: initialPrice, Variance: 1.0}
	k.lastUpdate = 0
}

// PredictorSet manages one Kalman filter per canonical pair
type PredictorSet struct {
	mu         sync.Mutex
	predictors map[string]*KalmanPredictor
}

func NewPredictorSet() *PredictorSet {
	return &PredictorSet{predictors: make(map[string]*KalmanPredictor, 16)}
}

// Add registers (or replaces) the predictor for a pair
func (s *PredictorSet) Add(pair domain.TradingPair, p *KalmanPredictor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictors[pair.Canonical().Key()] = p
}

// Update feeds an observation to the pair's predictor
func (s *PredictorSet) Update(pair domain.TradingPair, price float64, timestamp int64) (KalmanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictors[pair.Canonical().Key()]
	if !ok {
		return KalmanState{}, ErrPredictorNotFound
	}
	return p.Update(price, timestamp), nil
}

// Predict extrapolates the pair's next state
func (s *PredictorSet) Predict(pair domain.TradingPair) (KalmanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictors[pair.Canonical().Key()]
	if !ok {
		return KalmanState{}, ErrPredictorNotFound
	}
	return p.Predict(), nil
}
