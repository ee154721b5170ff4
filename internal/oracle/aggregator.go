package oracle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/domain"
)

var (
	ErrNoData           = errors.New("no observations in window")
	ErrInsufficientData = errors.New("not enough observations in horizon")
)

// Observation is one pushed price sample
type Observation struct {
	Timestamp time.Time
	Price     uint64
	Source    string
}

// Config bounds the retained window per pair
type Config struct {
	Window          time.Duration // max observation age, default 24h
	MaxObservations int           // hard cap per pair, default 4096
}

// Aggregator keeps a bounded window of (timestamp, price, source)
// observations per pair and derives median and TWAP on demand; the derived
// values are never stored. Ingestion is serialised per aggregator, which
// serialises it per pair
type Aggregator struct {
	log logger.Logger
	cfg Config

	mu    sync.RWMutex
	pairs map[string][]Observation // kept sorted by timestamp
}

func NewAggregator(log logger.Logger, cfg Config) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.MaxObservations <= 0 {
		cfg.MaxObservations = 4096
	}

	return &Aggregator{
		log:   log,
		cfg:   cfg,
		pairs: make(map[string][]Observation, 16),
	}
}

// Push appends an observation and slides the window: samples older than the
// configured window relative to the newest timestamp are discarded
func (a *Aggregator) Push(pair domain.TradingPair, source string, price uint64, ts time.Time) {
	key := pair.Canonical().Key()

	a.mu.Lock()
	defer a.mu.Unlock()

	window := a.pairs[key]
	window = append(window, Observation{Timestamp: ts, Price: price, Source: source})

	// feeds are near-ordered; a single insertion pass restores order
	for i := len(window) - 1; i > 0 && window[i].Timestamp.Before(window[i-1].Timestamp); i-- {
		window[i], window[i-1] = window[i-1], window[i]
	}

	cutoff := window[len(window)-1].Timestamp.Add(-a.cfg.Window)
	trimmed := 0
	for trimmed < len(window) && window[trimmed].Timestamp.Before(cutoff) {
		trimmed++
	}
	if over := len(window) - trimmed - a.cfg.MaxObservations; over > 0 {
		trimmed += over
	}
	window = window[trimmed:]

	a.pairs[key] = window
	a.log.Debugf("Observation pushed pair=%s source=%s price=%d window=%d", key, source, price, len(window))
}

// Median price across the current window. For an even count the mean of the
// two middle order statistics, rounded down. A single outlier can move the
// median at most to the next order statistic
func (a *Aggregator) Median(pair domain.TradingPair) (uint64, error) {
	key := pair.Canonical().Key()

	a.mu.RLock()
	defer a.mu.RUnlock()

	window := a.pairs[key]
	if len(window) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoData, key)
	}

	prices := make([]uint64, len(window))
	for i, obs := range window {
		prices[i] = obs.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid], nil
	}

	lo, hi := prices[mid-1], prices[mid]
	return lo/2 + hi/2 + (lo%2+hi%2)/2, nil
}

// TWAP over the trailing horizon ending now
func (a *Aggregator) TWAP(pair domain.TradingPair, horizon time.Duration) (uint64, error) {
	return a.TWAPAt(pair, horizon, time.Now())
}

// TWAPAt weighs observation i by min(t_{i+1}, now) - max(t_i, now-horizon)
// clipped to >= 0; the newest observation extends to now. Fails with
// ErrInsufficientData when fewer than two observations fall inside the
// horizon
func (a *Aggregator) TWAPAt(pair domain.TradingPair, horizon time.Duration, now time.Time) (uint64, error) {
	key := pair.Canonical().Key()

	a.mu.RLock()
	defer a.mu.RUnlock()

	window := a.pairs[key]
	start := now.Add(-horizon)

	inHorizon := 0
	for _, obs := range window {
		if !obs.Timestamp.Before(start) && !obs.Timestamp.After(now) {
			inHorizon++
		}
	}
	if inHorizon < 2 {
		return 0, fmt.Errorf("%w: %d observations in %s horizon for %s", ErrInsufficientData, inHorizon, horizon, key)
	}

	var weighted, total float64
	for i, obs := range window {
		next := now
		if i+1 < len(window) && window[i+1].Timestamp.Before(now) {
			next = window[i+1].Timestamp
		}

		from := obs.Timestamp
		if from.Before(start) {
			from = start
		}

		w := next.Sub(from).Seconds()
		if w <= 0 {
			continue
		}

		weighted += float64(obs.Price) * w
		total += w
	}

	if total <= 0 {
		return 0, fmt.Errorf("%w: zero weight for %s", ErrInsufficientData, key)
	}
	return uint64(weighted / total), nil
}

// Observations returns a copy of the current window
func (a *Aggregator) Observations(pair domain.TradingPair) []Observation {
	key := pair.Canonical().Key()

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Observation, len(a.pairs[key]))
	copy(out, a.pairs[key])
	return out
}
