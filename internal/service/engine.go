package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/amm"
	"dexos/internal/book"
	"dexos/internal/config"
	"dexos/internal/dedupe"
	"dexos/internal/domain"
	"dexos/internal/metrics"
	"dexos/internal/oracle"
	"dexos/internal/pubsub"
	"dexos/internal/router"
)

var ErrUnknownPair = errors.New("pair not whitelisted")

// HealthChecker is implemented by infra dependencies that can be probed
type HealthChecker interface {
	Health(ctx context.Context) error
}

// EngineService is the single orchestration point above the trading core:
// validate -> book/pool operation -> journal -> broadcast -> metrics.
// It owns one orderbook per whitelisted pair plus the AMM family, the
// router and the oracle
type EngineService struct {
	log         logger.Logger
	broadcaster pubsub.Broadcaster
	deduper     dedupe.Deduper

	books     map[string]*book.Book
	constProd *amm.ConstantProduct
	stable    *amm.StableSwap
	ticks     *amm.TickStore
	pathRtr   *router.Router
	prices    *oracle.Aggregator

	healthers []HealthChecker
}

func NewEngineService(
	log logger.Logger,
	cfg *config.Config,
	broadcaster pubsub.Broadcaster,
	sink domain.EventSink,
	deduper dedupe.Deduper,
	healthers ...HealthChecker,
) (*EngineService, error) {
	if len(cfg.Engine.Pairs) == 0 {
		return nil, errors.New("at least one trading pair is required")
	}

	s := &EngineService{
		log:         log,
		broadcaster: broadcaster,
		deduper:     deduper,
		books:       make(map[string]*book.Book, len(cfg.Engine.Pairs)),
		healthers:   healthers,
	}

	for _, raw := range cfg.Engine.Pairs {
		pair, err := domain.ParsePair(raw)
		if err != nil {
			return nil, fmt.Errorf("bad pair in config: %w", err)
		}

		s.books[pair.Key()] = book.NewBook(log, book.Config{
			Pair:        pair,
			DepthLevels: cfg.Engine.DepthLevels,
		}, s.notifyDepth, sink)
	}

	s.constProd = amm.NewConstantProduct(log, amm.ConstantProductConfig{
		FeeBps:      cfg.AMM.FeeBps,
		RatioTolBps: cfg.AMM.RatioTolBps,
	}, sink)
	s.stable = amm.NewStableSwap(log, amm.StableSwapConfig{
		FeeBps: cfg.AMM.FeeBps,
		MinAmp: cfg.AMM.MinAmp,
		MaxAmp: cfg.AMM.MaxAmp,
	}, sink)
	s.ticks = amm.NewTickStore(log)
	s.pathRtr = router.New(log, router.Config{
		Algorithm:    router.Algorithm(cfg.Router.Algorithm),
		MaxHops:      cfg.Router.MaxHops,
		SearchBudget: cfg.Router.SearchBudget,
	})
	s.prices = oracle.NewAggregator(log, oracle.Config{
		Window:          cfg.Oracle.Window,
		MaxObservations: cfg.Oracle.MaxObservations,
	})

	return s, nil
}

// Book returns the orderbook of a whitelisted pair
func (s *EngineService) Book(pair domain.TradingPair) (*book.Book, error) {
	b, ok := s.books[pair.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair.Key())
	}
	return b, nil
}

// SubmitOrder routes the order to its book and counts the outcome
func (s *EngineService) SubmitOrder(ctx context.Context, o domain.Order) ([]domain.Trade, domain.SubmitStatus, error) {
	b, err := s.Book(o.Pair)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(o.Pair.Key()).Inc()
		return nil, "", err
	}

	trades, status, err := b.Submit(o)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(o.Pair.Key()).Inc()
		return nil, "", err
	}

	metrics.OrdersSubmitted.WithLabelValues(o.Pair.Key(), string(o.Side)).Inc()
	metrics.TradesEmitted.WithLabelValues(o.Pair.Key()).Add(float64(len(trades)))
	return trades, status, nil
}

// CancelOrder cancels a resting order on its book
func (s *EngineService) CancelOrder(ctx context.Context, pair domain.TradingPair, orderID uint64) error {
	b, err := s.Book(pair)
	if err != nil {
		return err
	}
	return b.Cancel(orderID)
}

// Depth returns the top-n snapshot of a pair's book
func (s *EngineService) Depth(pair domain.TradingPair, n int) (domain.DepthSnapshot, error) {
	b, err := s.Book(pair)
	if err != nil {
		return domain.DepthSnapshot{}, err
	}
	return b.Depth(n), nil
}

// ConstantProduct pool family
func (s *EngineService) ConstantProduct() *amm.ConstantProduct { return s.constProd }

// StableSwap pool family
func (s *EngineService) StableSwap() *amm.StableSwap { return s.stable }

// Ticks is the concentrated-liquidity store
func (s *EngineService) Ticks() *amm.TickStore { return s.ticks }

// Router over the liquidity graph
func (s *EngineService) Router() *router.Router { return s.pathRtr }

// Oracle price aggregator
func (s *EngineService) Oracle() *oracle.Aggregator { return s.prices }

// SwapConstantProduct executes an x*y=k swap and counts it
func (s *EngineService) SwapConstantProduct(ctx context.Context, pair domain.TradingPair, fromToken string, amountIn uint64) (uint64, error) {
	out, err := s.constProd.Swap(pair, fromToken, amountIn)
	if err != nil {
		return 0, err
	}
	metrics.Swaps.WithLabelValues("constant_product", pair.Canonical().Key()).Inc()
	return out, nil
}

// SwapStable executes a StableSwap swap and counts it
func (s *EngineService) SwapStable(ctx context.Context, pair domain.TradingPair, fromToken string, amountIn uint64) (uint64, error) {
	out, err := s.stable.Swap(pair, fromToken, amountIn)
	if err != nil {
		return 0, err
	}
	metrics.Swaps.WithLabelValues("stableswap", pair.Canonical().Key()).Inc()
	return out, nil
}

// FindBestPath answers the cached route query
func (s *EngineService) FindBestPath(ctx context.Context, source, destination string) (router.Path, error) {
	path, err := s.pathRtr.FindBestPath(source, destination)
	if err != nil {
		metrics.RouteQueries.WithLabelValues("error").Inc()
		return router.Path{}, err
	}

	metrics.RouteQueries.WithLabelValues("ok").Inc()
	return path, nil
}

// PushObservation ingests one oracle sample: dedupe -> window push.
// Duplicate samples are dropped silently, dedupe backend errors are not
func (s *EngineService) PushObservation(ctx context.Context, pair domain.TradingPair, source string, price uint64, ts time.Time) error {
	if s.deduper != nil {
		id := fmt.Sprintf("%s:%s:%d", source, pair.Canonical().Key(), ts.UnixNano())
		seen, err := s.deduper.Seen(ctx, id)
		if err != nil {
			return fmt.Errorf("dedupe check failed for %s: %w", id, err)
		}
		if seen {
			s.log.Debugf("Duplicate observation ignored: %s", id)
			return nil
		}
	}

	s.prices.Push(pair, source, price, ts)
	metrics.OracleObservations.WithLabelValues(pair.Canonical().Key(), source).Inc()
	return nil
}

// notifyDepth runs outside the book critical section. Broadcast errors are
// not critical - subscribers catch up on the next mutation
func (s *EngineService) notifyDepth(pair domain.TradingPair, snapshot domain.DepthSnapshot) {
	if s.broadcaster == nil {
		return
	}

	subject := "depth." + pair.Base + "-" + pair.Quote
	if err := s.broadcaster.Publish(context.Background(), subject, snapshot); err != nil {
		s.log.Errorf("failed to broadcast depth for %s: %v", pair.Key(), err)
	}
}

// CheckDependency probes the infra the engine is wired to
func (s *EngineService) CheckDependency(ctx context.Context) error {
	errDependency := make([]string, 0, len(s.healthers)+1)

	if s.broadcaster != nil {
		if err := s.broadcaster.Health(ctx); err != nil {
			errDependency = append(errDependency, fmt.Sprintf("NATS: %v", err))
		}
	}

	for _, h := range s.healthers {
		if err := h.Health(ctx); err != nil {
			errDependency = append(errDependency, err.Error())
		}
	}

	if len(errDependency) > 0 {
		return fmt.Errorf("dependency check failed: %v", strings.Join(errDependency, "; "))
	}

	s.log.Debugf("All dependency check passed")
	return nil
}
