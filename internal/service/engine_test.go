package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/config"
	"dexos/internal/dedupe"
	"dexos/internal/domain"
	"dexos/internal/pubsub"
	"dexos/internal/router"
)

// --- helpers ---

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

var btcusd = domain.TradingPair{Base: "BTC", Quote: "USD"}

type fakeBroadcaster struct {
	mu       sync.Mutex
	subjects []string
	healthy  bool
}

func (f *fakeBroadcaster) Publish(_ context.Context, subject string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeBroadcaster) Health(context.Context) error {
	if !f.healthy {
		return errors.New("nats down")
	}
	return nil
}

func (f *fakeBroadcaster) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subjects))
	copy(out, f.subjects)
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			Pairs:       []string{"BTC/USD", "ETH/USD"},
			DepthLevels: 5,
		},
		AMM: config.AMMConfig{FeeBps: 30},
		Router: config.RouterConfig{
			Algorithm: "dijkstra",
			MaxHops:   4,
		},
		Oracle: config.OracleConfig{Window: time.Hour},
	}
}

func newTestEngine(t *testing.T, bc *fakeBroadcaster, deduper dedupe.Deduper) *EngineService {
	t.Helper()

	var broadcaster pubsub.Broadcaster
	if bc != nil {
		broadcaster = bc
	}

	svc, err := NewEngineService(newTestLogger(), testConfig(), broadcaster, nil, deduper)
	require.NoError(t, err)
	return svc
}

// --- tests ---

func TestNewEngineService_RequiresPairs(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engine.Pairs = nil
	_, err := NewEngineService(newTestLogger(), cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg.Engine.Pairs = []string{"garbage"}
	_, err = NewEngineService(newTestLogger(), cfg, nil, nil, nil)
	assert.Error(t, err)
}

func TestSubmitOrder_WhitelistedPairsOnly(t *testing.T) {
	t.Parallel()

	svc := newTestEngine(t, nil, nil)

	_, _, err := svc.SubmitOrder(context.Background(), domain.Order{
		ID:       1,
		TraderID: "alice",
		Pair:     domain.TradingPair{Base: "DOGE", Quote: "USD"},
		Side:     domain.SideBuy,
		Kind:     domain.KindLimit,
		Price:    100,
		Quantity: 10,
	})
	assert.ErrorIs(t, err, ErrUnknownPair)
}

func TestSubmitOrder_BroadcastsDepthPerMutation(t *testing.T) {
	t.Parallel()

	bc := &fakeBroadcaster{healthy: true}
	svc := newTestEngine(t, bc, nil)
	ctx := context.Background()

	_, status, err := svc.SubmitOrder(ctx, domain.Order{
		ID: 1, TraderID: "alice", Pair: btcusd,
		Side: domain.SideSell, Kind: domain.KindLimit, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyFilledResting, status)

	trades, status, err := svc.SubmitOrder(ctx, domain.Order{
		ID: 2, TraderID: "bob", Pair: btcusd,
		Side: domain.SideBuy, Kind: domain.KindLimit, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFullyFilled, status)
	assert.Len(t, trades, 1)

	// exactly one broadcast per successful submit
	assert.Equal(t, []string{"depth.BTC-USD", "depth.BTC-USD"}, bc.published())
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	bc := &fakeBroadcaster{healthy: true}
	svc := newTestEngine(t, bc, nil)
	ctx := context.Background()

	_, _, err := svc.SubmitOrder(ctx, domain.Order{
		ID: 1, TraderID: "alice", Pair: btcusd,
		Side: domain.SideSell, Kind: domain.KindLimit, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)

	require.NoError(t, svc.CancelOrder(ctx, btcusd, 1))
	assert.Error(t, svc.CancelOrder(ctx, btcusd, 1))

	// one broadcast per successful mutation
	assert.Equal(t, []string{"depth.BTC-USD", "depth.BTC-USD"}, bc.published())
}

func TestDepth(t *testing.T) {
	t.Parallel()

	svc := newTestEngine(t, nil, nil)
	ctx := context.Background()

	_, _, err := svc.SubmitOrder(ctx, domain.Order{
		ID: 1, TraderID: "alice", Pair: btcusd,
		Side: domain.SideBuy, Kind: domain.KindLimit, Price: 95, Quantity: 4,
	})
	require.NoError(t, err)

	snap, err := svc.Depth(btcusd, 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, uint64(95), snap.BestBid)

	_, err = svc.Depth(domain.TradingPair{Base: "DOGE", Quote: "USD"}, 10)
	assert.ErrorIs(t, err, ErrUnknownPair)
}

func TestPushObservation_Deduped(t *testing.T) {
	t.Parallel()

	deduper := dedupe.NewInMemoryDedupe(newTestLogger(), time.Minute, 0)
	defer deduper.Close()

	svc := newTestEngine(t, nil, deduper)
	ctx := context.Background()
	ts := time.Now()

	require.NoError(t, svc.PushObservation(ctx, btcusd, "chainlink", 50_000, ts))
	// identical (source, pair, timestamp) is a duplicate
	require.NoError(t, svc.PushObservation(ctx, btcusd, "chainlink", 50_000, ts))
	// another source at the same instant is not
	require.NoError(t, svc.PushObservation(ctx, btcusd, "pyth", 50_100, ts))

	assert.Len(t, svc.Oracle().Observations(btcusd), 2)
}

func TestSwapThroughService(t *testing.T) {
	t.Parallel()

	svc := newTestEngine(t, nil, nil)
	ctx := context.Background()

	_, err := svc.ConstantProduct().AddLiquidity(btcusd, 1_000_000, 50_000_000)
	require.NoError(t, err)

	out, err := svc.SwapConstantProduct(ctx, btcusd, "BTC", 1_000)
	require.NoError(t, err)
	assert.Greater(t, out, uint64(0))

	require.NoError(t, svc.StableSwap().CreatePool(domain.TradingPair{Base: "DAI", Quote: "USDC"}, 100))
	_, err = svc.StableSwap().AddLiquidity(domain.TradingPair{Base: "DAI", Quote: "USDC"}, 1_000_000, 1_000_000)
	require.NoError(t, err)

	out, err = svc.SwapStable(ctx, domain.TradingPair{Base: "DAI", Quote: "USDC"}, "DAI", 1_000)
	require.NoError(t, err)
	assert.Greater(t, out, uint64(0))
}

func TestFindBestPathThroughService(t *testing.T) {
	t.Parallel()

	svc := newTestEngine(t, nil, nil)

	svc.Router().AddEdge(router.Edge{From: "BTC", To: "ETH", DEX: "uni", Rate: 0.9, Liquidity: 1_000})
	svc.Router().AddEdge(router.Edge{From: "ETH", To: "USDC", DEX: "uni", Rate: 0.9, Liquidity: 1_000})

	path, err := svc.FindBestPath(context.Background(), "BTC", "USDC")
	require.NoError(t, err)
	assert.Len(t, path.Edges, 2)

	_, err = svc.FindBestPath(context.Background(), "BTC", "DOGE")
	assert.ErrorIs(t, err, router.ErrNoPath)
}

func TestCheckDependency(t *testing.T) {
	t.Parallel()

	healthy := &fakeBroadcaster{healthy: true}
	svc := newTestEngine(t, healthy, nil)
	assert.NoError(t, svc.CheckDependency(context.Background()))

	broken := &fakeBroadcaster{healthy: false}
	svc = newTestEngine(t, broken, nil)
	assert.Error(t, svc.CheckDependency(context.Background()))
}
