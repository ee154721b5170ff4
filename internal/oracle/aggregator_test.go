package oracle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/domain"
)

// --- helpers ---

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

var btcusd = domain.TradingPair{Base: "BTC", Quote: "USD"}

func newAgg(window time.Duration) *Aggregator {
	return NewAggregator(newTestLogger(), Config{Window: window})
}

// --- tests ---

func TestMedian_OddAndEven(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	agg.Push(btcusd, "feed-a", 100, now)
	agg.Push(btcusd, "feed-b", 102, now.Add(time.Second))
	agg.Push(btcusd, "feed-c", 101, now.Add(2*time.Second))

	med, err := agg.Median(btcusd)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), med)

	// even count: the mean of the two middle statistics, rounded down
	agg.Push(btcusd, "feed-d", 104, now.Add(3*time.Second))
	med, err = agg.Median(btcusd)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), med) // (101+102)/2 = 101.5 -> 101
}

func TestMedian_NoData(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	_, err := agg.Median(btcusd)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestMedian_OutlierMonotonicity(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	prices := []uint64{100, 101, 102, 103, 104}
	for i, p := range prices {
		agg.Push(btcusd, "feed", p, now.Add(time.Duration(i)*time.Second))
	}

	before, err := agg.Median(btcusd)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), before)

	// an outlier far above everything moves the median at most to the next
	// order statistic and can never decrease it
	agg.Push(btcusd, "rogue", 1_000_000, now.Add(10*time.Second))
	after, err := agg.Median(btcusd)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after, before)
	assert.LessOrEqual(t, after, uint64(103))

	// symmetric for an outlier far below
	agg.Push(btcusd, "rogue2", 1, now.Add(11*time.Second))
	again, err := agg.Median(btcusd)
	require.NoError(t, err)
	assert.LessOrEqual(t, again, after)
}

func TestWindowTrim(t *testing.T) {
	t.Parallel()

	agg := newAgg(10 * time.Second)
	base := time.Now()

	agg.Push(btcusd, "feed", 100, base)
	agg.Push(btcusd, "feed", 200, base.Add(5*time.Second))
	require.Len(t, agg.Observations(btcusd), 2)

	// a sample 20s later slides both old ones out
	agg.Push(btcusd, "feed", 300, base.Add(20*time.Second))
	obs := agg.Observations(btcusd)
	require.Len(t, obs, 1)
	assert.Equal(t, uint64(300), obs[0].Price)
}

func TestMaxObservationsBound(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(newTestLogger(), Config{Window: time.Hour, MaxObservations: 3})
	base := time.Now()

	for i := 0; i < 10; i++ {
		agg.Push(btcusd, "feed", uint64(100+i), base.Add(time.Duration(i)*time.Second))
	}

	obs := agg.Observations(btcusd)
	require.Len(t, obs, 3)
	assert.Equal(t, uint64(107), obs[0].Price) // oldest retained
	assert.Equal(t, uint64(109), obs[2].Price)
}

func TestTWAP_UniformWeights(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	agg.Push(btcusd, "feed", 100, now.Add(-100*time.Second))
	agg.Push(btcusd, "feed", 200, now.Add(-50*time.Second))

	// each observation holds for 50s of the 100s horizon
	twap, err := agg.TWAPAt(btcusd, 100*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), twap)
}

func TestTWAP_WeightsByHoldTime(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	// 100 held 90s, 1000 held 10s: twap = (100*90 + 1000*10)/100 = 190
	agg.Push(btcusd, "feed", 100, now.Add(-100*time.Second))
	agg.Push(btcusd, "feed", 1_000, now.Add(-10*time.Second))

	twap, err := agg.TWAPAt(btcusd, 100*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(190), twap)
}

func TestTWAP_ObservationBeforeHorizonIsClipped(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	// the first observation predates the horizon; only its in-horizon part
	// weighs in
	agg.Push(btcusd, "feed", 100, now.Add(-300*time.Second))
	agg.Push(btcusd, "feed", 200, now.Add(-50*time.Second))
	agg.Push(btcusd, "feed", 400, now.Add(-25*time.Second))

	// horizon 100s, weights: 100 over [now-100, now-50] = 50s, 200 over
	// [now-50, now-25] = 25s, 400 over [now-25, now] = 25s
	// -> (100*50 + 200*25 + 400*25)/100 = 20000/100 = 200
	twap, err := agg.TWAPAt(btcusd, 100*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), twap)
}

func TestTWAP_InsufficientData(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	_, err := agg.TWAPAt(btcusd, time.Minute, now)
	assert.ErrorIs(t, err, ErrInsufficientData)

	agg.Push(btcusd, "feed", 100, now.Add(-10*time.Second))
	_, err = agg.TWAPAt(btcusd, time.Minute, now)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// two observations inside an old range, but outside the asked horizon
	agg.Push(btcusd, "feed", 200, now.Add(-50*time.Second))
	_, err = agg.TWAPAt(btcusd, 5*time.Second, now)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPush_OutOfOrderTimestamps(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	agg.Push(btcusd, "a", 200, now.Add(2*time.Second))
	agg.Push(btcusd, "b", 100, now) // late sample, still ordered in
	agg.Push(btcusd, "c", 300, now.Add(4*time.Second))

	obs := agg.Observations(btcusd)
	require.Len(t, obs, 3)
	assert.Equal(t, uint64(100), obs[0].Price)
	assert.Equal(t, uint64(200), obs[1].Price)
	assert.Equal(t, uint64(300), obs[2].Price)
}

func TestCanonicalPairSharing(t *testing.T) {
	t.Parallel()

	agg := newAgg(time.Hour)
	now := time.Now()

	agg.Push(domain.TradingPair{Base: "USD", Quote: "BTC"}, "feed", 100, now)
	agg.Push(btcusd, "feed", 200, now.Add(time.Second))

	assert.Len(t, agg.Observations(btcusd), 2)
}
