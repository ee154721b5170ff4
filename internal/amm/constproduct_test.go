package amm

import (
	"testing"

	sdkmath "cosmossdk.io/math"
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

func newCP(feeBps uint64) *ConstantProduct {
	return NewConstantProduct(newTestLogger(), ConstantProductConfig{FeeBps: feeBps}, nil)
}

// --- tests ---

func TestFirstDeposit_GeometricMeanShares(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	shares, err := cp.AddLiquidity(btcusd, 1_000_000, 4_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), shares) // sqrt(1e6 * 4e6)

	base, quote, supply, ok := cp.Reserves(btcusd)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), base)
	assert.Equal(t, uint64(4_000_000), quote)
	assert.Equal(t, shares, supply)
}

func TestSwap_ExactArithmetic(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	_, err := cp.AddLiquidity(btcusd, 1_000_000, 50_000_000)
	require.NoError(t, err)

	const amountIn = 1_000
	out, err := cp.Swap(btcusd, "BTC", amountIn)
	require.NoError(t, err)

	// recompute with the documented integer formula
	inWithFee := sdkmath.NewInt(amountIn).MulRaw(10_000 - 30)
	expected := inWithFee.MulRaw(50_000_000).
		Quo(sdkmath.NewInt(1_000_000).MulRaw(10_000).Add(inWithFee)).
		Uint64()
	assert.Equal(t, expected, out)

	base, quote, _, ok := cp.Reserves(btcusd)
	require.True(t, ok)
	assert.Equal(t, uint64(1_001_000), base)
	assert.Equal(t, uint64(50_000_000)-out, quote)
}

func TestSwap_KNeverDecreases(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	_, err := cp.AddLiquidity(btcusd, 1_000_000, 50_000_000)
	require.NoError(t, err)

	for _, in := range []uint64{1, 999, 123_456, 5_000_000} {
		baseBefore, quoteBefore, _, _ := cp.Reserves(btcusd)
		kBefore := sdkmath.NewIntFromUint64(baseBefore).Mul(sdkmath.NewIntFromUint64(quoteBefore))

		_, err := cp.Swap(btcusd, "BTC", in)
		require.NoError(t, err)

		baseAfter, quoteAfter, _, _ := cp.Reserves(btcusd)
		kAfter := sdkmath.NewIntFromUint64(baseAfter).Mul(sdkmath.NewIntFromUint64(quoteAfter))
		assert.True(t, kAfter.GTE(kBefore), "k decreased for in=%d", in)
	}
}

func TestSwap_BothDirections(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	_, err := cp.AddLiquidity(btcusd, 1_000_000, 50_000_000)
	require.NoError(t, err)

	outUSD, err := cp.Swap(btcusd, "BTC", 1_000)
	require.NoError(t, err)
	assert.Greater(t, outUSD, uint64(0))

	outBTC, err := cp.Swap(btcusd, "USD", 50_000)
	require.NoError(t, err)
	assert.Greater(t, outBTC, uint64(0))
}

func TestSwap_Failures(t *testing.T) {
	t.Parallel()

	cp := newCP(30)

	// no pool at all
	_, err := cp.Swap(btcusd, "BTC", 100)
	assert.ErrorIs(t, err, ErrEmptyPool)

	_, err = cp.AddLiquidity(btcusd, 1_000, 1_000)
	require.NoError(t, err)

	_, err = cp.Swap(btcusd, "DOGE", 100)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = cp.Swap(btcusd, "BTC", 0)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestAddRemoveRoundTrip_LossAtMostOneUnit(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	_, err := cp.AddLiquidity(btcusd, 1_000_000, 3_000_000)
	require.NoError(t, err)

	const depositBase, depositQuote = 333_333, 999_999
	minted, err := cp.AddLiquidity(btcusd, depositBase, depositQuote)
	require.NoError(t, err)

	outBase, outQuote, err := cp.RemoveLiquidity(btcusd, minted)
	require.NoError(t, err)

	assert.LessOrEqual(t, depositBase-outBase, uint64(1))
	assert.LessOrEqual(t, depositQuote-outQuote, uint64(1))
	assert.LessOrEqual(t, outBase, uint64(depositBase))
	assert.LessOrEqual(t, outQuote, uint64(depositQuote))
}

func TestRatioMismatch(t *testing.T) {
	t.Parallel()

	cp := NewConstantProduct(newTestLogger(), ConstantProductConfig{FeeBps: 30, RatioTolBps: 50}, nil)
	_, err := cp.AddLiquidity(btcusd, 1_000_000, 1_000_000)
	require.NoError(t, err)

	// 2:1 against a 1:1 pool is far outside 0.5% tolerance
	_, err = cp.AddLiquidity(btcusd, 200_000, 100_000)
	assert.ErrorIs(t, err, ErrRatioMismatch)

	// matching ratio passes
	_, err = cp.AddLiquidity(btcusd, 100_000, 100_000)
	assert.NoError(t, err)
}

func TestRemoveLiquidity_Bounds(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	shares, err := cp.AddLiquidity(btcusd, 10_000, 10_000)
	require.NoError(t, err)

	_, _, err = cp.RemoveLiquidity(btcusd, shares+1)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, _, err = cp.RemoveLiquidity(domain.TradingPair{Base: "ETH", Quote: "USD"}, 1)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestSpotPrice(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	_, err := cp.AddLiquidity(btcusd, 1_000, 50_000_000)
	require.NoError(t, err)

	price, err := cp.SpotPrice(btcusd, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 50_000.0, price, 0.0001)

	inverse, err := cp.SpotPrice(btcusd, "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/50_000.0, inverse, 1e-9)
}

func TestPriceWithinSlippage(t *testing.T) {
	t.Parallel()

	cp := newCP(30)
	_, err := cp.AddLiquidity(domain.TradingPair{Base: "DAI", Quote: "USDC"}, 1_000_000, 1_000_000)
	require.NoError(t, err)

	pair := domain.TradingPair{Base: "DAI", Quote: "USDC"}
	ok, err := cp.PriceWithinSlippage(pair, "DAI", 1.0, 0.01)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cp.PriceWithinSlippage(pair, "DAI", 1.5, 0.01)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPairOrientation_CanonicalIndexing(t *testing.T) {
	t.Parallel()

	cp := newCP(30)

	// deposit through the reversed pair lands in the same canonical pool
	reversed := domain.TradingPair{Base: "USD", Quote: "BTC"}
	_, err := cp.AddLiquidity(reversed, 50_000_000, 1_000_000) // 50M USD, 1M BTC
	require.NoError(t, err)

	base, quote, _, ok := cp.Reserves(btcusd)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), base)   // BTC
	assert.Equal(t, uint64(50_000_000), quote) // USD
}
