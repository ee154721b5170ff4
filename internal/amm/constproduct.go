package amm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	sdkmath "cosmossdk.io/math"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/domain"
)

var (
	ErrInvalidToken          = errors.New("token not in pool")
	ErrEmptyPool             = errors.New("pool has no reserves")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrRatioMismatch         = errors.New("deposit ratio outside tolerance")
)

const bpsDenom = 10_000

// ConstantProductConfig tunes the x*y=k pool family
type ConstantProductConfig struct {
	FeeBps      uint64 // swap fee in basis points, 30 = 0.3%
	RatioTolBps uint64 // deposit ratio tolerance in basis points
}

// ConstantProduct holds every x*y=k pool, one per canonical pair.
// Reserves and LP shares are uint64 base units; products are computed on
// wide integers so the intermediate math cannot overflow
type ConstantProduct struct {
	log  logger.Logger
	cfg  ConstantProductConfig
	sink domain.EventSink

	mu    sync.Mutex
	pools map[string]*cpPool
}

// cpPool reserves are stored against the canonical pair: Base is the
// lexically smaller token
type cpPool struct {
	pair         domain.TradingPair
	reserveBase  uint64
	reserveQuote uint64
	shares       uint64
}

func NewConstantProduct(log logger.Logger, cfg ConstantProductConfig, sink domain.EventSink) *ConstantProduct {
	if cfg.RatioTolBps == 0 {
		cfg.RatioTolBps = 50 // 0.5%
	}
	if sink == nil {
		sink = domain.NopSink{}
	}

	return &ConstantProduct{
		log:   log,
		cfg:   cfg,
		sink:  sink,
		pools: make(map[string]*cpPool, 16),
	}
}

// AddLiquidity deposits amountA of pair.Base and amountB of pair.Quote.
// The first deposit sets the pool price implicitly and mints
// floor(sqrt(a*b)) shares (minimum 1). Later deposits must match the pool
// ratio within the configured tolerance or fail with ErrRatioMismatch; the
// fail-fast policy is deliberate, there is no refund path
func (c *ConstantProduct) AddLiquidity(pair domain.TradingPair, amountA, amountB uint64) (uint64, error) {
	if pair.Base == pair.Quote {
		return 0, fmt.Errorf("%w: identical tokens %s", ErrInvalidToken, pair.Base)
	}
	if amountA == 0 || amountB == 0 {
		return 0, fmt.Errorf("%w: zero deposit", ErrInsufficientLiquidity)
	}

	canon := pair.Canonical()
	amountBase, amountQuote := amountA, amountB
	if canon != pair {
		amountBase, amountQuote = amountB, amountA
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pools[canon.Key()]
	if p == nil {
		p = &cpPool{pair: canon}
		c.pools[canon.Key()] = p
	}

	var minted uint64
	if p.shares == 0 {
		minted = sqrtProduct(amountBase, amountQuote)
		if minted == 0 {
			minted = 1
		}
	} else {
		if !c.ratioWithinTolerance(p, amountBase, amountQuote) {
			return 0, fmt.Errorf("%w: pool %s", ErrRatioMismatch, canon.Key())
		}
		byBase := mulDiv(amountBase, p.shares, p.reserveBase)
		byQuote := mulDiv(amountQuote, p.shares, p.reserveQuote)
		minted = min(byBase, byQuote)
		if minted == 0 {
			return 0, fmt.Errorf("%w: deposit too small for pool %s", ErrInsufficientLiquidity, canon.Key())
		}
	}

	p.reserveBase += amountBase
	p.reserveQuote += amountQuote
	p.shares += minted

	c.sink.PoolUpdated(canon, p.reserveBase, p.reserveQuote, p.shares)
	c.log.Debugf("Liquidity added pool=%s base=%d quote=%d minted=%d", canon.Key(), amountBase, amountQuote, minted)
	return minted, nil
}

// RemoveLiquidity burns shares and returns the pro-rata reserves, rounded
// down on both legs
func (c *ConstantProduct) RemoveLiquidity(pair domain.TradingPair, shares uint64) (outBase, outQuote uint64, err error) {
	canon := pair.Canonical()

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pools[canon.Key()]
	if p == nil || p.shares == 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrEmptyPool, canon.Key())
	}
	if shares == 0 || shares > p.shares {
		return 0, 0, fmt.Errorf("%w: burn %d of %d shares", ErrInsufficientLiquidity, shares, p.shares)
	}

	outBase = mulDiv(shares, p.reserveBase, p.shares)
	outQuote = mulDiv(shares, p.reserveQuote, p.shares)

	p.reserveBase -= outBase
	p.reserveQuote -= outQuote
	p.shares -= shares

	c.sink.PoolUpdated(canon, p.reserveBase, p.reserveQuote, p.shares)
	return outBase, outQuote, nil
}

// Swap sells amountIn of fromToken against the pool. The fee is taken from
// the input before the invariant step:
//
//	out = reserveOut * in*(10000-fee) / (reserveIn*10000 + in*(10000-fee))
//
// rounded down, so k never decreases
func (c *ConstantProduct) Swap(pair domain.TradingPair, fromToken string, amountIn uint64) (uint64, error) {
	canon := pair.Canonical()

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pools[canon.Key()]
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrEmptyPool, canon.Key())
	}

	reserveIn, reserveOut, fromBase, err := p.oriented(fromToken)
	if err != nil {
		return 0, err
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyPool, canon.Key())
	}
	if amountIn == 0 {
		return 0, fmt.Errorf("%w: zero input", ErrInsufficientLiquidity)
	}

	inWithFee := sdkmath.NewIntFromUint64(amountIn).
		MulRaw(int64(bpsDenom - c.cfg.FeeBps))
	numerator := inWithFee.Mul(sdkmath.NewIntFromUint64(reserveOut))
	denominator := sdkmath.NewIntFromUint64(reserveIn).
		MulRaw(bpsDenom).
		Add(inWithFee)

	amountOut := numerator.Quo(denominator).Uint64()
	if amountOut >= reserveOut {
		return 0, fmt.Errorf("%w: output %d drains pool %s", ErrInsufficientLiquidity, amountOut, canon.Key())
	}

	if fromBase {
		p.reserveBase += amountIn
		p.reserveQuote -= amountOut
	} else {
		p.reserveQuote += amountIn
		p.reserveBase -= amountOut
	}

	c.sink.PoolUpdated(canon, p.reserveBase, p.reserveQuote, p.shares)
	c.log.Debugf("Swap pool=%s from=%s in=%d out=%d", canon.Key(), fromToken, amountIn, amountOut)
	return amountOut, nil
}

// SpotPrice is reserveOut/reserveIn. Informational only, not an executable
// quote
func (c *ConstantProduct) SpotPrice(pair domain.TradingPair, fromToken string) (float64, error) {
	canon := pair.Canonical()

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pools[canon.Key()]
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrEmptyPool, canon.Key())
	}

	reserveIn, reserveOut, _, err := p.oriented(fromToken)
	if err != nil {
		return 0, err
	}
	if reserveIn == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyPool, canon.Key())
	}

	return float64(reserveOut) / float64(reserveIn), nil
}

// PriceWithinSlippage reports whether a proposed price deviates from the
// current spot price by at most maxSlippage (ratio)
func (c *ConstantProduct) PriceWithinSlippage(pair domain.TradingPair, fromToken string, proposed, maxSlippage float64) (bool, error) {
	spot, err := c.SpotPrice(pair, fromToken)
	if err != nil {
		return false, err
	}

	impact := (spot - proposed) / spot
	if impact < 0 {
		impact = -impact
	}
	return impact <= maxSlippage, nil
}

// Reserves reports the canonical reserves and share supply of a pool
func (c *ConstantProduct) Reserves(pair domain.TradingPair) (reserveBase, reserveQuote, shares uint64, ok bool) {
	canon := pair.Canonical()

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pools[canon.Key()]
	if p == nil {
		return 0, 0, 0, false
	}
	return p.reserveBase, p.reserveQuote, p.shares, true
}

func (p *cpPool) oriented(fromToken string) (reserveIn, reserveOut uint64, fromBase bool, err error) {
	switch fromToken {
	case p.pair.Base:
		return p.reserveBase, p.reserveQuote, true, nil
	case p.pair.Quote:
		return p.reserveQuote, p.reserveBase, false, nil
	default:
		return 0, 0, false, fmt.Errorf("%w: %s not in %s", ErrInvalidToken, fromToken, p.pair.Key())
	}
}

// ratioWithinTolerance checks cross products |a*Rq - b*Rb| against the
// tolerance, avoiding any division
func (c *ConstantProduct) ratioWithinTolerance(p *cpPool, amountBase, amountQuote uint64) bool {
	crossA := sdkmath.NewIntFromUint64(amountBase).Mul(sdkmath.NewIntFromUint64(p.reserveQuote))
	crossB := sdkmath.NewIntFromUint64(amountQuote).Mul(sdkmath.NewIntFromUint64(p.reserveBase))

	diff := crossA.Sub(crossB).Abs()
	ref := sdkmath.MaxInt(crossA, crossB)
	return diff.MulRaw(bpsDenom).LTE(ref.MulRaw(int64(c.cfg.RatioTolBps)))
}

// mulDiv = floor(a*b/c) on wide integers
func mulDiv(a, b, c uint64) uint64 {
	return sdkmath.NewIntFromUint64(a).
		Mul(sdkmath.NewIntFromUint64(b)).
		Quo(sdkmath.NewIntFromUint64(c)).
		Uint64()
}

// sqrtProduct = floor(sqrt(a*b))
func sqrtProduct(a, b uint64) uint64 {
	prod := sdkmath.NewIntFromUint64(a).Mul(sdkmath.NewIntFromUint64(b))
	return new(big.Int).Sqrt(prod.BigInt()).Uint64()
}
