package amm

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/domain"
)

var (
	ErrInvalidAmplification = errors.New("amplification outside allowed range")
	ErrPoolExists           = errors.New("pool already exists")
	ErrPoolNotFound         = errors.New("pool not found")
	// Newton-Raphson failed to converge; callers must not quote and may fall
	// back to the constant-product pool
	ErrSolverDiverged = errors.New("stableswap solver diverged")
)

// solver hard cap; convergence is |delta| <= 1 in integer units
const maxSolverIterations = 255

// StableSwapConfig tunes the pegged-asset pool family
type StableSwapConfig struct {
	FeeBps uint64
	MinAmp uint64 // inclusive lower bound for A, default 1
	MaxAmp uint64 // inclusive upper bound for A, default 1_000_000
}

// StableSwap solves the Curve two-asset invariant with integer
// Newton-Raphson iteration. All intermediate math runs on wide integers, so
// results are bit-identical across platforms; rounding always favours the
// pool
type StableSwap struct {
	log  logger.Logger
	cfg  StableSwapConfig
	sink domain.EventSink

	mu    sync.Mutex
	pools map[string]*ssPool
}

type ssPool struct {
	pair         domain.TradingPair
	amp          uint64
	reserveBase  uint64
	reserveQuote uint64
	shares       uint64
}

func NewStableSwap(log logger.Logger, cfg StableSwapConfig, sink domain.EventSink) *StableSwap {
	if cfg.MinAmp == 0 {
		cfg.MinAmp = 1
	}
	if cfg.MaxAmp == 0 {
		cfg.MaxAmp = 1_000_000
	}
	if sink == nil {
		sink = domain.NopSink{}
	}

	return &StableSwap{
		log:   log,
		cfg:   cfg,
		sink:  sink,
		pools: make(map[string]*ssPool, 16),
	}
}

// CreatePool registers a pool with its amplification coefficient. A is a
// pool parameter, never a per-swap argument
func (s *StableSwap) CreatePool(pair domain.TradingPair, amplification uint64) error {
	if amplification < s.cfg.MinAmp || amplification > s.cfg.MaxAmp {
		return fmt.Errorf("%w: A=%d not in [%d,%d]", ErrInvalidAmplification, amplification, s.cfg.MinAmp, s.cfg.MaxAmp)
	}

	canon := pair.Canonical()
	if canon.Base == canon.Quote {
		return fmt.Errorf("%w: identical tokens %s", ErrInvalidToken, canon.Base)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[canon.Key()]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, canon.Key())
	}
	s.pools[canon.Key()] = &ssPool{pair: canon, amp: amplification}
	return nil
}

// Amplification reports the pool's A parameter
func (s *StableSwap) Amplification(pair domain.TradingPair) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pools[pair.Canonical().Key()]
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, pair.Canonical().Key())
	}
	return p.amp, nil
}

// AddLiquidity mints shares: geometric mean on the first deposit, invariant
// growth (D_new - D) * supply / D afterwards
func (s *StableSwap) AddLiquidity(pair domain.TradingPair, amountA, amountB uint64) (uint64, error) {
	canon := pair.Canonical()
	amountBase, amountQuote := amountA, amountB
	if canon != pair {
		amountBase, amountQuote = amountB, amountA
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pools[canon.Key()]
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, canon.Key())
	}
	if amountBase == 0 || amountQuote == 0 {
		return 0, fmt.Errorf("%w: zero deposit", ErrInsufficientLiquidity)
	}

	var minted uint64
	if p.shares == 0 {
		minted = sqrtProduct(amountBase, amountQuote)
		if minted == 0 {
			minted = 1
		}
	} else {
		d0, err := solveD(p.reserveBase, p.reserveQuote, p.amp)
		if err != nil {
			return 0, err
		}
		d1, err := solveD(p.reserveBase+amountBase, p.reserveQuote+amountQuote, p.amp)
		if err != nil {
			return 0, err
		}

		minted = d1.Sub(d0).
			Mul(sdkmath.NewIntFromUint64(p.shares)).
			Quo(d0).
			Uint64()
		if minted == 0 {
			return 0, fmt.Errorf("%w: deposit too small for pool %s", ErrInsufficientLiquidity, canon.Key())
		}
	}

	p.reserveBase += amountBase
	p.reserveQuote += amountQuote
	p.shares += minted

	s.sink.PoolUpdated(canon, p.reserveBase, p.reserveQuote, p.shares)
	return minted, nil
}

// RemoveLiquidity burns shares pro rata, rounded down on both legs
func (s *StableSwap) RemoveLiquidity(pair domain.TradingPair, shares uint64) (outBase, outQuote uint64, err error) {
	canon := pair.Canonical()

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pools[canon.Key()]
	if p == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrPoolNotFound, canon.Key())
	}
	if shares == 0 || shares > p.shares {
		return 0, 0, fmt.Errorf("%w: burn %d of %d shares", ErrInsufficientLiquidity, shares, p.shares)
	}

	outBase = mulDiv(shares, p.reserveBase, p.shares)
	outQuote = mulDiv(shares, p.reserveQuote, p.shares)

	p.reserveBase -= outBase
	p.reserveQuote -= outQuote
	p.shares -= shares

	s.sink.PoolUpdated(canon, p.reserveBase, p.reserveQuote, p.shares)
	return outBase, outQuote, nil
}

// Swap sells amountIn of fromToken. The fee is taken from the input (round
// against the trader), D is solved for the current reserves, the post-trade
// output reserve is solved for the same D, and the output is the reserve
// difference rounded down
func (s *StableSwap) Swap(pair domain.TradingPair, fromToken string, amountIn uint64) (uint64, error) {
	canon := pair.Canonical()

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pools[canon.Key()]
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, canon.Key())
	}

	var reserveIn, reserveOut uint64
	var fromBase bool
	switch fromToken {
	case p.pair.Base:
		reserveIn, reserveOut, fromBase = p.reserveBase, p.reserveQuote, true
	case p.pair.Quote:
		reserveIn, reserveOut, fromBase = p.reserveQuote, p.reserveBase, false
	default:
		return 0, fmt.Errorf("%w: %s not in %s", ErrInvalidToken, fromToken, p.pair.Key())
	}

	if reserveIn == 0 || reserveOut == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyPool, canon.Key())
	}
	if amountIn == 0 {
		return 0, fmt.Errorf("%w: zero input", ErrInsufficientLiquidity)
	}

	inWithFee := mulDiv(amountIn, bpsDenom-s.cfg.FeeBps, bpsDenom)

	d, err := solveD(reserveIn, reserveOut, p.amp)
	if err != nil {
		return 0, err
	}

	newReserveOut, err := solveY(d, reserveIn+inWithFee, p.amp)
	if err != nil {
		return 0, err
	}
	if newReserveOut >= reserveOut {
		return 0, fmt.Errorf("%w: no output for pool %s", ErrInsufficientLiquidity, canon.Key())
	}

	amountOut := reserveOut - newReserveOut

	if fromBase {
		p.reserveBase += amountIn
		p.reserveQuote -= amountOut
	} else {
		p.reserveQuote += amountIn
		p.reserveBase -= amountOut
	}

	s.sink.PoolUpdated(canon, p.reserveBase, p.reserveQuote, p.shares)
	s.log.Debugf("StableSwap pool=%s from=%s in=%d out=%d", canon.Key(), fromToken, amountIn, amountOut)
	return amountOut, nil
}

// Reserves reports the canonical reserves and share supply of a pool
func (s *StableSwap) Reserves(pair domain.TradingPair) (reserveBase, reserveQuote, shares uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pools[pair.Canonical().Key()]
	if p == nil {
		return 0, 0, 0, false
	}
	return p.reserveBase, p.reserveQuote, p.shares, true
}

// solveD computes the StableSwap invariant D for two reserves by
// Newton-Raphson on wide integers (Curve formulation, n=2, ann = A*n^n)
func solveD(x, y, amp uint64) (sdkmath.Int, error) {
	if x == 0 && y == 0 {
		return sdkmath.ZeroInt(), nil
	}
	if x == 0 {
		return sdkmath.NewIntFromUint64(y), nil
	}
	if y == 0 {
		return sdkmath.NewIntFromUint64(x), nil
	}

	xi := sdkmath.NewIntFromUint64(x)
	yi := sdkmath.NewIntFromUint64(y)
	sum := xi.Add(yi)
	ann := sdkmath.NewIntFromUint64(amp).MulRaw(4)

	d := sum
	for i := 0; i < maxSolverIterations; i++ {
		// dP = D^3 / (4*x*y)
		dP := d.Mul(d).Quo(xi.MulRaw(2))
		dP = dP.Mul(d).Quo(yi.MulRaw(2))

		prev := d
		numerator := ann.Mul(sum).Add(dP.MulRaw(2)).Mul(d)
		denominator := ann.SubRaw(1).Mul(d).Add(dP.MulRaw(3))
		d = numerator.Quo(denominator)

		if converged(d, prev) {
			return d, nil
		}
	}

	return sdkmath.Int{}, fmt.Errorf("%w: invariant after %d iterations", ErrSolverDiverged, maxSolverIterations)
}

// solveY computes the post-trade reserve of the output token given D and the
// updated input reserve x, again by Newton-Raphson
func solveY(d sdkmath.Int, x, amp uint64) (uint64, error) {
	if d.IsZero() {
		return 0, nil
	}
	if x == 0 {
		return d.Uint64(), nil
	}

	xi := sdkmath.NewIntFromUint64(x)
	ann := sdkmath.NewIntFromUint64(amp).MulRaw(4)

	// c = D^3 / (4*x*ann), b = x + D/ann
	c := d.Mul(d).Quo(xi.MulRaw(2))
	c = c.Mul(d).Quo(ann.MulRaw(2))
	b := xi.Add(d.Quo(ann))

	y := d
	for i := 0; i < maxSolverIterations; i++ {
		denominator := y.MulRaw(2).Add(b).Sub(d)
		if denominator.IsZero() {
			return 0, fmt.Errorf("%w: zero derivative", ErrSolverDiverged)
		}

		prev := y
		y = y.Mul(y).Add(c).Quo(denominator)

		if converged(y, prev) {
			return y.Uint64(), nil
		}
	}

	return 0, fmt.Errorf("%w: output reserve after %d iterations", ErrSolverDiverged, maxSolverIterations)
}

func converged(cur, prev sdkmath.Int) bool {
	return cur.Sub(prev).Abs().LTE(sdkmath.OneInt())
}
