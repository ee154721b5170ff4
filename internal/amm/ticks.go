package amm

import (
	"fmt"
	"sort"
	"sync"

	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/domain"
)

// TickStore is the authoritative concentrated-liquidity data model: per
// canonical pair a sparse map from signed tick index to liquidity amount.
// Swap execution through ticks is not performed here
type TickStore struct {
	log logger.Logger

	mu    sync.RWMutex
	pairs map[string]map[int32]uint64
}

func NewTickStore(log logger.Logger) *TickStore {
	return &TickStore{
		log:   log,
		pairs: make(map[string]map[int32]uint64, 16),
	}
}

// AddLiquidityAt increments the tick's liquidity, creating the entry if
// absent
func (t *TickStore) AddLiquidityAt(pair domain.TradingPair, tick int32, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInsufficientLiquidity)
	}

	key := pair.Canonical().Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	ticks := t.pairs[key]
	if ticks == nil {
		ticks = make(map[int32]uint64, 64)
		t.pairs[key] = ticks
	}
	ticks[tick] += amount
	t.log.Debugf("Tick liquidity pair=%s tick=%d total=%d", key, tick, ticks[tick])
	return nil
}

// RemoveLiquidityAt decrements the tick's liquidity; the entry is deleted
// when it reaches zero
func (t *TickStore) RemoveLiquidityAt(pair domain.TradingPair, tick int32, amount uint64) error {
	key := pair.Canonical().Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	ticks := t.pairs[key]
	current := ticks[tick]
	if amount > current {
		return fmt.Errorf("%w: remove %d from tick %d holding %d", ErrInsufficientLiquidity, amount, tick, current)
	}

	if amount == current {
		delete(ticks, tick)
		if len(ticks) == 0 {
			delete(t.pairs, key)
		}
	} else {
		ticks[tick] = current - amount
	}
	return nil
}

// AddLiquidityRange adds the full amount to every tick in [lower, upper)
func (t *TickStore) AddLiquidityRange(pair domain.TradingPair, lower, upper int32, amount uint64) error {
	if lower >= upper {
		return fmt.Errorf("%w: empty tick range [%d,%d)", ErrInsufficientLiquidity, lower, upper)
	}

	for tick := lower; tick < upper; tick++ {
		if err := t.AddLiquidityAt(pair, tick, amount); err != nil {
			return err
		}
	}
	return nil
}

// RemoveLiquidityRange removes amount from every tick in [lower, upper).
// Fails on the first underflowing tick; earlier ticks stay decremented, the
// caller owns range consistency
func (t *TickStore) RemoveLiquidityRange(pair domain.TradingPair, lower, upper int32, amount uint64) error {
	if lower >= upper {
		return fmt.Errorf("%w: empty tick range [%d,%d)", ErrInsufficientLiquidity, lower, upper)
	}

	for tick := lower; tick < upper; tick++ {
		if err := t.RemoveLiquidityAt(pair, tick, amount); err != nil {
			return err
		}
	}
	return nil
}

// LiquidityAt returns the liquidity at a tick, zero for absent ticks
func (t *TickStore) LiquidityAt(pair domain.TradingPair, tick int32) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pairs[pair.Canonical().Key()][tick]
}

// ActiveTicks returns the ticks with nonzero liquidity in ascending order
func (t *TickStore) ActiveTicks(pair domain.TradingPair) []int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ticks := t.pairs[pair.Canonical().Key()]
	out := make([]int32, 0, len(ticks))
	for tick := range ticks {
		out = append(out, tick)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
