package book

import "dexos/internal/domain"

// snapshotLocked builds a depth snapshot under the caller's lock. n bounds
// the number of levels per side; the copy cost stays proportional to n
func (b *Book) snapshotLocked(n int) domain.DepthSnapshot {
	snap := domain.DepthSnapshot{
		Pair:      b.pair,
		Bids:      make([]domain.DepthLevel, 0, n),
		Asks:      make([]domain.DepthLevel, 0, n),
		Timestamp: domain.Now(),
	}

	b.bids.walk(n, func(lv *level) bool {
		snap.Bids = append(snap.Bids, domain.DepthLevel{Price: lv.price, Quantity: lv.total})
		return true
	})
	b.asks.walk(n, func(lv *level) bool {
		snap.Asks = append(snap.Asks, domain.DepthLevel{Price: lv.price, Quantity: lv.total})
		return true
	})

	if lv, ok := b.bids.best(); ok {
		snap.BestBid = lv.price
		snap.HasBid = true
	}
	if lv, ok := b.asks.best(); ok {
		snap.BestAsk = lv.price
		snap.HasAsk = true
	}

	return snap
}
