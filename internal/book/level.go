package book

import (
	"github.com/google/btree"

	"dexos/internal/domain"
)

// level is one price point with its FIFO queue of resting order ids.
// The queue is insertion-ordered; total mirrors the sum of remaining
// quantities of the queued orders
type level struct {
	price  uint64
	orders []uint64
	total  uint64
}

// sideIndex is the sorted view over the active price levels of one book side.
// Backed by a btree so best-price peek and level insert/remove stay O(log n).
// A level with an empty queue is removed in the same step that drained it;
// no caller can ever observe a phantom level
type sideIndex struct {
	tree *btree.BTreeG[*level]
	side domain.Side
}

func newSideIndex(side domain.Side) *sideIndex {
	less := func(a, b *level) bool { return a.price < b.price }
	if side == domain.SideBuy {
		// bids iterate best-first, highest price at Min
		less = func(a, b *level) bool { return a.price > b.price }
	}
	return &sideIndex{
		tree: btree.NewG(32, less),
		side: side,
	}
}

// add enqueues an order id at price, creating the level if absent
func (s *sideIndex) add(price, orderID, qty uint64) {
	lv, ok := s.tree.Get(&level{price: price})
	if !ok {
		lv = &level{price: price}
		s.tree.ReplaceOrInsert(lv)
	}
	lv.orders = append(lv.orders, orderID)
	lv.total += qty
}

// remove drops an order id from its level; the level is deleted together
// with its last order
func (s *sideIndex) remove(price, orderID, qty uint64) bool {
	lv, ok := s.tree.Get(&level{price: price})
	if !ok {
		return false
	}

	found := false
	for i, id := range lv.orders {
		if id == orderID {
			lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}

	lv.total -= qty
	if len(lv.orders) == 0 {
		s.tree.Delete(lv)
	}
	return true
}

// reduce shrinks the aggregate after a partial fill of a queued order
func (s *sideIndex) reduce(price, qty uint64) {
	if lv, ok := s.tree.Get(&level{price: price}); ok {
		lv.total -= qty
	}
}

// best returns the most aggressive level: highest bid or lowest ask
func (s *sideIndex) best() (*level, bool) {
	return s.tree.Min()
}

// walk visits up to n levels best-first; fn returning false stops the walk
func (s *sideIndex) walk(n int, fn func(lv *level) bool) {
	seen := 0
	s.tree.Ascend(func(lv *level) bool {
		if n > 0 && seen >= n {
			return false
		}
		seen++
		return fn(lv)
	})
}

func (s *sideIndex) len() int {
	return s.tree.Len()
}
