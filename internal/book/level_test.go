package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexos/internal/domain"
)

func TestSideIndex_BestOrdering(t *testing.T) {
	t.Parallel()

	bids := newSideIndex(domain.SideBuy)
	bids.add(100, 1, 10)
	bids.add(105, 2, 10)
	bids.add(95, 3, 10)

	lv, ok := bids.best()
	require.True(t, ok)
	assert.Equal(t, uint64(105), lv.price)

	asks := newSideIndex(domain.SideSell)
	asks.add(100, 1, 10)
	asks.add(105, 2, 10)
	asks.add(95, 3, 10)

	lv, ok = asks.best()
	require.True(t, ok)
	assert.Equal(t, uint64(95), lv.price)
}

func TestSideIndex_EmptyLevelRemoved(t *testing.T) {
	t.Parallel()

	s := newSideIndex(domain.SideSell)
	s.add(100, 1, 10)
	s.add(100, 2, 5)
	assert.Equal(t, 1, s.len())

	require.True(t, s.remove(100, 1, 10))
	assert.Equal(t, 1, s.len())

	// removing the last order deletes the level in the same step
	require.True(t, s.remove(100, 2, 5))
	assert.Equal(t, 0, s.len())

	_, ok := s.best()
	assert.False(t, ok)
	assert.False(t, s.remove(100, 2, 5))
}

func TestSideIndex_FIFOAndAggregate(t *testing.T) {
	t.Parallel()

	s := newSideIndex(domain.SideSell)
	s.add(100, 1, 10)
	s.add(100, 2, 20)
	s.add(100, 3, 30)

	lv, ok := s.best()
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2, 3}, lv.orders)
	assert.Equal(t, uint64(60), lv.total)

	s.reduce(100, 15)
	assert.Equal(t, uint64(45), lv.total)

	require.True(t, s.remove(100, 2, 20))
	assert.Equal(t, []uint64{1, 3}, lv.orders)
}

func TestSideIndex_Walk(t *testing.T) {
	t.Parallel()

	s := newSideIndex(domain.SideBuy)
	for p := uint64(90); p <= 99; p++ {
		s.add(p, p, 1)
	}

	var seen []uint64
	s.walk(3, func(lv *level) bool {
		seen = append(seen, lv.price)
		return true
	})
	assert.Equal(t, []uint64{99, 98, 97}, seen)
}
