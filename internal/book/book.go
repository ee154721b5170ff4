package book

import (
	"errors"
	"fmt"
	"hash"
	"math"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/domain"
	"dexos/internal/merkle"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrDuplicateID  = errors.New("duplicate order id")
	ErrUnknownPair  = errors.New("unknown trading pair")
	ErrNotFound     = errors.New("order not found")
	// a level present in the index with an empty queue; a defect, never masked
	ErrInternal = errors.New("orderbook invariant violation")
)

// Config for one orderbook
type Config struct {
	Pair        domain.TradingPair
	DepthLevels int              // max levels per side in snapshots, default 20
	Hash        func() hash.Hash // merkle hash family, nil -> SHA3-256
}

// Book is a price-time priority orderbook for a single pair. All state lives
// behind one mutex; every operation appears atomic. The depth notifier and
// the event sink are invoked after the critical section releases, so
// subscribers cannot re-enter and deadlock
type Book struct {
	log      logger.Logger
	pair     domain.TradingPair
	depthN   int
	hash     func() hash.Hash
	notifier domain.DepthNotifier
	sink     domain.EventSink

	mu           sync.RWMutex
	bids         *sideIndex
	asks         *sideIndex
	orders       map[uint64]*domain.Order
	traderOrders map[string]map[uint64]struct{}
	byOrder      map[uint64][]domain.Trade
	byTrader     map[string][]domain.Trade
	tradeSeq     uint64
	batch        [][]byte       // canonical payloads committed by BatchCommit
	mempool      []domain.Order // FIFO hold-queue for batch submission
}

func NewBook(log logger.Logger, cfg Config, notifier domain.DepthNotifier, sink domain.EventSink) *Book {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 20
	}
	if sink == nil {
		sink = domain.NopSink{}
	}

	return &Book{
		log:          log,
		pair:         cfg.Pair,
		depthN:       cfg.DepthLevels,
		hash:         cfg.Hash,
		notifier:     notifier,
		sink:         sink,
		bids:         newSideIndex(domain.SideBuy),
		asks:         newSideIndex(domain.SideSell),
		orders:       make(map[uint64]*domain.Order, 1024),
		traderOrders: make(map[string]map[uint64]struct{}, 256),
		byOrder:      make(map[uint64][]domain.Trade, 1024),
		byTrader:     make(map[string][]domain.Trade, 256),
	}
}

func (b *Book) Pair() domain.TradingPair { return b.pair }

// Submit validates, matches and (for limit residuals) rests the order.
// Returns the trades emitted for this taker as a contiguous ordered sequence
func (b *Book) Submit(o domain.Order) ([]domain.Trade, domain.SubmitStatus, error) {
	if err := b.validate(&o); err != nil {
		return nil, "", err
	}

	b.mu.Lock()

	if _, exists := b.orders[o.ID]; exists {
		b.mu.Unlock()
		return nil, "", fmt.Errorf("%w: id=%d", ErrDuplicateID, o.ID)
	}

	accepted := o
	b.batch = append(b.batch, domain.EncodeOrder(accepted))

	trades := b.match(&o)
	status := b.rest(&o)

	snapshot := b.snapshotLocked(b.depthN)
	b.mu.Unlock()

	b.sink.OrderAccepted(accepted)
	for _, t := range trades {
		b.sink.TradeEmitted(t)
	}
	if b.notifier != nil {
		b.notifier(b.pair, snapshot)
	}

	b.log.Debugf("Order submitted id=%d side=%s status=%s trades=%d", o.ID, o.Side, status, len(trades))
	return trades, status, nil
}

// Cancel removes a resting order from every index in one atomic step
func (b *Book) Cancel(orderID uint64) error {
	b.mu.Lock()

	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: id=%d", ErrNotFound, orderID)
	}

	side := b.sideOf(o.Side)
	if !side.remove(o.Price, o.ID, o.Quantity) {
		b.mu.Unlock()
		return fmt.Errorf("%w: order %d indexed but missing at level %d", ErrInternal, orderID, o.Price)
	}
	b.unindexLocked(o)

	snapshot := b.snapshotLocked(b.depthN)
	b.mu.Unlock()

	b.sink.OrderCancelled(orderID)
	if b.notifier != nil {
		b.notifier(b.pair, snapshot)
	}

	b.log.Debugf("Order cancelled id=%d", orderID)
	return nil
}

// Lookup returns a snapshot of a resting order
func (b *Book) Lookup(orderID uint64) (domain.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: id=%d", ErrNotFound, orderID)
	}
	return *o, nil
}

// BestBid returns the highest resting buy price
func (b *Book) BestBid() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lv, ok := b.bids.best(); ok {
		return lv.price, true
	}
	return 0, false
}

// BestAsk returns the lowest resting sell price
func (b *Book) BestAsk() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lv, ok := b.asks.best(); ok {
		return lv.price, true
	}
	return 0, false
}

// Depth returns the top-n price levels per side with aggregate quantities
func (b *Book) Depth(n int) domain.DepthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked(n)
}

// TradesOfOrder returns the chronological trades an order participated in,
// as maker or taker. Survives order removal
func (b *Book) TradesOfOrder(orderID uint64) []domain.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Trade, len(b.byOrder[orderID]))
	copy(out, b.byOrder[orderID])
	return out
}

// TradesOfTrader returns the chronological trades of a trader
func (b *Book) TradesOfTrader(traderID string) []domain.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Trade, len(b.byTrader[traderID]))
	copy(out, b.byTrader[traderID])
	return out
}

// OrdersOfTrader returns the ids of the trader's resting orders
func (b *Book) OrdersOfTrader(traderID string) []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]uint64, 0, len(b.traderOrders[traderID]))
	for id := range b.traderOrders[traderID] {
		ids = append(ids, id)
	}
	return ids
}

// BatchCommit computes the Merkle root over the accumulated batch of
// canonical order and trade payloads, then clears the batch
func (b *Book) BatchCommit() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := merkle.Build(b.batch, b.hash)
	b.batch = nil
	return root
}

// BatchLen reports the number of uncommitted batch payloads
func (b *Book) BatchLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.batch)
}

// EnqueueMempool appends an order to the FIFO hold-queue. The queue is not
// consumed by the matching path; draining is the caller's policy
func (b *Book) EnqueueMempool(o domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mempool = append(b.mempool, o)
}

// ProcessNextFromMempool pops the oldest queued order and submits it.
// ok=false when the queue is empty
func (b *Book) ProcessNextFromMempool() (trades []domain.Trade, status domain.SubmitStatus, ok bool, err error) {
	b.mu.Lock()
	if len(b.mempool) == 0 {
		b.mu.Unlock()
		return nil, "", false, nil
	}
	o := b.mempool[0]
	b.mempool = b.mempool[1:]
	b.mu.Unlock()

	trades, status, err = b.Submit(o)
	return trades, status, true, err
}

// MempoolSize reports the number of queued transactions
func (b *Book) MempoolSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.mempool)
}

// ---- internals ----

func (b *Book) validate(o *domain.Order) error {
	if o.Quantity == 0 {
		return fmt.Errorf("%w: non-positive quantity", ErrInvalidOrder)
	}
	if o.Pair.Base == o.Pair.Quote {
		return fmt.Errorf("%w: identical base and quote token", ErrInvalidOrder)
	}
	if o.Pair != b.pair {
		return fmt.Errorf("%w: %s", ErrUnknownPair, o.Pair.Key())
	}

	switch o.Kind {
	case domain.KindLimit:
		if o.Price == 0 {
			return fmt.Errorf("%w: limit order without price", ErrInvalidOrder)
		}
		if o.Quantity > math.MaxUint64/o.Price {
			return fmt.Errorf("%w: price*quantity overflow", ErrInvalidOrder)
		}
	case domain.KindMarket:
		if o.Price != 0 {
			return fmt.Errorf("%w: market order with price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOrder, o.Kind)
	}

	switch o.Side {
	case domain.SideBuy, domain.SideSell:
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}

	if o.Timestamp == 0 {
		o.Timestamp = time.Now().UnixNano()
	}
	return nil
}

// match consumes the opposite side under price-time priority. Execution
// price is always the maker's resting price; quantity is the min of both
// remainings. Self-trade is permitted; prevention belongs to a filter layer
// above this contract
func (b *Book) match(taker *domain.Order) []domain.Trade {
	var trades []domain.Trade
	opposite := b.asks
	if taker.Side == domain.SideSell {
		opposite = b.bids
	}

	for taker.Quantity > 0 {
		lv, ok := opposite.best()
		if !ok {
			break
		}
		if !crosses(taker, lv.price) {
			break
		}
		if len(lv.orders) == 0 {
			b.log.Errorf("Empty level observed at price=%d", lv.price)
			panic(ErrInternal)
		}

		makerID := lv.orders[0]
		maker := b.orders[makerID]
		qty := min(taker.Quantity, maker.Quantity)

		b.tradeSeq++
		trade := domain.Trade{
			ID:        b.tradeSeq,
			MakerID:   makerID,
			TakerID:   taker.ID,
			Pair:      b.pair,
			Price:     maker.Price,
			Quantity:  qty,
			Timestamp: taker.Timestamp,
		}
		trades = append(trades, trade)
		b.recordTradeLocked(trade, maker.TraderID, taker.TraderID)

		taker.Quantity -= qty
		maker.Quantity -= qty
		opposite.reduce(maker.Price, qty)

		if maker.Quantity == 0 {
			// final trade and index removal happen in the same atomic step
			opposite.remove(maker.Price, makerID, 0)
			b.unindexLocked(maker)
		}
	}

	return trades
}

// rest places a limit residual on the taker's side; market residuals drop
func (b *Book) rest(o *domain.Order) domain.SubmitStatus {
	if o.Quantity == 0 {
		return domain.StatusFullyFilled
	}
	if o.Kind == domain.KindMarket {
		return domain.StatusMarketUnfilledDropped
	}

	cp := *o
	b.orders[cp.ID] = &cp
	b.sideOf(cp.Side).add(cp.Price, cp.ID, cp.Quantity)

	if b.traderOrders[cp.TraderID] == nil {
		b.traderOrders[cp.TraderID] = make(map[uint64]struct{}, 4)
	}
	b.traderOrders[cp.TraderID][cp.ID] = struct{}{}

	return domain.StatusPartiallyFilledResting
}

func (b *Book) recordTradeLocked(t domain.Trade, makerTrader, takerTrader string) {
	b.byOrder[t.MakerID] = append(b.byOrder[t.MakerID], t)
	b.byOrder[t.TakerID] = append(b.byOrder[t.TakerID], t)
	b.byTrader[makerTrader] = append(b.byTrader[makerTrader], t)
	if takerTrader != makerTrader {
		b.byTrader[takerTrader] = append(b.byTrader[takerTrader], t)
	}
	b.batch = append(b.batch, domain.EncodeTrade(t))
}

func (b *Book) unindexLocked(o *domain.Order) {
	delete(b.orders, o.ID)
	if set := b.traderOrders[o.TraderID]; set != nil {
		delete(set, o.ID)
		if len(set) == 0 {
			delete(b.traderOrders, o.TraderID)
		}
	}
}

func (b *Book) sideOf(s domain.Side) *sideIndex {
	if s == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

// crosses reports whether the taker is at least as aggressive as the maker
// level. Market orders cross any level
func crosses(taker *domain.Order, makerPrice uint64) bool {
	if taker.Kind == domain.KindMarket {
		return true
	}
	if taker.Side == domain.SideBuy {
		return taker.Price >= makerPrice
	}
	return taker.Price <= makerPrice
}
