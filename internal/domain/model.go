package domain

import "time"

// Side of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Kind of an order
type Kind string

const (
	KindLimit  Kind = "limit"
	KindMarket Kind = "market"
)

// Trading pair. Tokens are opaque upper-case ASCII symbols compared for equality
type TradingPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Canonical return the unordered form of the pair (lexical order);
// AMM pools and graph edges are indexed by the canonical form only
func (p TradingPair) Canonical() TradingPair {
	if p.Base > p.Quote {
		return TradingPair{Base: p.Quote, Quote: p.Base}
	}
	return p
}

// Key for map indexing, example "BTC/USD"
func (p TradingPair) Key() string {
	return p.Base + "/" + p.Quote
}

// Order in the book. Price and Quantity are uint64 base units, never floats.
// Price == 0 means "no price" and is valid only for market orders.
// Quantity is the remaining quantity while the order rests
type Order struct {
	ID        uint64      `json:"id"`
	TraderID  string      `json:"trader_id"`
	Pair      TradingPair `json:"pair"`
	Side      Side        `json:"side"`
	Kind      Kind        `json:"kind"`
	Price     uint64      `json:"price,omitempty"`
	Quantity  uint64      `json:"quantity"`
	Timestamp int64       `json:"timestamp"` // monotonic ns, ties broken by ID
}

// Trade execution. Price always equals the maker's resting price
type Trade struct {
	ID        uint64      `json:"id"`
	MakerID   uint64      `json:"maker_order_id"`
	TakerID   uint64      `json:"taker_order_id"`
	Pair      TradingPair `json:"pair"`
	Price     uint64      `json:"price"`
	Quantity  uint64      `json:"quantity"`
	Timestamp int64       `json:"timestamp"`
}

// Residual state of a taker after matching
type SubmitStatus string

const (
	StatusFullyFilled            SubmitStatus = "fully_filled"
	StatusPartiallyFilledResting SubmitStatus = "partially_filled_resting"
	StatusMarketUnfilledDropped  SubmitStatus = "market_unfilled_dropped"
)

// One aggregated price level inside a depth snapshot
type DepthLevel struct {
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// Depth snapshot for broadcast. BestBid/BestAsk are 0 when the side is empty
// (HasBid/HasAsk disambiguate a real zero price)
type DepthSnapshot struct {
	Pair      TradingPair  `json:"pair"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	BestBid   uint64       `json:"best_bid"`
	BestAsk   uint64       `json:"best_ask"`
	HasBid    bool         `json:"has_bid"`
	HasAsk    bool         `json:"has_ask"`
	Timestamp int64        `json:"ts"` // unix seconds
}

// EventSink receives the append-only engine event stream consumed by the
// persistence collaborator. Implementations must not block the hot path
type EventSink interface {
	OrderAccepted(o Order)
	TradeEmitted(t Trade)
	OrderCancelled(id uint64)
	PoolUpdated(pair TradingPair, reserveBase, reserveQuote, shares uint64)
}

// NopSink for tests and wiring without persistence
type NopSink struct{}

func (NopSink) OrderAccepted(Order)                             {}
func (NopSink) TradeEmitted(Trade)                              {}
func (NopSink) OrderCancelled(uint64)                           {}
func (NopSink) PoolUpdated(TradingPair, uint64, uint64, uint64) {}

// DepthNotifier is invoked exactly once after every successful book mutation,
// outside the book critical section
type DepthNotifier func(pair TradingPair, snapshot DepthSnapshot)

// Now in unix seconds, for depth snapshots
func Now() int64 {
	return time.Now().Unix()
}
