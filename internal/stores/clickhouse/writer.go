package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/config"
	"dexos/internal/domain"
)

// EventRow is the flattened append-only form of one engine event. Unused
// columns stay at their zero value; EventType discriminates
type EventRow struct {
	EventTime    time.Time
	EventType    string // order_accepted|trade_emitted|order_cancelled|pool_updated
	Pair         string
	OrderID      uint64
	TraderID     string
	Side         string
	Kind         string
	Price        uint64
	Quantity     uint64
	TradeID      uint64
	MakerID      uint64
	TakerID      uint64
	ReserveBase  uint64
	ReserveQuote uint64
	Shares       uint64
}

// Writer journals the engine event stream into ClickHouse in batches. It
// implements domain.EventSink; enqueueing never blocks the matching path -
// on a full buffer the row is dropped and logged, replay consistency is the
// persistence consumer's concern
type Writer struct {
	log logger.Logger

	conn ch.Conn
	cfg  config.ClickHouseConfig

	inCh      chan EventRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, cfg config.ClickHouseConfig, conn ch.Conn) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 1000
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = 200 * time.Millisecond
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		cfg:      cfg,
		inCh:     make(chan EventRow, 8192),
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

// domain.EventSink

func (w *Writer) OrderAccepted(o domain.Order) {
	w.enqueue(EventRow{
		EventTime: time.Now().UTC(),
		EventType: "order_accepted",
		Pair:      o.Pair.Key(),
		OrderID:   o.ID,
		TraderID:  o.TraderID,
		Side:      string(o.Side),
		Kind:      string(o.Kind),
		Price:     o.Price,
		Quantity:  o.Quantity,
	})
}

func (w *Writer) TradeEmitted(t domain.Trade) {
	w.enqueue(EventRow{
		EventTime: time.Now().UTC(),
		EventType: "trade_emitted",
		Pair:      t.Pair.Key(),
		TradeID:   t.ID,
		MakerID:   t.MakerID,
		TakerID:   t.TakerID,
		Price:     t.Price,
		Quantity:  t.Quantity,
	})
}

func (w *Writer) OrderCancelled(id uint64) {
	w.enqueue(EventRow{
		EventTime: time.Now().UTC(),
		EventType: "order_cancelled",
		OrderID:   id,
	})
}

func (w *Writer) PoolUpdated(pair domain.TradingPair, reserveBase, reserveQuote, shares uint64) {
	w.enqueue(EventRow{
		EventTime:    time.Now().UTC(),
		EventType:    "pool_updated",
		Pair:         pair.Key(),
		ReserveBase:  reserveBase,
		ReserveQuote: reserveQuote,
		Shares:       shares,
	})
}

func (w *Writer) enqueue(row EventRow) {
	select {
	case <-w.closedCh:
		return
	default:
	}

	select {
	case w.inCh <- row:
	default:
		w.log.Errorf("Event buffer full, dropping %s row", row.EventType)
	}
}

func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
		close(w.inCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) Health(ctx context.Context) error {
	if w.conn == nil {
		return errors.New("clickhouse connection is nil")
	}
	return w.conn.Ping(ctx)
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]EventRow, 0, w.cfg.Writer.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed insert [%d] rows by batch to clickhouse, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}

			batch = append(batch, row)
			if len(batch) >= w.cfg.Writer.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	// repeat with exponential delay
	backoff := w.cfg.Writer.RetryBackoff

	var lastErr error

	for attempt := 0; attempt <= w.cfg.Writer.MaxRetries; attempt++ {
		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO engine_events (
				event_time,
				event_type,
				pair,
				order_id,
				trader_id,
				side,
				kind,
				price,
				quantity,
				trade_id,
				maker_order_id,
				taker_order_id,
				reserve_base,
				reserve_quote,
				lp_shares
			)
		`)
		if err != nil {
			lastErr = err
			goto retry
		}

		for i := range rows {
			r := &rows[i]
			if err = batch.Append(
				r.EventTime,
				r.EventType,
				r.Pair,
				r.OrderID,
				r.TraderID,
				r.Side,
				r.Kind,
				r.Price,
				r.Quantity,
				r.TradeID,
				r.MakerID,
				r.TakerID,
				r.ReserveBase,
				r.ReserveQuote,
				r.Shares,
			); err != nil {
				lastErr = err
				_ = batch.Abort()
				goto retry
			}
		}

		if err = batch.Send(); err != nil {
			lastErr = err
			goto retry
		}
		// success
		return nil

	retry:
		if attempt == w.cfg.Writer.MaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}
