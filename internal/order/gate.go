// Package order serializes order submission per symbol and reconciles
// fills back into the ledger. At most one order per symbol is in flight
// at any moment; the marker set by TryPlaceBuy/TryPlaceSell clears only
// when the fill lands or the submission fails.
package order

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/ledger"
	"strategy-core/pkg/exchange"
	"strategy-core/pkg/metrics"
)

// Fill is an executed trade attributed to this strategy instance.
type Fill struct {
	Symbol    string
	Side      exchange.Side
	Qty       float64
	Price     float64
	OrderID   string
	TradeTime int64
}

// Budget is the coordinator's remote order allowance. Consume reserves
// one slot before a buy goes out; Release returns it after the position
// is sold or the submission fails.
type Budget interface {
	ConsumeBudget(ctx context.Context, strategy string) (bool, error)
	ReleaseBudget(ctx context.Context, strategy string) error
}

// Options configure a Gate.
type Options struct {
	Log      *zap.Logger
	Trader   exchange.Trader
	Budget   Budget
	Ledger   *ledger.Ledger
	Bus      *events.Bus
	Strategy string

	// OnOpened runs after a buy fill is folded into the ledger, with
	// the resulting position. OnClosed runs after a sell fill removes
	// one. Both run on the fill dispatch goroutine.
	OnOpened func(ledger.Position)
	OnClosed func(ledger.Position, Fill)
}

// Gate enforces the one-in-flight-per-symbol rule.
type Gate struct {
	log      *zap.Logger
	trader   exchange.Trader
	budget   Budget
	led      *ledger.Ledger
	bus      *events.Bus
	strategy string
	onOpened func(ledger.Position)
	onClosed func(ledger.Position, Fill)

	mu       sync.Mutex
	inflight map[string]exchange.Side
	wg       sync.WaitGroup
}

func NewGate(o Options) *Gate {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return &Gate{
		log:      o.Log,
		trader:   o.Trader,
		budget:   o.Budget,
		led:      o.Ledger,
		bus:      o.Bus,
		strategy: o.Strategy,
		onOpened: o.OnOpened,
		onClosed: o.OnClosed,
		inflight: make(map[string]exchange.Side),
	}
}

// InFlight reports whether the symbol has an unresolved order.
func (g *Gate) InFlight(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[symbol]
	return ok
}

// Pending returns the symbols with unresolved orders.
func (g *Gate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.inflight))
	for s := range g.inflight {
		out = append(out, s)
	}
	return out
}

// Wait blocks until every started submission has completed. Fills may
// still be outstanding; this only drains the submit goroutines.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// claim installs the in-flight marker. The test-and-set is the
// linearization point for the one-order-per-symbol rule.
func (g *Gate) claim(symbol string, side exchange.Side) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[symbol]; ok {
		return false
	}
	g.inflight[symbol] = side
	return true
}

func (g *Gate) release(symbol string) {
	g.mu.Lock()
	delete(g.inflight, symbol)
	g.mu.Unlock()
}

// TryPlaceBuy reserves the symbol and submits a market buy spending
// quote units of the quote asset. Returns false without submitting when
// an order is already in flight. Submission itself is asynchronous; the
// caller learns the outcome through the fill feed and the event bus.
func (g *Gate) TryPlaceBuy(ctx context.Context, symbol string, quote float64) bool {
	if !g.claim(symbol, exchange.Buy) {
		metrics.OrdersTotal.WithLabelValues(g.strategy, "blocked").Inc()
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ok, err := g.budget.ConsumeBudget(ctx, g.strategy)
		if err != nil {
			g.log.Warn("budget check failed", zap.String("symbol", symbol), zap.Error(err))
			ok = false
		}
		if !ok {
			g.release(symbol)
			metrics.OrdersTotal.WithLabelValues(g.strategy, "blocked").Inc()
			g.bus.Publish(events.TopicOrderRejected, symbol)
			return
		}

		req := exchange.OrderRequest{
			Symbol:   symbol,
			Side:     exchange.Buy,
			QuoteQty: quote,
			ClientID: uuid.NewString(),
		}
		res, err := g.trader.SubmitMarketOrder(ctx, req)
		if err != nil {
			g.release(symbol)
			if rerr := g.budget.ReleaseBudget(ctx, g.strategy); rerr != nil {
				g.log.Warn("budget rollback failed", zap.Error(rerr))
			}
			metrics.OrdersTotal.WithLabelValues(g.strategy, "rejected").Inc()
			g.bus.Publish(events.TopicOrderRejected, symbol)
			g.log.Error("buy rejected", zap.String("symbol", symbol), zap.Error(err))
			return
		}

		metrics.OrdersTotal.WithLabelValues(g.strategy, "placed").Inc()
		g.bus.Publish(events.TopicOrderPlaced, symbol)
		g.log.Info("buy placed",
			zap.String("symbol", symbol),
			zap.Float64("quote", quote),
			zap.String("order_id", res.ExchangeOrderID))
	}()
	return true
}

// TryPlaceSell reserves the symbol and submits a market sell of qty
// base units. The budget slot is returned when the sell fill lands, not
// here.
func (g *Gate) TryPlaceSell(ctx context.Context, symbol string, qty float64) bool {
	if !g.claim(symbol, exchange.Sell) {
		metrics.OrdersTotal.WithLabelValues(g.strategy, "blocked").Inc()
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		req := exchange.OrderRequest{
			Symbol:   symbol,
			Side:     exchange.Sell,
			Qty:      qty,
			ClientID: uuid.NewString(),
		}
		res, err := g.trader.SubmitMarketOrder(ctx, req)
		if err != nil {
			g.release(symbol)
			metrics.OrdersTotal.WithLabelValues(g.strategy, "rejected").Inc()
			g.bus.Publish(events.TopicOrderRejected, symbol)
			g.log.Error("sell rejected", zap.String("symbol", symbol), zap.Error(err))
			return
		}

		metrics.OrdersTotal.WithLabelValues(g.strategy, "placed").Inc()
		g.bus.Publish(events.TopicOrderPlaced, symbol)
		g.log.Info("sell placed",
			zap.String("symbol", symbol),
			zap.Float64("qty", qty),
			zap.String("order_id", res.ExchangeOrderID))
	}()
	return true
}

// OnFill reconciles one fill: clears the in-flight marker, updates the
// ledger, and fires the open/close callback. A fill for a symbol with
// no ledger state (a late sell after the position is gone) is a no-op.
func (g *Gate) OnFill(ctx context.Context, f Fill) {
	g.release(f.Symbol)
	metrics.OrdersTotal.WithLabelValues(g.strategy, "filled").Inc()
	g.bus.Publish(events.TopicFill, f)

	switch f.Side {
	case exchange.Buy:
		pos := g.led.RecordFill(f.Symbol, f.Price, f.Qty, ledger.Long, g.strategy)
		g.log.Info("buy filled",
			zap.String("symbol", f.Symbol),
			zap.Float64("qty", f.Qty),
			zap.Float64("price", f.Price),
			zap.Float64("avg", pos.AvgPrice))
		if g.onOpened != nil {
			g.onOpened(pos)
		}

	case exchange.Sell:
		pos, ok := g.led.ClosePosition(f.Symbol)
		if !ok {
			g.log.Warn("sell fill for unknown position", zap.String("symbol", f.Symbol))
			return
		}
		g.led.RecordSale(f.Symbol, g.strategy)
		if err := g.budget.ReleaseBudget(ctx, g.strategy); err != nil {
			g.log.Warn("budget release failed", zap.Error(err))
		}
		g.log.Info("sell filled",
			zap.String("symbol", f.Symbol),
			zap.Float64("qty", f.Qty),
			zap.Float64("price", f.Price),
			zap.Float64("avg", pos.AvgPrice))
		if g.onClosed != nil {
			g.onClosed(pos, f)
		}

	default:
		g.log.Warn("fill with unknown side", zap.String("side", string(f.Side)))
	}
}
