// Package engine runs one strategy instance: it routes candles from the
// stream manager through the evaluator, drives the order gate, and owns
// the per-symbol lifecycle from monitoring through open to closed.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/coordinator"
	"strategy-core/internal/events"
	"strategy-core/internal/ledger"
	"strategy-core/internal/order"
	"strategy-core/internal/series"
	"strategy-core/internal/strategy"
	"strategy-core/internal/stream"
	"strategy-core/pkg/db"
	"strategy-core/pkg/exchange"
	"strategy-core/pkg/metrics"
)

// Store persists ledger state across restarts.
type Store interface {
	FindOpenPositions(ctx context.Context, strategy string) ([]db.Position, error)
	SaveOpenPositions(ctx context.Context, strategy string, positions []db.Position) error
	FindSellJournal(ctx context.Context, strategy string) ([]db.SellRecord, error)
	SaveSellJournal(ctx context.Context, strategy string, records []db.SellRecord) error
	SaveCandleSnapshot(ctx context.Context, c db.CandleSnapshot) error
	UpsertInstance(ctx context.Context, id, variant, interval string, quoteBudget float64) error
}

// Coordinator is the cross-strategy control plane: registration, the
// shared order budget, and the account fill feed.
type Coordinator interface {
	order.Budget
	RegisterStrategy(ctx context.Context, strategy string) error
	UnregisterStrategy(ctx context.Context, strategy string) error
	OrderBudget(ctx context.Context, strategy string) (int, error)
	SetOrderBudget(ctx context.Context, strategy string, limit int) error
	SubscribeFills(ctx context.Context, strategy string) (<-chan coordinator.FillEvent, func())
}

// Options wire one engine instance.
type Options struct {
	Log         *zap.Logger
	Config      strategy.Config
	Evaluator   strategy.Evaluator
	Exchange    exchange.Client
	Coordinator Coordinator
	Store       Store
	Bus         *events.Bus

	Universe  []string
	BatchSize int
	SeedLimit int
	Window    int

	WatchTTL           time.Duration
	Cooldown           time.Duration
	ResyncInterval     time.Duration
	CheckpointInterval time.Duration

	// RocketTrail is the trailing factor applied to rocket candidates
	// instead of the variant's default.
	RocketTrail float64
}

// Engine is one running strategy instance.
type Engine struct {
	log     *zap.Logger
	cfg     strategy.Config
	eval    strategy.Evaluator
	coord   Coordinator
	store   Store
	bus     *events.Bus
	led     *ledger.Ledger
	gate    *order.Gate
	streams *stream.Manager

	universe     map[string]bool
	universeList []string
	resyncEvery  time.Duration
	checkEvery   time.Duration
	rocketTrail  float64

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	pendingRocket map[string]bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds an engine; Start brings it live.
func New(o Options) *Engine {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = 10 * time.Minute
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = time.Minute
	}
	if o.RocketTrail <= 0 {
		o.RocketTrail = 0.1
	}

	symbols := o.Config.Symbols
	if len(symbols) == 0 {
		symbols = o.Universe
	}
	uni := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		uni[s] = true
	}

	e := &Engine{
		log:           o.Log.With(zap.String("strategy", o.Config.ID)),
		cfg:           o.Config,
		eval:          o.Evaluator,
		coord:         o.Coordinator,
		store:         o.Store,
		bus:           o.Bus,
		led:           ledger.New(o.WatchTTL, o.Cooldown),
		universe:      uni,
		universeList:  symbols,
		resyncEvery:   o.ResyncInterval,
		checkEvery:    o.CheckpointInterval,
		rocketTrail:   o.RocketTrail,
		pendingRocket: make(map[string]bool),
	}
	e.gate = order.NewGate(order.Options{
		Log:      e.log,
		Trader:   o.Exchange,
		Budget:   o.Coordinator,
		Ledger:   e.led,
		Bus:      o.Bus,
		Strategy: o.Config.ID,
		OnOpened: e.onOpened,
		OnClosed: e.onClosed,
	})
	e.streams = stream.NewManager(stream.Options{
		Log:       e.log,
		Exchange:  o.Exchange,
		Bus:       o.Bus,
		Strategy:  o.Config.ID,
		Interval:  o.Config.Interval,
		BatchSize: o.BatchSize,
		SeedLimit: o.SeedLimit,
		Window:    o.Window,
		Handler:   e.handleCandle,
	})
	return e
}

// ID returns the strategy instance id.
func (e *Engine) ID() string { return e.cfg.ID }

// Ledger exposes the position state for the operator API.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

// Streams exposes the stream inventory for the operator API.
func (e *Engine) Streams() *stream.Manager { return e.streams }

// Pending returns symbols with unresolved orders.
func (e *Engine) Pending() []string { return e.gate.Pending() }

// Start restores persisted state, registers with the coordinator, and
// opens the market-data streams.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.restore(e.ctx); err != nil {
		return err
	}
	if err := e.store.UpsertInstance(e.ctx, e.cfg.ID, e.eval.Name(), e.cfg.Interval, e.cfg.QuoteBudget); err != nil {
		e.log.Warn("instance record failed", zap.Error(err))
	}
	if err := e.coord.RegisterStrategy(e.ctx, e.cfg.ID); err != nil {
		return err
	}
	if e.cfg.OrderLimit > 0 {
		// The budget counter survives restarts; seed it only when the
		// coordinator has nothing for us yet.
		cur, err := e.coord.OrderBudget(e.ctx, e.cfg.ID)
		if err == nil && cur == 0 && e.led.OpenCount() == 0 {
			if err := e.coord.SetOrderBudget(e.ctx, e.cfg.ID, e.cfg.OrderLimit); err != nil {
				e.log.Warn("budget seed failed", zap.Error(err))
			}
		}
	}

	if err := e.streams.StartUniverse(e.ctx, e.universeList); err != nil {
		return err
	}
	for _, p := range e.led.Positions() {
		if !e.universe[p.Symbol] {
			if err := e.streams.StartPositionStream(e.ctx, p.Symbol); err != nil {
				e.log.Warn("restored position stream failed",
					zap.String("symbol", p.Symbol), zap.Error(err))
			}
		}
	}

	fills, stopFills := e.coord.SubscribeFills(e.ctx, e.cfg.ID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer stopFills()
		for {
			select {
			case <-e.ctx.Done():
				return
			case ev, ok := <-fills:
				if !ok {
					return
				}
				e.gate.OnFill(e.ctx, order.Fill{
					Symbol:    ev.Symbol,
					Side:      exchange.Side(ev.Side),
					Qty:       ev.Qty,
					Price:     ev.Price,
					OrderID:   ev.OrderID,
					TradeTime: ev.TradeTime,
				})
			}
		}
	}()

	e.wg.Add(1)
	go e.run()

	e.log.Info("engine started",
		zap.String("variant", e.eval.Name()),
		zap.Int("universe", len(e.universeList)),
		zap.Int("restored", e.led.OpenCount()))
	return nil
}

func (e *Engine) run() {
	defer e.wg.Done()
	resync := time.NewTicker(e.resyncEvery)
	checkpoint := time.NewTicker(e.checkEvery)
	defer resync.Stop()
	defer checkpoint.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-resync.C:
			if err := e.streams.StartUniverse(e.ctx, e.universeList); err != nil {
				e.log.Warn("universe resync failed", zap.Error(err))
			}
			e.streams.Resync(e.ctx, e.resyncEvery)
			if budget, err := e.coord.OrderBudget(e.ctx, e.cfg.ID); err == nil {
				e.log.Debug("order budget", zap.Int("remaining", budget))
			}
		case <-checkpoint.C:
			e.checkpoint(e.ctx)
		}
	}
}

// Shutdown unregisters, stops streams, and flushes state. Each step is
// best effort; a failing coordinator must not block the flush.
func (e *Engine) Shutdown(ctx context.Context) {
	e.stopOnce.Do(func() {
		e.log.Info("engine stopping")
		if err := e.coord.UnregisterStrategy(ctx, e.cfg.ID); err != nil {
			e.log.Warn("unregister failed", zap.Error(err))
		}
		if e.cancel != nil {
			e.cancel()
		}
		e.streams.StopAll()
		e.gate.Wait()
		e.wg.Wait()
		e.checkpoint(ctx)
		e.log.Info("engine stopped")
	})
}

// handleCandle is the per-symbol state machine entry point. It runs on
// the websocket read goroutine; everything slow happens elsewhere.
func (e *Engine) handleCandle(symbol string, c series.Candle, final bool) {
	tick := strategy.Tick{Symbol: symbol, Candle: c, Final: final}

	if pos, open := e.led.UpdateLastPrice(symbol, c.Close); open {
		e.handleOpenPosition(tick, pos)
		return
	}

	// Entries are judged on closed bars only.
	if !final {
		return
	}
	if e.led.CoolingDown(symbol) || e.gate.InFlight(symbol) {
		return
	}

	hist := e.history(symbol)
	adv, fired := e.eval.ShouldOpen(tick, hist)

	if !e.eval.UsesMonitoring() {
		if fired {
			e.open(symbol, adv)
		}
		return
	}

	if _, watching := e.led.IsMonitored(symbol); watching {
		if !fired {
			// The triggering condition invalidated; drop the candidate.
			e.led.RemoveFromMonitoring(symbol)
			metrics.MonitoredSymbols.WithLabelValues(e.cfg.ID).Set(float64(e.led.WatchCount()))
			e.log.Info("candidate invalidated", zap.String("symbol", symbol))
			return
		}
		// Signal held through a full bar: confirmed.
		e.open(symbol, adv)
		return
	}
	if fired && e.led.AddToMonitoring(symbol, c.Close, c.QuoteVolume) {
		metrics.MonitoredSymbols.WithLabelValues(e.cfg.ID).Set(float64(e.led.WatchCount()))
		e.log.Info("monitoring candidate",
			zap.String("symbol", symbol),
			zap.Float64("price", c.Close),
			zap.String("reason", adv.Reason))
	}
}

func (e *Engine) handleOpenPosition(tick strategy.Tick, pos ledger.Position) {
	stop, take := e.eval.Restop(pos)
	if p, ok := e.led.SetStops(tick.Symbol, stop, take, pos.PriceDecreaseFactor); ok {
		pos = p
	}

	adv, should := e.eval.ShouldClose(tick, e.history(tick.Symbol), pos)
	if !should {
		return
	}

	switch adv.Action {
	case strategy.ActionClose:
		metrics.SignalsTotal.WithLabelValues(e.cfg.ID, "close").Inc()
		if e.gate.TryPlaceSell(e.ctx, tick.Symbol, pos.Qty) {
			e.log.Info("closing position",
				zap.String("symbol", tick.Symbol),
				zap.String("reason", adv.Reason))
		}
	case strategy.ActionAverage:
		if !tick.Final {
			return
		}
		metrics.SignalsTotal.WithLabelValues(e.cfg.ID, "average").Inc()
		if e.gate.TryPlaceBuy(e.ctx, tick.Symbol, e.cfg.QuoteBudget) {
			e.log.Info("averaging in",
				zap.String("symbol", tick.Symbol),
				zap.String("reason", adv.Reason))
		}
	}
}

func (e *Engine) open(symbol string, adv strategy.Advice) {
	metrics.SignalsTotal.WithLabelValues(e.cfg.ID, "open").Inc()
	if adv.Rocket {
		e.mu.Lock()
		e.pendingRocket[symbol] = true
		e.mu.Unlock()
	}
	if !e.gate.TryPlaceBuy(e.ctx, symbol, e.cfg.QuoteBudget) {
		e.mu.Lock()
		delete(e.pendingRocket, symbol)
		e.mu.Unlock()
		return
	}
	e.log.Info("opening position",
		zap.String("symbol", symbol),
		zap.Float64("quote", e.cfg.QuoteBudget),
		zap.String("reason", adv.Reason))
}

// onOpened runs after a buy fill lands in the ledger.
func (e *Engine) onOpened(pos ledger.Position) {
	e.mu.Lock()
	rocket := e.pendingRocket[pos.Symbol]
	delete(e.pendingRocket, pos.Symbol)
	e.mu.Unlock()

	if rocket {
		e.led.SetRocket(pos.Symbol, true)
		pos.RocketCandidate = true
		pos.PriceDecreaseFactor = e.rocketTrail
	}
	stop, take := e.eval.Restop(pos)
	e.led.SetStops(pos.Symbol, stop, take, pos.PriceDecreaseFactor)

	if !e.universe[pos.Symbol] {
		if err := e.streams.StartPositionStream(e.ctx, pos.Symbol); err != nil {
			e.log.Warn("position stream failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}

	metrics.OpenPositions.WithLabelValues(e.cfg.ID).Set(float64(e.led.OpenCount()))
	metrics.MonitoredSymbols.WithLabelValues(e.cfg.ID).Set(float64(e.led.WatchCount()))
	e.bus.Publish(events.TopicPositionOpened, pos)
	e.checkpoint(e.ctx)
}

// onClosed runs after a sell fill removes the position.
func (e *Engine) onClosed(pos ledger.Position, f order.Fill) {
	if !e.universe[pos.Symbol] {
		e.streams.StopPositionStream(pos.Symbol)
	}

	metrics.OpenPositions.WithLabelValues(e.cfg.ID).Set(float64(e.led.OpenCount()))
	e.bus.Publish(events.TopicPositionClosed, pos)
	e.log.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.Float64("entry", pos.AvgPrice),
		zap.Float64("exit", f.Price))
	e.checkpoint(e.ctx)
}

// history returns a consistent snapshot of the symbol's series.
func (e *Engine) history(symbol string) []series.Candle {
	s := e.streams.Series(symbol)
	if s == nil {
		return nil
	}
	return s.Snapshot()
}

func (e *Engine) restore(ctx context.Context) error {
	rows, err := e.store.FindOpenPositions(ctx, e.cfg.ID)
	if err != nil {
		return err
	}
	positions := make([]ledger.Position, 0, len(rows))
	for _, r := range rows {
		positions = append(positions, ledgerPosition(r))
	}
	e.led.Restore(positions)

	journal, err := e.store.FindSellJournal(ctx, e.cfg.ID)
	if err != nil {
		return err
	}
	records := make([]ledger.SellRecord, 0, len(journal))
	for _, r := range journal {
		records = append(records, ledger.SellRecord{
			Symbol:   r.Symbol,
			Strategy: r.Strategy,
			SellTime: r.SellTime,
		})
	}
	e.led.RestoreJournal(records)

	metrics.OpenPositions.WithLabelValues(e.cfg.ID).Set(float64(len(positions)))
	if len(positions) > 0 || len(records) > 0 {
		e.log.Info("state restored",
			zap.Int("positions", len(positions)),
			zap.Int("journal", len(records)))
	}
	return nil
}

// checkpoint flushes the ledger and journal; failures are logged, the
// next tick retries.
func (e *Engine) checkpoint(ctx context.Context) {
	positions := e.led.Positions()
	rows := make([]db.Position, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, dbPosition(p))
	}
	if err := e.store.SaveOpenPositions(ctx, e.cfg.ID, rows); err != nil {
		e.log.Warn("position flush failed", zap.Error(err))
	}

	journal := e.led.SellJournal()
	records := make([]db.SellRecord, 0, len(journal))
	for _, r := range journal {
		records = append(records, db.SellRecord{
			Symbol:   r.Symbol,
			Strategy: r.Strategy,
			SellTime: r.SellTime,
		})
	}
	if err := e.store.SaveSellJournal(ctx, e.cfg.ID, records); err != nil {
		e.log.Warn("journal flush failed", zap.Error(err))
	}

	for _, p := range positions {
		s := e.streams.Series(p.Symbol)
		if s == nil {
			continue
		}
		last, ok := s.Last()
		if !ok {
			continue
		}
		snap := db.CandleSnapshot{
			Symbol:      p.Symbol,
			Strategy:    e.cfg.ID,
			OpenTime:    last.OpenTime,
			CloseTime:   last.CloseTime,
			Open:        last.Open,
			High:        last.High,
			Low:         last.Low,
			Close:       last.Close,
			Volume:      last.Volume,
			QuoteVolume: last.QuoteVolume,
			NumTrades:   last.NumTrades,
		}
		if err := e.store.SaveCandleSnapshot(ctx, snap); err != nil {
			e.log.Warn("candle snapshot failed",
				zap.String("symbol", p.Symbol), zap.Error(err))
		}
	}
}

func dbPosition(p ledger.Position) db.Position {
	return db.Position{
		Symbol:              p.Symbol,
		Strategy:            p.Strategy,
		Side:                string(p.Side),
		Qty:                 p.Qty,
		AvgPrice:            p.AvgPrice,
		MaxPrice:            p.MaxPrice,
		LastPrice:           p.LastPrice,
		StopPrice:           p.StopPrice,
		TakePrice:           p.TakePrice,
		PriceDecreaseFactor: p.PriceDecreaseFactor,
		RocketCandidate:     p.RocketCandidate,
		LastDealTime:        p.LastDealTime,
		UpdatedAt:           p.UpdatedAt,
	}
}

func ledgerPosition(p db.Position) ledger.Position {
	return ledger.Position{
		Symbol:              p.Symbol,
		Strategy:            p.Strategy,
		Side:                ledger.Side(p.Side),
		Qty:                 p.Qty,
		AvgPrice:            p.AvgPrice,
		MaxPrice:            p.MaxPrice,
		LastPrice:           p.LastPrice,
		StopPrice:           p.StopPrice,
		TakePrice:           p.TakePrice,
		PriceDecreaseFactor: p.PriceDecreaseFactor,
		RocketCandidate:     p.RocketCandidate,
		LastDealTime:        p.LastDealTime,
		UpdatedAt:           p.UpdatedAt,
	}
}
