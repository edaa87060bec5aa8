// Package stream owns the live market-data subscriptions of one
// strategy instance: the batched universe streams plus dedicated
// per-position streams, and the candle series they feed.
package stream

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/series"
	"strategy-core/pkg/exchange"
	"strategy-core/pkg/metrics"
)

// Handler receives every candle after it has been folded into the
// symbol's series. It runs on the websocket read goroutine.
type Handler func(symbol string, c series.Candle, final bool)

// Info describes one live subscription for the operator API.
type Info struct {
	Kind    string   `json:"kind"` // "batch" or "position"
	Symbols []string `json:"symbols"`
}

// Options configure a Manager.
type Options struct {
	Log       *zap.Logger
	Exchange  exchange.MarketData
	Bus       *events.Bus
	Strategy  string
	Interval  string
	BatchSize int
	SeedLimit int
	Window    int
	Handler   Handler
}

// Manager tracks which symbols are live and routes their candles.
type Manager struct {
	log       *zap.Logger
	exch      exchange.MarketData
	bus       *events.Bus
	strategy  string
	interval  string
	batchSize int
	seedLimit int
	window    int
	handler   Handler

	mu        sync.Mutex
	series    map[string]*series.Series
	batches   []*batchEntry
	positions map[string]*posEntry
	touch     map[string]*int64 // symbol -> owning stream's lastSeen
	stopped   bool
}

type batchEntry struct {
	symbols  []string
	handle   exchange.StreamHandle
	lastSeen int64 // unix nano, updated atomically on every event
}

type posEntry struct {
	handle   exchange.StreamHandle
	lastSeen int64
}

func NewManager(o Options) *Manager {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.Window <= 0 {
		o.Window = 500
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return &Manager{
		log:       o.Log,
		exch:      o.Exchange,
		bus:       o.Bus,
		strategy:  o.Strategy,
		interval:  o.Interval,
		batchSize: o.BatchSize,
		seedLimit: o.SeedLimit,
		window:    o.Window,
		handler:   o.Handler,
		series:    make(map[string]*series.Series),
		positions: make(map[string]*posEntry),
		touch:     make(map[string]*int64),
	}
}

// Series returns the symbol's series, or nil when it was never seeded.
func (m *Manager) Series(symbol string) *series.Series {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.series[symbol]
}

// Symbols returns every symbol with a live series, sorted.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.series))
	for s := range m.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) ensureSeries(symbol string) *series.Series {
	if s, ok := m.series[symbol]; ok {
		return s
	}
	s := series.New(symbol, m.window)
	m.series[symbol] = s
	return s
}

// seed backfills one symbol's series from REST history. Failures are
// logged and left to the stream to fill in; a short series only delays
// the first signal past warmup.
func (m *Manager) seed(ctx context.Context, symbol string) {
	klines, err := m.exch.Klines(ctx, symbol, m.interval, m.seedLimit)
	if err != nil {
		m.log.Warn("seed failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	bars := make([]series.Candle, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, candleFrom(k))
	}

	m.mu.Lock()
	m.ensureSeries(symbol).Seed(bars)
	m.mu.Unlock()
}

// StartUniverse seeds every symbol and opens one combined subscription
// per batch. Symbols already live are skipped.
func (m *Manager) StartUniverse(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	live := make(map[string]bool, len(m.series))
	for _, b := range m.batches {
		for _, s := range b.symbols {
			live[s] = true
		}
	}
	m.mu.Unlock()

	fresh := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" || live[s] || seen[s] {
			continue
		}
		seen[s] = true
		fresh = append(fresh, s)
	}
	if len(fresh) == 0 {
		return nil
	}

	for _, s := range fresh {
		m.seed(ctx, s)
	}

	for start := 0; start < len(fresh); start += m.batchSize {
		end := start + m.batchSize
		if end > len(fresh) {
			end = len(fresh)
		}
		batch := fresh[start:end]

		h, err := m.exch.SubscribeKlines(batch, m.interval, m.onKline)
		if err != nil {
			m.log.Error("batch subscribe failed",
				zap.Int("size", len(batch)), zap.Error(err))
			return err
		}

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			h.Close()
			return nil
		}
		e := &batchEntry{symbols: batch, handle: h, lastSeen: time.Now().UnixNano()}
		m.batches = append(m.batches, e)
		for _, s := range batch {
			m.touch[s] = &e.lastSeen
		}
		nb := len(m.batches)
		m.mu.Unlock()

		metrics.LiveStreams.WithLabelValues(m.strategy, "batch").Set(float64(nb))
		m.log.Info("batch stream opened",
			zap.Int("symbols", len(batch)), zap.Int("batches", nb))
		m.bus.Publish(events.TopicStreamChange, Info{Kind: "batch", Symbols: batch})
	}
	return nil
}

// StartPositionStream opens a dedicated stream for one symbol, seeding
// its series first if needed. No-op when the symbol already has one.
func (m *Manager) StartPositionStream(ctx context.Context, symbol string) error {
	m.mu.Lock()
	if m.stopped || m.positions[symbol] != nil {
		m.mu.Unlock()
		return nil
	}
	_, seeded := m.series[symbol]
	m.mu.Unlock()

	if !seeded {
		m.seed(ctx, symbol)
	}

	h, err := m.exch.SubscribeKlines([]string{symbol}, m.interval, m.onKline)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.stopped || m.positions[symbol] != nil {
		m.mu.Unlock()
		h.Close()
		return nil
	}
	e := &posEntry{handle: h, lastSeen: time.Now().UnixNano()}
	m.positions[symbol] = e
	m.touch[symbol] = &e.lastSeen
	n := len(m.positions)
	m.mu.Unlock()

	metrics.LiveStreams.WithLabelValues(m.strategy, "position").Set(float64(n))
	m.log.Info("position stream opened", zap.String("symbol", symbol))
	m.bus.Publish(events.TopicStreamChange, Info{Kind: "position", Symbols: []string{symbol}})
	return nil
}

// StopPositionStream closes the symbol's dedicated stream, if any.
func (m *Manager) StopPositionStream(symbol string) {
	m.mu.Lock()
	e := m.positions[symbol]
	delete(m.positions, symbol)
	n := len(m.positions)
	m.mu.Unlock()

	if e == nil {
		return
	}
	e.handle.Close()
	metrics.LiveStreams.WithLabelValues(m.strategy, "position").Set(float64(n))
	m.log.Info("position stream closed", zap.String("symbol", symbol))
}

// StopAll closes every subscription. Idempotent; the manager refuses
// new streams afterwards.
func (m *Manager) StopAll() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	batches := m.batches
	positions := m.positions
	m.batches = nil
	m.positions = make(map[string]*posEntry)
	m.touch = make(map[string]*int64)
	m.mu.Unlock()

	for _, b := range batches {
		b.handle.Close()
	}
	for _, e := range positions {
		e.handle.Close()
	}
	metrics.LiveStreams.WithLabelValues(m.strategy, "batch").Set(0)
	metrics.LiveStreams.WithLabelValues(m.strategy, "position").Set(0)
	m.log.Info("all streams stopped",
		zap.Int("batches", len(batches)), zap.Int("positions", len(positions)))
}

// Resync recovers dropped subscriptions. A stream that delivered no
// event for staleAfter is assumed dead: its handle is closed, it leaves
// the live set, and its symbols are resubscribed. Series survive, so no
// reseeding happens.
func (m *Manager) Resync(ctx context.Context, staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter).UnixNano()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	var staleBatches []*batchEntry
	kept := m.batches[:0]
	for _, b := range m.batches {
		if atomic.LoadInt64(&b.lastSeen) < cutoff {
			staleBatches = append(staleBatches, b)
			continue
		}
		kept = append(kept, b)
	}
	m.batches = kept

	var stalePositions []string
	for s, e := range m.positions {
		if atomic.LoadInt64(&e.lastSeen) < cutoff {
			stalePositions = append(stalePositions, s)
		}
	}
	m.mu.Unlock()

	for _, b := range staleBatches {
		b.handle.Close()
		m.log.Warn("stale batch stream dropped", zap.Strings("symbols", b.symbols))
		if h, err := m.exch.SubscribeKlines(b.symbols, m.interval, m.onKline); err != nil {
			m.log.Error("batch resubscribe failed", zap.Error(err))
		} else {
			m.mu.Lock()
			if m.stopped {
				m.mu.Unlock()
				h.Close()
				return
			}
			e := &batchEntry{symbols: b.symbols, handle: h, lastSeen: time.Now().UnixNano()}
			m.batches = append(m.batches, e)
			for _, s := range b.symbols {
				m.touch[s] = &e.lastSeen
			}
			m.mu.Unlock()
		}
	}
	for _, s := range stalePositions {
		m.log.Warn("stale position stream dropped", zap.String("symbol", s))
		m.StopPositionStream(s)
		if err := m.StartPositionStream(ctx, s); err != nil {
			m.log.Error("position resubscribe failed", zap.String("symbol", s), zap.Error(err))
		}
	}
}

// Inventory lists live subscriptions for the operator API.
func (m *Manager) Inventory() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.batches)+len(m.positions))
	for _, b := range m.batches {
		out = append(out, Info{Kind: "batch", Symbols: append([]string(nil), b.symbols...)})
	}
	syms := make([]string, 0, len(m.positions))
	for s := range m.positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		out = append(out, Info{Kind: "position", Symbols: []string{s}})
	}
	return out
}

// onKline folds a bar into its series and fans it out.
func (m *Manager) onKline(k exchange.Kline) {
	c := candleFrom(k)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.ensureSeries(k.Symbol).Append(c)
	seen := m.touch[k.Symbol]
	m.mu.Unlock()

	if seen != nil {
		atomic.StoreInt64(seen, time.Now().UnixNano())
	}

	metrics.CandlesTotal.WithLabelValues(m.strategy).Inc()
	m.bus.Publish(events.TopicCandle, k)
	if m.handler != nil {
		m.handler(k.Symbol, c, k.Final)
	}
}

func candleFrom(k exchange.Kline) series.Candle {
	return series.Candle{
		OpenTime:    k.OpenTime,
		CloseTime:   k.CloseTime,
		Open:        k.Open,
		High:        k.High,
		Low:         k.Low,
		Close:       k.Close,
		Volume:      k.Volume,
		QuoteVolume: k.QuoteVolume,
		NumTrades:   k.NumTrades,
	}
}
