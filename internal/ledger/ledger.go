// Package ledger is the concurrent store of opened positions, monitored
// candidates, and the sell journal for one strategy instance.
//
// State is sharded by symbol so unrelated symbols never contend; every
// mutator runs inside the owning shard's critical section, which makes
// the monitored/opened exclusivity invariant atomic per symbol.
package ledger

import (
	"hash/fnv"
	"sync"
	"time"
)

// Side of an opened position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Position is an opened position. Qty is always > 0 while the position
// exists; AvgPrice is the quantity-weighted mean of all contributing
// fills; MaxPrice never drops below an observed LastPrice.
type Position struct {
	Symbol              string
	Strategy            string
	Side                Side
	Qty                 float64
	AvgPrice            float64
	MaxPrice            float64
	LastPrice           float64
	StopPrice           float64
	TakePrice           float64
	PriceDecreaseFactor float64
	RocketCandidate     bool
	LastDealTime        time.Time
	UpdatedAt           time.Time
}

// Monitored is a candidate: the signal fired and the symbol is waiting
// for confirmation or ranking among competitors.
type Monitored struct {
	Symbol string
	Price  float64
	Since  time.Time
	Weight float64
}

// SellRecord suppresses re-entry on a symbol for the cooldown window.
type SellRecord struct {
	Symbol   string
	Strategy string
	SellTime time.Time
}

const numShards = 16

type shard struct {
	mu    sync.Mutex
	open  map[string]*Position
	watch map[string]*Monitored
	sold  map[string]SellRecord
}

// Ledger holds per-strategy position state.
type Ledger struct {
	shards   [numShards]*shard
	watchTTL time.Duration
	cooldown time.Duration
}

// New creates an empty ledger. watchTTL bounds the monitoring stage,
// cooldown bounds sell-journal suppression.
func New(watchTTL, cooldown time.Duration) *Ledger {
	l := &Ledger{watchTTL: watchTTL, cooldown: cooldown}
	for i := range l.shards {
		l.shards[i] = &shard{
			open:  make(map[string]*Position),
			watch: make(map[string]*Monitored),
			sold:  make(map[string]SellRecord),
		}
	}
	return l
}

func (l *Ledger) shardFor(symbol string) *shard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return l.shards[h.Sum32()%numShards]
}

// RecordFill applies a buy fill. The first fill creates the position
// with avgPrice = price and maxPrice = price; later fills fold into the
// weighted average. The symbol leaves the monitoring stage in the same
// critical section.
func (l *Ledger) RecordFill(symbol string, price, qty float64, side Side, strategy string) Position {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	delete(sh.watch, symbol)

	p, ok := sh.open[symbol]
	if !ok {
		p = &Position{
			Symbol:       symbol,
			Strategy:     strategy,
			Side:         side,
			Qty:          qty,
			AvgPrice:     price,
			MaxPrice:     price,
			LastPrice:    price,
			LastDealTime: now,
			UpdatedAt:    now,
		}
		sh.open[symbol] = p
		return *p
	}

	total := p.Qty + qty
	p.AvgPrice = (p.AvgPrice*p.Qty + price*qty) / total
	p.Qty = total
	p.LastPrice = price
	if price > p.MaxPrice {
		p.MaxPrice = price
	}
	p.LastDealTime = now
	p.UpdatedAt = now
	return *p
}

// ClosePosition atomically removes and returns the position. The second
// close of the same symbol is a no-op; callers must tolerate ok=false.
func (l *Ledger) ClosePosition(symbol string) (Position, bool) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.open[symbol]
	if !ok {
		return Position{}, false
	}
	delete(sh.open, symbol)
	return *p, true
}

// UpdateLastPrice records a market tick against an open position,
// raising maxPrice when exceeded. A tick for a symbol with no position
// is expected after close and is a no-op.
func (l *Ledger) UpdateLastPrice(symbol string, price float64) (Position, bool) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.open[symbol]
	if !ok {
		return Position{}, false
	}
	p.LastPrice = price
	if price > p.MaxPrice {
		p.MaxPrice = price
	}
	p.UpdatedAt = time.Now()
	return *p, true
}

// SetStops applies a strategy recomputation of the derived levels.
func (l *Ledger) SetStops(symbol string, stop, take, priceDecreaseFactor float64) (Position, bool) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.open[symbol]
	if !ok {
		return Position{}, false
	}
	p.StopPrice = stop
	p.TakePrice = take
	if priceDecreaseFactor > 0 {
		p.PriceDecreaseFactor = priceDecreaseFactor
	}
	p.UpdatedAt = time.Now()
	return *p, true
}

// SetRocket flags a position as a rocket candidate.
func (l *Ledger) SetRocket(symbol string, v bool) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if p, ok := sh.open[symbol]; ok {
		p.RocketCandidate = v
	}
}

// Open returns the open position for a symbol, if any.
func (l *Ledger) Open(symbol string) (Position, bool) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if p, ok := sh.open[symbol]; ok {
		return *p, true
	}
	return Position{}, false
}

// AddToMonitoring registers a candidate. A symbol with an open position
// is never added: monitored and opened are mutually exclusive.
func (l *Ledger) AddToMonitoring(symbol string, price, weight float64) bool {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, opened := sh.open[symbol]; opened {
		return false
	}
	if _, watching := sh.watch[symbol]; watching {
		return false
	}
	sh.watch[symbol] = &Monitored{
		Symbol: symbol,
		Price:  price,
		Since:  time.Now(),
		Weight: weight,
	}
	return true
}

// IsMonitored reports whether the symbol is an active candidate. An
// entry past the TTL is evicted as a side effect of the check; there is
// no separate sweeper.
func (l *Ledger) IsMonitored(symbol string) (Monitored, bool) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	m, ok := sh.watch[symbol]
	if !ok {
		return Monitored{}, false
	}
	if l.watchTTL > 0 && time.Since(m.Since) > l.watchTTL {
		delete(sh.watch, symbol)
		return Monitored{}, false
	}
	return *m, true
}

// RemoveFromMonitoring drops a candidate, e.g. when its triggering
// condition invalidates.
func (l *Ledger) RemoveFromMonitoring(symbol string) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.watch, symbol)
}

// RecordSale journals a completed exit so the signal is not re-entered
// during the cooldown window.
func (l *Ledger) RecordSale(symbol, strategy string) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sold[symbol] = SellRecord{Symbol: symbol, Strategy: strategy, SellTime: time.Now()}
}

// CoolingDown reports whether the symbol sold recently. Expired journal
// entries are pruned lazily on lookup.
func (l *Ledger) CoolingDown(symbol string) bool {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.sold[symbol]
	if !ok {
		return false
	}
	if l.cooldown > 0 && time.Since(rec.SellTime) > l.cooldown {
		delete(sh.sold, symbol)
		return false
	}
	return true
}
