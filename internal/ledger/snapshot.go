package ledger

import (
	"sort"
	"time"
)

// Positions returns a snapshot of all open positions, sorted by symbol.
func (l *Ledger) Positions() []Position {
	var out []Position
	for _, sh := range l.shards {
		sh.mu.Lock()
		for _, p := range sh.open {
			out = append(out, *p)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// MonitoredSymbols returns a snapshot of active candidates, dropping
// expired ones on the way.
func (l *Ledger) MonitoredSymbols() []Monitored {
	var out []Monitored
	now := time.Now()
	for _, sh := range l.shards {
		sh.mu.Lock()
		for sym, m := range sh.watch {
			if l.watchTTL > 0 && now.Sub(m.Since) > l.watchTTL {
				delete(sh.watch, sym)
				continue
			}
			out = append(out, *m)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SellJournal returns unexpired sell records, pruning stale ones.
func (l *Ledger) SellJournal() []SellRecord {
	var out []SellRecord
	now := time.Now()
	for _, sh := range l.shards {
		sh.mu.Lock()
		for sym, rec := range sh.sold {
			if l.cooldown > 0 && now.Sub(rec.SellTime) > l.cooldown {
				delete(sh.sold, sym)
				continue
			}
			out = append(out, rec)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.open)
		sh.mu.Unlock()
	}
	return n
}

// WatchCount returns the number of monitored candidates.
func (l *Ledger) WatchCount() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.watch)
		sh.mu.Unlock()
	}
	return n
}

// Restore seeds open positions from the store on startup.
func (l *Ledger) Restore(positions []Position) {
	for _, p := range positions {
		if p.Qty <= 0 {
			continue
		}
		cp := p
		sh := l.shardFor(p.Symbol)
		sh.mu.Lock()
		sh.open[p.Symbol] = &cp
		delete(sh.watch, p.Symbol)
		sh.mu.Unlock()
	}
}

// RestoreJournal seeds the sell journal from the store on startup.
// Entries already past the cooldown are skipped.
func (l *Ledger) RestoreJournal(records []SellRecord) {
	now := time.Now()
	for _, rec := range records {
		if l.cooldown > 0 && now.Sub(rec.SellTime) > l.cooldown {
			continue
		}
		sh := l.shardFor(rec.Symbol)
		sh.mu.Lock()
		sh.sold[rec.Symbol] = rec
		sh.mu.Unlock()
	}
}
