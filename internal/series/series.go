package series

import (
	"sort"
	"sync"
)

// Series is a bounded, append-only window of candles for one symbol.
// The last element may be the still-open bar; Append replaces it in place
// when a refresh for the same openTime arrives. All reads go through
// Snapshot so indicator computation never observes a half-written bar.
type Series struct {
	mu      sync.RWMutex
	symbol  string
	max     int
	candles []Candle
}

// New creates an empty series capped at maxLength candles.
func New(symbol string, maxLength int) *Series {
	if maxLength <= 0 {
		maxLength = 1
	}
	return &Series{
		symbol:  symbol,
		max:     maxLength,
		candles: make([]Candle, 0, maxLength),
	}
}

// Symbol returns the symbol this series tracks.
func (s *Series) Symbol() string {
	return s.symbol
}

// Append adds a candle to the window. A candle sharing the last stored
// openTime replaces it (still-open bar refresh); an older candle is
// dropped to keep the window monotonic. The oldest bar is evicted when
// the window overflows.
func (s *Series) Append(c Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.candles)
	if n > 0 {
		last := s.candles[n-1]
		switch {
		case c.OpenTime == last.OpenTime:
			s.candles[n-1] = c
			return
		case c.OpenTime < last.OpenTime:
			// Late or duplicate delivery; the window stays monotonic.
			return
		}
	}

	s.candles = append(s.candles, c)
	if len(s.candles) > s.max {
		// Evict oldest; shift instead of re-slicing to bound memory.
		copy(s.candles, s.candles[1:])
		s.candles = s.candles[:s.max]
	}
}

// Seed bulk-loads a bootstrap window, replacing any existing content.
// Input order does not matter; only the most recent maxLength candles
// are retained.
func (s *Series) Seed(candles []Candle) {
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })

	// Drop duplicate openTimes, keeping the later entry.
	dedup := sorted[:0]
	for _, c := range sorted {
		if len(dedup) > 0 && dedup[len(dedup)-1].OpenTime == c.OpenTime {
			dedup[len(dedup)-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	if len(dedup) > s.max {
		dedup = dedup[len(dedup)-s.max:]
	}

	s.mu.Lock()
	s.candles = append(s.candles[:0], dedup...)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current window, oldest first.
func (s *Series) Snapshot() []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Len returns the number of candles currently held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Last returns the most recent candle, if any.
func (s *Series) Last() (Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Closes extracts the close prices from a candle snapshot, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volumes from a candle snapshot, oldest first.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
