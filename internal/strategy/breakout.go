package strategy

import (
	"fmt"

	"strategy-core/internal/ledger"
	"strategy-core/internal/series"
)

// BreakoutParams tune the breakout variant.
type BreakoutParams struct {
	MinBreakPct float64 `yaml:"min_break_pct"` // close above prior high, in percent
	StopFactor  float64 `yaml:"stop_factor"`
	TrailFactor float64 `yaml:"trail_factor"`
	TakeFactor  float64 `yaml:"take_factor"`
	MinBars     int     `yaml:"min_bars"`
}

// Breakout enters when the last closed bar is bullish and closes above
// the prior bar's high, and exits on a trailing stop.
type Breakout struct {
	p BreakoutParams
}

// NewBreakout builds the variant, applying defaults for zero parameters.
func NewBreakout(p BreakoutParams) *Breakout {
	if p.StopFactor <= 0 {
		p.StopFactor = 0.02
	}
	if p.TrailFactor <= 0 {
		p.TrailFactor = 0.015
	}
	if p.TakeFactor <= 0 {
		p.TakeFactor = 0.05
	}
	if p.MinBars <= 0 {
		p.MinBars = 20
	}
	return &Breakout{p: p}
}

func (s *Breakout) Name() string         { return "breakout" }
func (s *Breakout) UsesMonitoring() bool { return false }
func (s *Breakout) Warmup() int          { return s.p.MinBars }

func (s *Breakout) ShouldOpen(t Tick, hist []series.Candle) (Advice, bool) {
	n := len(hist)
	if n < s.Warmup() || n < 3 {
		return Advice{}, false
	}

	// hist ends with the still-forming bar; decide on the last closed
	// bar against the one before it.
	prev := hist[n-2]
	prior := hist[n-3]
	if !prev.Bullish() || prior.High <= 0 {
		return Advice{}, false
	}
	breakPct := (prev.Close - prior.High) / prior.High * 100
	if breakPct <= s.p.MinBreakPct {
		return Advice{}, false
	}

	price := t.Candle.Close
	return Advice{
		Action: ActionOpen,
		Reason: fmt.Sprintf("broke prior high by %.2f%%", breakPct),
		Stop:   price * (1 - s.p.StopFactor),
		Take:   price * (1 + s.p.TakeFactor),
	}, true
}

func (s *Breakout) ShouldClose(t Tick, hist []series.Candle, pos ledger.Position) (Advice, bool) {
	price := t.Candle.Close
	if pos.StopPrice > 0 && price <= pos.StopPrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("stop %.8f hit", pos.StopPrice)}, true
	}
	if pos.TakePrice > 0 && price >= pos.TakePrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("take %.8f hit", pos.TakePrice)}, true
	}
	return Advice{}, false
}

// Restop trails the stop under the high-water mark.
func (s *Breakout) Restop(pos ledger.Position) (stop, take float64) {
	stop = pos.AvgPrice * (1 - s.p.StopFactor)
	if trailed := pos.MaxPrice * (1 - s.p.TrailFactor); trailed > stop {
		stop = trailed
	}
	take = pos.AvgPrice * (1 + s.p.TakeFactor)
	return stop, take
}
