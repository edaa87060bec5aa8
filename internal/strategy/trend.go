package strategy

import (
	"fmt"

	"strategy-core/internal/indicators"
	"strategy-core/internal/ledger"
	"strategy-core/internal/series"
)

// TrendParams tune the trend-following variant.
type TrendParams struct {
	Fast          int     `yaml:"fast"`
	Slow          int     `yaml:"slow"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIMin        float64 `yaml:"rsi_min"`
	CrossLookback int     `yaml:"cross_lookback"`
	StopFactor    float64 `yaml:"stop_factor"`    // stop distance below avgPrice
	TrailFactor   float64 `yaml:"trail_factor"`   // trailing distance below maxPrice
	TakeFactor    float64 `yaml:"take_factor"`    // take distance above avgPrice
	AverageStep   float64 `yaml:"average_step"`   // drop below avgPrice that triggers averaging
	RocketGain    float64 `yaml:"rocket_gain"`    // single-bar gain marking a rocket candidate
	Averaging     bool    `yaml:"averaging"`
}

// Trend opens when the fast EMA crosses above the slow EMA with RSI
// confirmation and rides the move with a trailing stop.
type Trend struct {
	p TrendParams
}

// NewTrend builds the variant, applying defaults for zero parameters.
func NewTrend(p TrendParams) *Trend {
	if p.Fast <= 0 {
		p.Fast = 9
	}
	if p.Slow <= p.Fast {
		p.Slow = p.Fast * 3
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.RSIMin <= 0 {
		p.RSIMin = 55
	}
	if p.CrossLookback <= 0 {
		p.CrossLookback = 3
	}
	if p.StopFactor <= 0 {
		p.StopFactor = 0.02
	}
	if p.TrailFactor <= 0 {
		p.TrailFactor = 0.015
	}
	if p.TakeFactor <= 0 {
		p.TakeFactor = 0.04
	}
	if p.AverageStep <= 0 {
		p.AverageStep = 0.03
	}
	if p.RocketGain <= 0 {
		p.RocketGain = 0.05
	}
	return &Trend{p: p}
}

func (s *Trend) Name() string         { return "trend" }
func (s *Trend) UsesMonitoring() bool { return false }

func (s *Trend) Warmup() int {
	w := s.p.Slow + s.p.CrossLookback
	if rsi := s.p.RSIPeriod + 1; rsi > w {
		w = rsi
	}
	return w
}

func (s *Trend) ShouldOpen(t Tick, hist []series.Candle) (Advice, bool) {
	if len(hist) < s.Warmup() {
		return Advice{}, false
	}
	closes := series.Closes(hist)

	fast, okF := indicators.EMALine(closes, s.p.Fast)
	slow, okS := indicators.EMALine(closes, s.p.Slow)
	if !okF || !okS {
		return Advice{}, false
	}
	if !indicators.CrossedAbove(fast, slow, s.p.Slow-1, s.p.CrossLookback) {
		return Advice{}, false
	}

	rsi, ok := indicators.RSI(closes, s.p.RSIPeriod)
	if !ok || rsi < s.p.RSIMin {
		return Advice{}, false
	}

	price := t.Candle.Close
	rocket := t.Candle.Open > 0 && (t.Candle.Close-t.Candle.Open)/t.Candle.Open >= s.p.RocketGain
	return Advice{
		Action: ActionOpen,
		Reason: fmt.Sprintf("ema %d/%d crossed up, rsi %.1f", s.p.Fast, s.p.Slow, rsi),
		Stop:   price * (1 - s.p.StopFactor),
		Take:   price * (1 + s.p.TakeFactor),
		Rocket: rocket,
	}, true
}

func (s *Trend) ShouldClose(t Tick, hist []series.Candle, pos ledger.Position) (Advice, bool) {
	price := t.Candle.Close

	if pos.StopPrice > 0 && price <= pos.StopPrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("stop %.8f hit", pos.StopPrice)}, true
	}
	if pos.TakePrice > 0 && price >= pos.TakePrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("take %.8f hit", pos.TakePrice)}, true
	}

	if len(hist) >= s.Warmup() {
		closes := series.Closes(hist)
		fast, okF := indicators.EMALine(closes, s.p.Fast)
		slow, okS := indicators.EMALine(closes, s.p.Slow)
		if okF && okS && indicators.CrossedBelow(fast, slow, s.p.Slow-1, 1) {
			return Advice{Action: ActionClose, Reason: "trend reversed"}, true
		}
	}

	if s.p.Averaging && pos.AvgPrice > 0 && price <= pos.AvgPrice*(1-s.p.AverageStep) {
		return Advice{
			Action: ActionAverage,
			Reason: fmt.Sprintf("price %.2f%% below average", s.p.AverageStep*100),
		}, true
	}
	return Advice{}, false
}

// Restop trails the stop under maxPrice once the position is in profit;
// before that the stop stays anchored to avgPrice. Rocket candidates
// use the position's own PriceDecreaseFactor when set.
func (s *Trend) Restop(pos ledger.Position) (stop, take float64) {
	trail := s.p.TrailFactor
	if pos.RocketCandidate && pos.PriceDecreaseFactor > 0 {
		trail = pos.PriceDecreaseFactor
	}

	stop = pos.AvgPrice * (1 - s.p.StopFactor)
	if trailed := pos.MaxPrice * (1 - trail); trailed > stop {
		stop = trailed
	}
	take = pos.AvgPrice * (1 + s.p.TakeFactor)
	return stop, take
}
