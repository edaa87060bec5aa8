package strategy

import (
	"fmt"

	"strategy-core/internal/indicators"
	"strategy-core/internal/ledger"
	"strategy-core/internal/series"
)

// MeanRevParams tune the mean-reversion variant.
type MeanRevParams struct {
	RSIPeriod  int     `yaml:"rsi_period"`
	Oversold   float64 `yaml:"oversold"`
	ExitRSI    float64 `yaml:"exit_rsi"`
	SMAPeriod  int     `yaml:"sma_period"`
	Deviation  float64 `yaml:"deviation"` // required drop below the SMA
	StopFactor float64 `yaml:"stop_factor"`
	TakeFactor float64 `yaml:"take_factor"`
}

// MeanRev buys oversold dips below the moving average and exits when
// the oscillator recovers. Entries go through the monitoring stage: the
// dip must persist on the next closed bar before an order is placed.
type MeanRev struct {
	p MeanRevParams
}

// NewMeanRev builds the variant, applying defaults for zero parameters.
func NewMeanRev(p MeanRevParams) *MeanRev {
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.Oversold <= 0 {
		p.Oversold = 30
	}
	if p.ExitRSI <= 0 {
		p.ExitRSI = 55
	}
	if p.SMAPeriod <= 0 {
		p.SMAPeriod = 20
	}
	if p.Deviation <= 0 {
		p.Deviation = 0.02
	}
	if p.StopFactor <= 0 {
		p.StopFactor = 0.03
	}
	if p.TakeFactor <= 0 {
		p.TakeFactor = 0.025
	}
	return &MeanRev{p: p}
}

func (s *MeanRev) Name() string         { return "meanrev" }
func (s *MeanRev) UsesMonitoring() bool { return true }

func (s *MeanRev) Warmup() int {
	if s.p.SMAPeriod > s.p.RSIPeriod+1 {
		return s.p.SMAPeriod
	}
	return s.p.RSIPeriod + 1
}

func (s *MeanRev) ShouldOpen(t Tick, hist []series.Candle) (Advice, bool) {
	if len(hist) < s.Warmup() {
		return Advice{}, false
	}
	closes := series.Closes(hist)

	rsi, okR := indicators.RSI(closes, s.p.RSIPeriod)
	sma, okS := indicators.SMA(closes, s.p.SMAPeriod)
	if !okR || !okS {
		return Advice{}, false
	}

	price := t.Candle.Close
	if rsi >= s.p.Oversold || price >= sma*(1-s.p.Deviation) {
		return Advice{}, false
	}

	return Advice{
		Action: ActionOpen,
		Reason: fmt.Sprintf("rsi %.1f oversold, %.2f%% under sma", rsi, (1-price/sma)*100),
		Stop:   price * (1 - s.p.StopFactor),
		Take:   price * (1 + s.p.TakeFactor),
	}, true
}

func (s *MeanRev) ShouldClose(t Tick, hist []series.Candle, pos ledger.Position) (Advice, bool) {
	price := t.Candle.Close
	if pos.StopPrice > 0 && price <= pos.StopPrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("stop %.8f hit", pos.StopPrice)}, true
	}
	if pos.TakePrice > 0 && price >= pos.TakePrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("take %.8f hit", pos.TakePrice)}, true
	}

	if len(hist) >= s.Warmup() {
		if rsi, ok := indicators.RSI(series.Closes(hist), s.p.RSIPeriod); ok && rsi >= s.p.ExitRSI {
			return Advice{Action: ActionClose, Reason: fmt.Sprintf("rsi recovered to %.1f", rsi)}, true
		}
	}
	return Advice{}, false
}

// Restop anchors both levels to avgPrice; mean reversion does not trail.
func (s *MeanRev) Restop(pos ledger.Position) (stop, take float64) {
	return pos.AvgPrice * (1 - s.p.StopFactor), pos.AvgPrice * (1 + s.p.TakeFactor)
}
