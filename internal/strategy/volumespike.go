package strategy

import (
	"fmt"

	"strategy-core/internal/indicators"
	"strategy-core/internal/ledger"
	"strategy-core/internal/series"
)

// VolumeSpikeParams tune the volume-spike variant.
type VolumeSpikeParams struct {
	VolumeWindow int     `yaml:"volume_window"`
	VolumeMult   float64 `yaml:"volume_mult"` // spike threshold vs rolling average
	TrendPeriod  int     `yaml:"trend_period"`
	StopFactor   float64 `yaml:"stop_factor"`
	TrailFactor  float64 `yaml:"trail_factor"`
	TakeFactor   float64 `yaml:"take_factor"`
}

// VolumeSpike enters when a bullish bar prints volume well above its
// rolling average while price holds above the trend EMA. Entries are
// confirmed through the monitoring stage.
type VolumeSpike struct {
	p VolumeSpikeParams
}

// NewVolumeSpike builds the variant, applying defaults for zero parameters.
func NewVolumeSpike(p VolumeSpikeParams) *VolumeSpike {
	if p.VolumeWindow <= 0 {
		p.VolumeWindow = 20
	}
	if p.VolumeMult <= 0 {
		p.VolumeMult = 3
	}
	if p.TrendPeriod <= 0 {
		p.TrendPeriod = 21
	}
	if p.StopFactor <= 0 {
		p.StopFactor = 0.025
	}
	if p.TrailFactor <= 0 {
		p.TrailFactor = 0.02
	}
	if p.TakeFactor <= 0 {
		p.TakeFactor = 0.06
	}
	return &VolumeSpike{p: p}
}

func (s *VolumeSpike) Name() string         { return "volume_spike" }
func (s *VolumeSpike) UsesMonitoring() bool { return true }

func (s *VolumeSpike) Warmup() int {
	if s.p.TrendPeriod > s.p.VolumeWindow+1 {
		return s.p.TrendPeriod
	}
	return s.p.VolumeWindow + 1
}

func (s *VolumeSpike) ShouldOpen(t Tick, hist []series.Candle) (Advice, bool) {
	n := len(hist)
	if n < s.Warmup() || n < 2 {
		return Advice{}, false
	}

	// Judge the spike on the last closed bar against the average of the
	// window preceding it.
	prev := hist[n-2]
	vols := series.Volumes(hist[:n-1])
	avgVol, ok := indicators.SMA(vols, s.p.VolumeWindow)
	if !ok || avgVol <= 0 {
		return Advice{}, false
	}
	if !prev.Bullish() || prev.Volume < avgVol*s.p.VolumeMult {
		return Advice{}, false
	}

	closes := series.Closes(hist)
	ema, ok := indicators.EMA(closes, s.p.TrendPeriod)
	if !ok || t.Candle.Close <= ema {
		return Advice{}, false
	}

	price := t.Candle.Close
	return Advice{
		Action: ActionOpen,
		Reason: fmt.Sprintf("volume %.1fx average on bullish bar", prev.Volume/avgVol),
		Stop:   price * (1 - s.p.StopFactor),
		Take:   price * (1 + s.p.TakeFactor),
	}, true
}

func (s *VolumeSpike) ShouldClose(t Tick, hist []series.Candle, pos ledger.Position) (Advice, bool) {
	price := t.Candle.Close
	if pos.StopPrice > 0 && price <= pos.StopPrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("stop %.8f hit", pos.StopPrice)}, true
	}
	if pos.TakePrice > 0 && price >= pos.TakePrice {
		return Advice{Action: ActionClose, Reason: fmt.Sprintf("take %.8f hit", pos.TakePrice)}, true
	}

	if len(hist) >= s.Warmup() {
		if ema, ok := indicators.EMA(series.Closes(hist), s.p.TrendPeriod); ok && price < ema {
			return Advice{Action: ActionClose, Reason: "fell below trend ema"}, true
		}
	}
	return Advice{}, false
}

// Restop trails under maxPrice once above the initial stop.
func (s *VolumeSpike) Restop(pos ledger.Position) (stop, take float64) {
	stop = pos.AvgPrice * (1 - s.p.StopFactor)
	if trailed := pos.MaxPrice * (1 - s.p.TrailFactor); trailed > stop {
		stop = trailed
	}
	take = pos.AvgPrice * (1 + s.p.TakeFactor)
	return stop, take
}
