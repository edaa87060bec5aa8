package strategy

import (
	"testing"

	"strategy-core/internal/ledger"
	"strategy-core/internal/series"
)

// flatBars returns n identical bars ending at openTime (n-1)*60s.
func flatBars(n int, price float64) []series.Candle {
	out := make([]series.Candle, n)
	for i := range out {
		out[i] = series.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i)*60_000 + 59_999,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    100,
		}
	}
	return out
}

func TestBreakoutShouldOpen(t *testing.T) {
	s := NewBreakout(BreakoutParams{MinBars: 10})

	hist := flatBars(30, 100)
	n := len(hist)
	// bar[-2] is bullish and closes above the prior bar's high.
	hist[n-2].Open = 100
	hist[n-2].High = 103
	hist[n-2].Close = 102.5
	tick := Tick{Symbol: "ABCUSDT", Candle: hist[n-1], Final: true}

	adv, ok := s.ShouldOpen(tick, hist)
	if !ok {
		t.Fatal("expected open signal on breakout bar")
	}
	if adv.Action != ActionOpen {
		t.Fatalf("Action=%s, expected OPEN", adv.Action)
	}
	if adv.Stop <= 0 || adv.Stop >= tick.Candle.Close {
		t.Fatalf("Stop=%v, expected below entry", adv.Stop)
	}
	if adv.Take <= tick.Candle.Close {
		t.Fatalf("Take=%v, expected above entry", adv.Take)
	}
}

func TestBreakoutRejectsBearishBar(t *testing.T) {
	s := NewBreakout(BreakoutParams{MinBars: 10})

	hist := flatBars(30, 100)
	n := len(hist)
	hist[n-2].Open = 103
	hist[n-2].Close = 101 // bearish even though above prior high
	tick := Tick{Symbol: "ABCUSDT", Candle: hist[n-1], Final: true}

	if _, ok := s.ShouldOpen(tick, hist); ok {
		t.Fatal("bearish bar must not open")
	}
}

func TestBreakoutRejectsShortHistory(t *testing.T) {
	s := NewBreakout(BreakoutParams{MinBars: 20})
	hist := flatBars(5, 100)
	tick := Tick{Symbol: "ABCUSDT", Candle: hist[len(hist)-1], Final: true}

	if _, ok := s.ShouldOpen(tick, hist); ok {
		t.Fatal("short history must not open")
	}
}

func TestBreakoutStopClose(t *testing.T) {
	s := NewBreakout(BreakoutParams{MinBars: 10})
	hist := flatBars(30, 80)
	tick := Tick{Symbol: "ABCUSDT", Candle: hist[len(hist)-1], Final: false}

	pos := ledger.Position{Symbol: "ABCUSDT", AvgPrice: 100, MaxPrice: 100, StopPrice: 95}
	adv, ok := s.ShouldClose(tick, hist, pos)
	if !ok || adv.Action != ActionClose {
		t.Fatalf("expected close at price 80 with stop 95, got %+v ok=%v", adv, ok)
	}
}

func TestBreakoutRestopTrails(t *testing.T) {
	s := NewBreakout(BreakoutParams{StopFactor: 0.02, TrailFactor: 0.01})

	pos := ledger.Position{AvgPrice: 100, MaxPrice: 100}
	stop, _ := s.Restop(pos)
	if stop != 99 { // trailed stop 99 beats the anchor 98
		t.Fatalf("stop=%v, expected 99", stop)
	}

	pos.MaxPrice = 120
	stop, _ = s.Restop(pos)
	if stop != 120*0.99 {
		t.Fatalf("stop=%v, expected %v", stop, 120*0.99)
	}
}
