package ledger

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func TestRecordFillAveraging(t *testing.T) {
	l := New(time.Minute, time.Minute)

	fills := []struct {
		price, qty float64
	}{
		{100, 10},
		{90, 5},
		{110, 2.5},
	}

	var sumPQ, sumQ float64
	var got Position
	for _, f := range fills {
		got = l.RecordFill("BTCUSDT", f.price, f.qty, Long, "trend")
		sumPQ += f.price * f.qty
		sumQ += f.qty
	}

	want := sumPQ / sumQ
	if math.Abs(got.AvgPrice-want) > 1e-9 {
		t.Fatalf("AvgPrice=%v, expected %v", got.AvgPrice, want)
	}
	if got.Qty != sumQ {
		t.Fatalf("Qty=%v, expected %v", got.Qty, sumQ)
	}
	if got.MaxPrice != 110 {
		t.Fatalf("MaxPrice=%v, expected 110", got.MaxPrice)
	}
}

func TestRecordFillSpecScenario(t *testing.T) {
	l := New(time.Minute, time.Minute)

	l.RecordFill("ABCUSDT", 100, 10, Long, "breakout")
	got := l.RecordFill("ABCUSDT", 90, 5, Long, "breakout")

	want := (10*100.0 + 5*90.0) / 15.0
	if math.Abs(got.AvgPrice-want) > 1e-6 {
		t.Fatalf("AvgPrice=%v, expected %v", got.AvgPrice, want)
	}
}

func TestClosePositionIdempotent(t *testing.T) {
	l := New(time.Minute, time.Minute)
	l.RecordFill("BTCUSDT", 100, 1, Long, "trend")

	p, ok := l.ClosePosition("BTCUSDT")
	if !ok || p.Qty != 1 {
		t.Fatalf("first close: ok=%v pos=%+v", ok, p)
	}
	if _, ok := l.ClosePosition("BTCUSDT"); ok {
		t.Fatal("second close must be a no-op")
	}
}

func TestUpdateLastPrice(t *testing.T) {
	l := New(time.Minute, time.Minute)

	// Tick with no open position is benign.
	if _, ok := l.UpdateLastPrice("BTCUSDT", 100); ok {
		t.Fatal("tick without position must be a no-op")
	}

	l.RecordFill("BTCUSDT", 100, 1, Long, "trend")
	p, _ := l.UpdateLastPrice("BTCUSDT", 120)
	if p.MaxPrice != 120 || p.LastPrice != 120 {
		t.Fatalf("after tick up: %+v", p)
	}
	p, _ = l.UpdateLastPrice("BTCUSDT", 80)
	if p.MaxPrice != 120 {
		t.Fatalf("maxPrice must not drop: %v", p.MaxPrice)
	}
	if p.LastPrice != 80 {
		t.Fatalf("lastPrice=%v, expected 80", p.LastPrice)
	}
}

func TestMonitoringExclusivity(t *testing.T) {
	l := New(time.Minute, time.Minute)

	if !l.AddToMonitoring("BTCUSDT", 100, 1) {
		t.Fatal("first add should succeed")
	}
	if l.AddToMonitoring("BTCUSDT", 100, 1) {
		t.Fatal("duplicate add should be rejected")
	}

	// A fill moves the symbol out of monitoring atomically.
	l.RecordFill("BTCUSDT", 100, 1, Long, "trend")
	if _, ok := l.IsMonitored("BTCUSDT"); ok {
		t.Fatal("opened symbol must not stay monitored")
	}
	if l.AddToMonitoring("BTCUSDT", 100, 1) {
		t.Fatal("opened symbol must not become monitored")
	}
}

func TestMonitoringTTLExpiry(t *testing.T) {
	l := New(10*time.Millisecond, time.Minute)
	l.AddToMonitoring("ETHUSDT", 100, 1)

	if _, ok := l.IsMonitored("ETHUSDT"); !ok {
		t.Fatal("fresh candidate should be monitored")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := l.IsMonitored("ETHUSDT"); ok {
		t.Fatal("expired candidate should be evicted on lookup")
	}
	// Eviction is a side effect: re-adding must succeed now.
	if !l.AddToMonitoring("ETHUSDT", 100, 1) {
		t.Fatal("re-add after expiry should succeed")
	}
}

func TestCooldown(t *testing.T) {
	l := New(time.Minute, 15*time.Millisecond)

	if l.CoolingDown("BTCUSDT") {
		t.Fatal("no sale recorded yet")
	}
	l.RecordSale("BTCUSDT", "trend")
	if !l.CoolingDown("BTCUSDT") {
		t.Fatal("should cool down right after a sale")
	}
	time.Sleep(30 * time.Millisecond)
	if l.CoolingDown("BTCUSDT") {
		t.Fatal("cooldown should expire lazily")
	}
	if len(l.SellJournal()) != 0 {
		t.Fatal("expired journal entries should be pruned")
	}
}

func TestConcurrentFillsIndependentSymbols(t *testing.T) {
	l := New(time.Minute, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		sym := fmt.Sprintf("SYM%dUSDT", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.RecordFill(sym, 100, 1, Long, "trend")
			}
		}()
	}
	wg.Wait()

	if got := l.OpenCount(); got != 32 {
		t.Fatalf("OpenCount=%d, expected 32", got)
	}
	for i := 0; i < 32; i++ {
		p, ok := l.Open(fmt.Sprintf("SYM%dUSDT", i))
		if !ok || p.Qty != 100 {
			t.Fatalf("position %d: ok=%v qty=%v", i, ok, p.Qty)
		}
	}
}

func TestConcurrentFillsSameSymbolLinearized(t *testing.T) {
	l := New(time.Minute, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				l.RecordFill("BTCUSDT", 100, 1, Long, "trend")
			}
		}()
	}
	wg.Wait()

	p, _ := l.Open("BTCUSDT")
	if p.Qty != 2000 {
		t.Fatalf("Qty=%v, expected 2000", p.Qty)
	}
	if math.Abs(p.AvgPrice-100) > 1e-9 {
		t.Fatalf("AvgPrice=%v, expected 100", p.AvgPrice)
	}
}

func TestRestore(t *testing.T) {
	l := New(time.Minute, time.Hour)
	l.Restore([]Position{
		{Symbol: "BTCUSDT", Strategy: "trend", Side: Long, Qty: 2, AvgPrice: 100, MaxPrice: 110},
		{Symbol: "BAD", Qty: 0}, // flat rows are skipped
	})
	l.RestoreJournal([]SellRecord{
		{Symbol: "ETHUSDT", Strategy: "trend", SellTime: time.Now()},
		{Symbol: "OLDUSDT", Strategy: "trend", SellTime: time.Now().Add(-2 * time.Hour)},
	})

	if got := l.OpenCount(); got != 1 {
		t.Fatalf("OpenCount=%d, expected 1", got)
	}
	if !l.CoolingDown("ETHUSDT") {
		t.Fatal("restored journal entry should cool down")
	}
	if l.CoolingDown("OLDUSDT") {
		t.Fatal("stale journal entry should not be restored")
	}
}
