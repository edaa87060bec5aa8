package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/ledger"
	"strategy-core/pkg/exchange"
)

type fakeTrader struct {
	mu     sync.Mutex
	reqs   []exchange.OrderRequest
	err    error
	submit chan struct{} // closed requests block until released when set
}

func (f *fakeTrader) SubmitMarketOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if f.submit != nil {
		<-f.submit
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return exchange.OrderResult{ExchangeOrderID: "1", Status: "FILLED"}, nil
}

func (f *fakeTrader) requests() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest(nil), f.reqs...)
}

type fakeBudget struct {
	mu       sync.Mutex
	slots    int
	released int
}

func (f *fakeBudget) ConsumeBudget(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.slots <= 0 {
		return false, nil
	}
	f.slots--
	return true, nil
}

func (f *fakeBudget) ReleaseBudget(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots++
	f.released++
	return nil
}

func newTestGate(tr *fakeTrader, b *fakeBudget) (*Gate, *ledger.Ledger) {
	led := ledger.New(time.Minute, time.Hour)
	g := NewGate(Options{
		Log:      zap.NewNop(),
		Trader:   tr,
		Budget:   b,
		Ledger:   led,
		Bus:      events.NewBus(),
		Strategy: "test",
	})
	return g, led
}

func TestBuySingleWinnerPerSymbol(t *testing.T) {
	tr := &fakeTrader{}
	g, _ := newTestGate(tr, &fakeBudget{slots: 10})

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryPlaceBuy(context.Background(), "BTCUSDT", 50) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	g.Wait()

	if wins != 1 {
		t.Fatalf("%d claims won for one symbol, expected 1", wins)
	}
	if len(tr.requests()) != 1 {
		t.Fatalf("%d orders submitted, expected 1", len(tr.requests()))
	}
	if !g.InFlight("BTCUSDT") {
		t.Fatal("marker must persist until the fill")
	}
}

func TestBuyBlockedWithoutBudget(t *testing.T) {
	tr := &fakeTrader{}
	g, _ := newTestGate(tr, &fakeBudget{slots: 0})

	if !g.TryPlaceBuy(context.Background(), "BTCUSDT", 50) {
		t.Fatal("claim should succeed before the budget check")
	}
	g.Wait()

	if len(tr.requests()) != 0 {
		t.Fatal("order submitted with no budget")
	}
	if g.InFlight("BTCUSDT") {
		t.Fatal("marker must clear when the budget denies")
	}
}

func TestBuyRejectionRollsBackBudget(t *testing.T) {
	tr := &fakeTrader{err: errors.New("insufficient balance")}
	b := &fakeBudget{slots: 1}
	g, _ := newTestGate(tr, b)

	g.TryPlaceBuy(context.Background(), "BTCUSDT", 50)
	g.Wait()

	if b.slots != 1 {
		t.Fatalf("budget slots=%d after rollback, expected 1", b.slots)
	}
	if g.InFlight("BTCUSDT") {
		t.Fatal("marker must clear on rejection")
	}

	// The slot is usable again.
	tr.mu.Lock()
	tr.err = nil
	tr.mu.Unlock()
	g.TryPlaceBuy(context.Background(), "BTCUSDT", 50)
	g.Wait()
	if len(tr.requests()) != 2 {
		t.Fatalf("%d submissions, expected 2", len(tr.requests()))
	}
}

func TestBuyFillOpensPosition(t *testing.T) {
	tr := &fakeTrader{}
	g, led := newTestGate(tr, &fakeBudget{slots: 1})

	var opened []ledger.Position
	g.onOpened = func(p ledger.Position) { opened = append(opened, p) }

	g.TryPlaceBuy(context.Background(), "BTCUSDT", 50)
	g.Wait()

	g.OnFill(context.Background(), Fill{Symbol: "BTCUSDT", Side: exchange.Buy, Qty: 0.001, Price: 50_000})

	if g.InFlight("BTCUSDT") {
		t.Fatal("fill must clear the marker")
	}
	pos, ok := led.Open("BTCUSDT")
	if !ok || pos.Qty != 0.001 || pos.AvgPrice != 50_000 {
		t.Fatalf("position %+v ok=%v", pos, ok)
	}
	if len(opened) != 1 {
		t.Fatalf("OnOpened fired %d times", len(opened))
	}
}

func TestSellFillClosesAndReleasesBudget(t *testing.T) {
	tr := &fakeTrader{}
	b := &fakeBudget{slots: 1}
	g, led := newTestGate(tr, b)

	var closed []ledger.Position
	g.onClosed = func(p ledger.Position, _ Fill) { closed = append(closed, p) }

	led.RecordFill("BTCUSDT", 50_000, 0.001, ledger.Long, "test")

	if !g.TryPlaceSell(context.Background(), "BTCUSDT", 0.001) {
		t.Fatal("sell claim failed")
	}
	if g.TryPlaceSell(context.Background(), "BTCUSDT", 0.001) {
		t.Fatal("second sell claimed while one is in flight")
	}
	g.Wait()

	g.OnFill(context.Background(), Fill{Symbol: "BTCUSDT", Side: exchange.Sell, Qty: 0.001, Price: 51_000})

	if _, ok := led.Open("BTCUSDT"); ok {
		t.Fatal("position still open after sell fill")
	}
	if !led.CoolingDown("BTCUSDT") {
		t.Fatal("sale not journaled")
	}
	if b.released != 1 {
		t.Fatalf("budget released %d times, expected 1", b.released)
	}
	if len(closed) != 1 {
		t.Fatalf("OnClosed fired %d times", len(closed))
	}
}

func TestLateSellFillIsNoOp(t *testing.T) {
	tr := &fakeTrader{}
	b := &fakeBudget{slots: 1}
	g, led := newTestGate(tr, b)

	g.OnFill(context.Background(), Fill{Symbol: "BTCUSDT", Side: exchange.Sell, Qty: 0.001, Price: 51_000})

	if b.released != 0 {
		t.Fatal("budget released for an unknown position")
	}
	if led.CoolingDown("BTCUSDT") {
		t.Fatal("journal written for an unknown position")
	}
}
