package strategy

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
strategies:
  - id: trend-1h
    type: trend
    interval: 1h
    quote_budget: 50
    order_limit: 5
    parameters:
      fast: 9
      slow: 26
      averaging: true
  - id: spike-15m
    type: volume_spike
    interval: 15m
    quote_budget: 25
    symbols: [BTCUSDT, ETHUSDT]
    parameters:
      volume_mult: 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfgs, err := LoadConfig(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("got %d strategies, expected 2", len(cfgs))
	}
	if cfgs[0].ID != "trend-1h" || cfgs[0].OrderLimit != 5 {
		t.Fatalf("first entry mismatch: %+v", cfgs[0])
	}
	if len(cfgs[1].Symbols) != 2 {
		t.Fatalf("symbol override not parsed: %+v", cfgs[1])
	}
}

func TestLoadConfigRejectsMissingID(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "strategies:\n  - type: trend\n    quote_budget: 10\n"))
	if err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestLoadConfigRejectsZeroBudget(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "strategies:\n  - id: x\n    type: trend\n"))
	if err == nil {
		t.Fatal("expected error for zero quote_budget")
	}
}

func TestNewEvaluator(t *testing.T) {
	cfgs, err := LoadConfig(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	ev, err := NewEvaluator(cfgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name() != "trend" {
		t.Fatalf("Name=%s", ev.Name())
	}

	ev, err = NewEvaluator(cfgs[1])
	if err != nil {
		t.Fatal(err)
	}
	if !ev.UsesMonitoring() {
		t.Fatal("volume_spike should use monitoring")
	}

	if _, err := NewEvaluator(Config{ID: "x", Type: "nope"}); err == nil {
		t.Fatal("unknown type must error")
	}
}
