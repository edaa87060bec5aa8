// Package strategy holds the per-variant decision logic. Evaluators are
// pure: they look at candles and position state and return an advice;
// all side effects (orders, ledger updates, stream lifecycle) belong to
// the engine.
package strategy

import (
	"strategy-core/internal/ledger"
	"strategy-core/internal/series"
)

// Action is the three-way outcome of an evaluation. Averaging in is a
// distinct action, not a flavor of open or close.
type Action string

const (
	ActionOpen    Action = "OPEN"
	ActionClose   Action = "CLOSE"
	ActionAverage Action = "AVERAGE"
)

// Advice carries the decision and the derived levels to apply once the
// resulting fill lands. Zero Stop/Take mean "leave unchanged".
type Advice struct {
	Action Action
	Reason string
	Stop   float64
	Take   float64
	Rocket bool
}

// Tick is one inbound market event: the refreshed or closed candle.
type Tick struct {
	Symbol string
	Candle series.Candle
	Final  bool
}

// Evaluator is the pluggable decision core of one strategy variant.
//
// hist is a consistent snapshot of the symbol's series, oldest first,
// with the tick's candle already included as the last element. The
// engine is responsible for the cooldown and in-flight rejections, so
// evaluators stay free of ledger bookkeeping.
type Evaluator interface {
	// Name returns the variant name.
	Name() string
	// Warmup returns the minimum bars needed before any signal.
	Warmup() int
	// UsesMonitoring reports whether open signals go through the
	// monitored/confirmation stage before an order is placed.
	UsesMonitoring() bool
	// ShouldOpen decides whether to enter on this tick.
	ShouldOpen(t Tick, hist []series.Candle) (Advice, bool)
	// ShouldClose decides whether to exit or average in.
	ShouldClose(t Tick, hist []series.Candle, pos ledger.Position) (Advice, bool)
	// Restop recomputes the derived stop/take levels for an open
	// position, e.g. after a fill or a new price high.
	Restop(pos ledger.Position) (stop, take float64)
}
