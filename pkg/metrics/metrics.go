// Package metrics exposes prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandlesTotal counts inbound candle events per strategy.
	CandlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_candles_total",
		Help: "Inbound candle events processed.",
	}, []string{"strategy"})

	// SignalsTotal counts evaluator decisions by action.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_signals_total",
		Help: "Signals emitted by evaluators.",
	}, []string{"strategy", "action"})

	// OrdersTotal counts order gate outcomes.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_total",
		Help: "Order submissions by outcome (placed, blocked, rejected, filled).",
	}, []string{"strategy", "outcome"})

	// LiveStreams tracks currently open market-data subscriptions.
	LiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_live_streams",
		Help: "Open websocket subscriptions.",
	}, []string{"strategy", "kind"})

	// OpenPositions tracks open positions per strategy.
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_open_positions",
		Help: "Open positions held in the ledger.",
	}, []string{"strategy"})

	// MonitoredSymbols tracks monitored candidates per strategy.
	MonitoredSymbols = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_monitored_symbols",
		Help: "Symbols in the monitoring stage.",
	}, []string{"strategy"})
)
