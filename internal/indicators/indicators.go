// Package indicators computes technical indicators over candle windows.
//
// Every function is pure and re-derives from the input slice on each call;
// candle counts per symbol are small, so correctness wins over caching.
// The boolean result is false when the window is too short, and callers
// must treat that as "no signal", never as zero.
package indicators

import (
	talib "github.com/markcheno/go-talib"
)

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	out := talib.Sma(values, period)
	return out[len(out)-1], true
}

// EMA returns the exponential moving average of the last period values.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	out := talib.Ema(values, period)
	return out[len(out)-1], true
}

// EMALine returns the full EMA series. Entries before the warm-up index
// are zero and must not be compared; ok is false when the window is too
// short to produce any value.
func EMALine(values []float64, period int) ([]float64, bool) {
	if period <= 0 || len(values) < period {
		return nil, false
	}
	return talib.Ema(values, period), true
}

// RSI returns the Relative Strength Index over the given period.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	out := talib.Rsi(values, period)
	return out[len(out)-1], true
}

// MACD returns the MACD line and its signal line.
func MACD(values []float64, fast, slow, signal int) (macd, sig float64, ok bool) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return 0, 0, false
	}
	if len(values) < slow+signal {
		return 0, 0, false
	}
	macdLine, sigLine, _ := talib.Macd(values, fast, slow, signal)
	return macdLine[len(macdLine)-1], sigLine[len(sigLine)-1], true
}

// CrossedAbove reports whether fast crossed above slow within the last
// lookback steps. Both series must be equally long; warm-up zeros at the
// head are skipped.
func CrossedAbove(fast, slow []float64, warmup, lookback int) bool {
	n := len(fast)
	if n != len(slow) || n < 2 || lookback < 1 {
		return false
	}
	start := n - lookback
	if start < warmup+1 {
		start = warmup + 1
	}
	for i := start; i < n; i++ {
		if fast[i-1] <= slow[i-1] && fast[i] > slow[i] {
			return true
		}
	}
	return false
}

// CrossedBelow reports whether fast crossed below slow within the last
// lookback steps.
func CrossedBelow(fast, slow []float64, warmup, lookback int) bool {
	n := len(fast)
	if n != len(slow) || n < 2 || lookback < 1 {
		return false
	}
	start := n - lookback
	if start < warmup+1 {
		start = warmup + 1
	}
	for i := start; i < n; i++ {
		if fast[i-1] >= slow[i-1] && fast[i] < slow[i] {
			return true
		}
	}
	return false
}
