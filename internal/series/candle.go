// Package series holds the bounded per-symbol candle window that feeds
// indicator computation.
package series

// Candle is a single OHLCV bar. A candle is immutable once closed; the
// still-open bar is refreshed in place by Series.Append.
type Candle struct {
	OpenTime    int64 // ms since epoch
	CloseTime   int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
	NumTrades   int64
}

// Bullish reports whether the bar closed above its open.
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Bearish reports whether the bar closed below its open.
func (c Candle) Bearish() bool {
	return c.Close < c.Open
}

// Range returns the high-low spread of the bar.
func (c Candle) Range() float64 {
	return c.High - c.Low
}
