// Package exchange defines the venue-neutral market-data and trading
// surface consumed by the engine. Concrete venues live in subpackages.
package exchange

import "context"

// Kline is one OHLCV bar as delivered by a venue.
type Kline struct {
	Symbol      string
	OpenTime    int64 // ms since epoch
	CloseTime   int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
	NumTrades   int64
	Final       bool // bar is closed
}

// Side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderRequest describes a market order. Exactly one of Qty and
// QuoteQty is set: sells specify base quantity, buys may specify the
// quote amount to spend.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Qty      float64
	QuoteQty float64
	ClientID string
}

// OrderResult is the synchronous acknowledgement of a submission; the
// authoritative fill arrives asynchronously through the coordinator.
type OrderResult struct {
	ExchangeOrderID string
	Status          string
}

// StreamHandle controls one live subscription. Close is idempotent.
type StreamHandle interface {
	Close() error
}

// MarketData is the read side of a venue.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	SubscribeKlines(symbols []string, interval string, fn func(Kline)) (StreamHandle, error)
}

// Trader is the write side of a venue.
type Trader interface {
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Client is a full venue connection.
type Client interface {
	MarketData
	Trader
}
