// Package binance implements the exchange surface on Binance spot.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"strategy-core/pkg/exchange"
)

// Client wraps the Binance spot REST and websocket APIs. REST calls go
// through a shared rate limiter so bootstrap fetches for a large symbol
// universe cannot trip the venue's request weight limits.
type Client struct {
	api     *gobinance.Client
	limiter *rate.Limiter
	log     *zap.Logger

	mu    sync.RWMutex
	steps map[string]decimal.Decimal // symbol -> lot step size
}

// New builds a client. ratePerSec bounds REST request frequency.
func New(apiKey, apiSecret string, testnet bool, ratePerSec float64, log *zap.Logger) *Client {
	gobinance.UseTestnet = testnet
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Client{
		api:     gobinance.NewClient(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)),
		log:     log,
		steps:   make(map[string]decimal.Decimal),
	}
}

// Klines fetches historical candles for one symbol.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s: %w", symbol, err)
	}

	out := make([]exchange.Kline, 0, len(raw))
	for _, k := range raw {
		out = append(out, exchange.Kline{
			Symbol:      symbol,
			OpenTime:    k.OpenTime,
			CloseTime:   k.CloseTime,
			Open:        toFloat(k.Open),
			High:        toFloat(k.High),
			Low:         toFloat(k.Low),
			Close:       toFloat(k.Close),
			Volume:      toFloat(k.Volume),
			QuoteVolume: toFloat(k.QuoteAssetVolume),
			NumTrades:   k.TradeNum,
			Final:       true,
		})
	}
	return out, nil
}

// LastPrice returns the latest traded price for a symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("last price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("last price %s: empty response", symbol)
	}
	return toFloat(prices[0].Price), nil
}

// SubmitMarketOrder places a market order. Sell quantities are snapped
// down to the symbol's lot step so the venue does not reject the order.
func (c *Client) SubmitMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return exchange.OrderResult{}, err
	}

	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(gobinance.SideType(req.Side)).
		Type(gobinance.OrderTypeMarket)

	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	switch {
	case req.Side == exchange.Buy && req.QuoteQty > 0:
		svc = svc.QuoteOrderQty(decimal.NewFromFloat(req.QuoteQty).Round(8).String())
	case req.Qty > 0:
		svc = svc.Quantity(c.quantize(req.Symbol, req.Qty).String())
	default:
		return exchange.OrderResult{}, fmt.Errorf("order %s %s: no quantity", req.Symbol, req.Side)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("submit %s %s: %w", req.Side, req.Symbol, err)
	}
	return exchange.OrderResult{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		Status:          string(res.Status),
	}, nil
}

// LoadSymbolFilters caches lot step sizes for the given symbols.
func (c *Client) LoadSymbolFilters(ctx context.Context, symbols []string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	info, err := c.api.NewExchangeInfoService().Symbols(symbols...).Do(ctx)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		f := s.LotSizeFilter()
		if f == nil {
			continue
		}
		step, err := decimal.NewFromString(f.StepSize)
		if err != nil || step.IsZero() {
			continue
		}
		c.steps[s.Symbol] = step
	}
	return nil
}

// quantize snaps qty down to the symbol's lot step. Unknown symbols
// fall back to eight decimals.
func (c *Client) quantize(symbol string, qty float64) decimal.Decimal {
	d := decimal.NewFromFloat(qty)

	c.mu.RLock()
	step, ok := c.steps[symbol]
	c.mu.RUnlock()
	if !ok {
		return d.RoundDown(8)
	}
	return d.Div(step).Floor().Mul(step)
}

func toFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
