package binance

import (
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"strategy-core/pkg/exchange"
)

// klineStream wraps one combined websocket subscription.
type klineStream struct {
	stopC chan struct{}
	doneC chan struct{}
	once  sync.Once
}

// Close asks the stream to stop and waits briefly for the reader to
// drain. Safe to call more than once and concurrently with callbacks.
func (s *klineStream) Close() error {
	s.once.Do(func() {
		close(s.stopC)
	})
	select {
	case <-s.doneC:
	case <-time.After(5 * time.Second):
	}
	return nil
}

// SubscribeKlines opens one combined stream multiplexing all given
// symbols at the given interval. Both live refreshes of the open bar
// and final bars are forwarded; fn runs on the websocket read goroutine
// and must return quickly.
func (c *Client) SubscribeKlines(symbols []string, interval string, fn func(exchange.Kline)) (exchange.StreamHandle, error) {
	pairs := make(map[string]string, len(symbols))
	for _, s := range symbols {
		pairs[strings.ToLower(s)] = interval
	}

	handler := func(ev *gobinance.WsKlineEvent) {
		if ev == nil {
			return
		}
		k := ev.Kline
		fn(exchange.Kline{
			Symbol:      strings.ToUpper(ev.Symbol),
			OpenTime:    k.StartTime,
			CloseTime:   k.EndTime,
			Open:        toFloat(k.Open),
			High:        toFloat(k.High),
			Low:         toFloat(k.Low),
			Close:       toFloat(k.Close),
			Volume:      toFloat(k.Volume),
			QuoteVolume: toFloat(k.QuoteVolume),
			NumTrades:   k.TradeNum,
			Final:       k.IsFinal,
		})
	}
	errHandler := func(err error) {
		// Transport errors end the stream; recovery happens on the next
		// scheduled resubscription pass, not here.
		c.log.Warn("kline stream error", zap.Error(err))
	}

	doneC, stopC, err := gobinance.WsCombinedKlineServe(pairs, handler, errHandler)
	if err != nil {
		return nil, err
	}
	return &klineStream{stopC: stopC, doneC: doneC}, nil
}
