// Package coordinator talks to the cross-strategy coordination service:
// strategy registration, the shared order budget, and the account fill
// feed. The budget is advisory and eventually consistent; a race can at
// worst cause one extra order before the counters catch up.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// FillEvent is an account trade fill pushed by the coordinator for a
// registered strategy.
type FillEvent struct {
	Strategy  string  `json:"strategy"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Qty       float64 `json:"qty"`
	Price     float64 `json:"price"`
	OrderID   string  `json:"order_id"`
	TradeTime int64   `json:"trade_time"`
}

// Client is the redis-backed coordinator connection.
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to the coordinator and pings it.
func New(ctx context.Context, opts Options, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coordinator ping: %w", err)
	}
	return &Client{rdb: rdb, log: log}, nil
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func budgetKey(strategy string) string   { return "coord:budget:" + strategy }
func registryKey(strategy string) string { return "coord:strategy:" + strategy }
func fillChannel(strategy string) string { return "coord:fills:" + strategy }

// RegisterStrategy announces this engine instance and its fill channel.
// The machine fingerprint distinguishes engines running the same
// strategy id on different hosts.
func (c *Client) RegisterStrategy(ctx context.Context, strategy string) error {
	host, err := machineid.ProtectedID("strategy-core")
	if err != nil {
		host = "unknown"
	}
	return c.rdb.HSet(ctx, registryKey(strategy), map[string]interface{}{
		"machine":       host,
		"fill_channel":  fillChannel(strategy),
		"registered_at": time.Now().UnixMilli(),
	}).Err()
}

// UnregisterStrategy removes the registration on shutdown.
func (c *Client) UnregisterStrategy(ctx context.Context, strategy string) error {
	return c.rdb.Del(ctx, registryKey(strategy)).Err()
}

// OrderBudget returns the remaining order slots for a strategy. A
// missing key means no budget has been provisioned.
func (c *Client) OrderBudget(ctx context.Context, strategy string) (int, error) {
	n, err := c.rdb.Get(ctx, budgetKey(strategy)).Int()
	if err == goredis.Nil {
		return 0, nil
	}
	return n, err
}

// SetOrderBudget provisions the budget for a strategy.
func (c *Client) SetOrderBudget(ctx context.Context, strategy string, limit int) error {
	return c.rdb.Set(ctx, budgetKey(strategy), limit, 0).Err()
}

// ConsumeBudget takes one order slot if any remain. The decrement is
// atomic but the overall check is advisory across processes.
func (c *Client) ConsumeBudget(ctx context.Context, strategy string) (bool, error) {
	n, err := c.rdb.Decr(ctx, budgetKey(strategy)).Result()
	if err != nil {
		return false, err
	}
	if n < 0 {
		// Slot was not available; undo.
		if err := c.rdb.Incr(ctx, budgetKey(strategy)).Err(); err != nil {
			c.log.Warn("budget rollback failed", zap.String("strategy", strategy), zap.Error(err))
		}
		return false, nil
	}
	return true, nil
}

// ReleaseBudget returns one order slot after a position closes.
func (c *Client) ReleaseBudget(ctx context.Context, strategy string) error {
	return c.rdb.Incr(ctx, budgetKey(strategy)).Err()
}

// SubscribeFills listens for fill notifications for a strategy. The
// returned channel closes when ctx ends or stop is called.
func (c *Client) SubscribeFills(ctx context.Context, strategy string) (<-chan FillEvent, func()) {
	pubsub := c.rdb.Subscribe(ctx, fillChannel(strategy))
	out := make(chan FillEvent, 64)

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev FillEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.log.Warn("bad fill payload", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					c.log.Warn("fill channel full, dropping", zap.String("symbol", ev.Symbol))
				}
			}
		}
	}()

	stop := func() { _ = pubsub.Close() }
	return out, stop
}

// PublishFill pushes a fill onto a strategy's channel. Used by the
// account bridge and by integration tooling.
func (c *Client) PublishFill(ctx context.Context, ev FillEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, fillChannel(ev.Strategy), payload).Err()
}
