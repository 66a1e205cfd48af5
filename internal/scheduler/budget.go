package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// EffectiveLimit is the number of fetches allowed per tick. Zero credentials
// still get a single slot.
func EffectiveLimit(perCredential, credentials int) int {
	if credentials < 1 {
		credentials = 1
	}
	return perCredential * credentials
}

// Counter is the shared request count for the current window.
type Counter interface {
	// Incr counts one request and returns the new total, plus a refund that
	// takes that request back out of the same window it was counted in.
	Incr(ctx context.Context) (int64, func(context.Context) error, error)
}

// LocalCounter counts in process memory; a fresh one is used per tick.
type LocalCounter struct {
	n atomic.Int64
}

func (c *LocalCounter) Incr(context.Context) (int64, func(context.Context) error, error) {
	refund := func(context.Context) error {
		c.n.Add(-1)
		return nil
	}
	return c.n.Add(1), refund, nil
}

// RedisCounter is a fixed-window counter shared by every process using the
// same Redis and prefix.
type RedisCounter struct {
	client *redis.Client
	prefix string
	window time.Duration
	now    func() time.Time
}

func NewRedisCounter(client *redis.Client, prefix string, window time.Duration) *RedisCounter {
	if window < time.Second {
		window = time.Minute
	}
	return &RedisCounter{client: client, prefix: prefix, window: window, now: time.Now}
}

func (c *RedisCounter) key() string {
	return fmt.Sprintf("%s:%d", c.prefix, c.now().Unix()/int64(c.window/time.Second))
}

func (c *RedisCounter) Incr(ctx context.Context) (int64, func(context.Context) error, error) {
	key := c.key()
	total, err := c.add(ctx, key, 1)
	if err != nil {
		return 0, nil, err
	}
	refund := func(ctx context.Context) error {
		_, err := c.add(ctx, key, -1)
		return err
	}
	return total, refund, nil
}

func (c *RedisCounter) add(ctx context.Context, key string, n int64) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, c.window+5*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate counter: %w", err)
	}
	return incr.Val(), nil
}

// Budget owns one tick's request allowance.
type Budget struct {
	limit     int64
	counter   Counter
	overdrawn atomic.Int64
}

func NewBudget(limit int, counter Counter) *Budget {
	return &Budget{limit: int64(limit), counter: counter}
}

func (b *Budget) Limit() int { return int(b.limit) }

// TryAcquire takes one ticket if the limit allows it. A refused ticket is
// handed back so it does not count against other processes.
func (b *Budget) TryAcquire(ctx context.Context) (bool, error) {
	n, refund, err := b.counter.Incr(ctx)
	if err != nil {
		return false, err
	}
	if n > b.limit {
		if err := refund(ctx); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Force always takes a ticket and reports whether the limit was exceeded.
func (b *Budget) Force(ctx context.Context) (bool, error) {
	n, _, err := b.counter.Incr(ctx)
	if err != nil {
		return false, err
	}
	if n > b.limit {
		b.overdrawn.Add(1)
		return true, nil
	}
	return false, nil
}

// Overdrawn is the number of forced tickets taken past the limit.
func (b *Budget) Overdrawn() int {
	return int(b.overdrawn.Load())
}
