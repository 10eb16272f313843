package payment

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Memo records completed captures and releases in Redis so repeated calls for
// the same authorization never reach the provider again, even from an
// overlapping settlement process.  When Redis is unreachable the memo is
// skipped and the inner gateway's own idempotency applies.
type Memo struct {
	inner  Gateway
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewMemo wraps inner.  A nil client returns inner unchanged.
func NewMemo(inner Gateway, rdb *redis.Client, ttl time.Duration) Gateway {
	if rdb == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Memo{inner: inner, rdb: rdb, ttl: ttl, prefix: "pay"}
}

func (m *Memo) Capture(ctx context.Context, authID string, amount int64) error {
	key := m.prefix + ":capture:" + authID
	if m.done(ctx, key) {
		return nil
	}
	if err := m.inner.Capture(ctx, authID, amount); err != nil {
		return err
	}
	m.remember(ctx, key, strconv.FormatInt(amount, 10))
	return nil
}

func (m *Memo) Release(ctx context.Context, authID string) error {
	key := m.prefix + ":release:" + authID
	if m.done(ctx, key) {
		return nil
	}
	if err := m.inner.Release(ctx, authID); err != nil {
		return err
	}
	m.remember(ctx, key, "1")
	return nil
}

func (m *Memo) done(ctx context.Context, key string) bool {
	n, err := m.rdb.Exists(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("payment memo lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return false
	}
	return n > 0
}

func (m *Memo) remember(ctx context.Context, key, value string) {
	if err := m.rdb.SetNX(ctx, key, value, m.ttl).Err(); err != nil {
		slog.Warn("payment memo write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
