package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter over Redis. The count is maintained with
// a single atomic INCR so N concurrent callers never observe a stale value;
// the window TTL is attached only when the INCR created the key.
type Limiter struct {
	rdb       redis.UniversalClient
	keyPrefix string
	maxCalls  int64
	window    time.Duration
}

func NewLimiter(rdb redis.UniversalClient, keyPrefix string, maxCalls int64, window time.Duration) *Limiter {
	return &Limiter{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		maxCalls:  maxCalls,
		window:    window,
	}
}

func (l *Limiter) key(identifier string) string {
	return fmt.Sprintf("rate_limit:%s:%s", l.keyPrefix, identifier)
}

// IsAllowed atomically counts this call against the identifier's window and
// reports whether it is within budget. The INCR and the conditional EXPIRE
// run in one pipeline, so the key can never be left without a TTL.
func (l *Limiter) IsAllowed(ctx context.Context, identifier string) (bool, error) {
	key := l.key(identifier)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Info(err.Error())
		return false, err
	}

	count := incr.Val()
	if count > l.maxCalls {
		slog.Warn("rate limit exceeded",
			"identifier", identifier,
			"count", count,
			"max_calls", l.maxCalls,
			"window", l.window)
		return false, nil
	}
	return true, nil
}

// GetRemaining is a read-only convenience query; it tolerates races with
// concurrent IsAllowed callers.
func (l *Limiter) GetRemaining(ctx context.Context, identifier string) (int64, error) {
	count, err := l.rdb.Get(ctx, l.key(identifier)).Int64()
	if err != nil {
		if err == redis.Nil {
			return l.maxCalls, nil
		}
		slog.Info(err.Error())
		return 0, err
	}

	remaining := l.maxCalls - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the identifier's window early.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.rdb.Del(ctx, l.key(identifier)).Err(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// TiktokLimiters groups the platform's documented quota tiers.
type TiktokLimiters struct {
	// Per user access token, 6 requests a minute.
	UserToken *Limiter
	// Per endpoint across all tokens, 600 requests a minute.
	Endpoint *Limiter
	// Video uploads per account, 15 a day.
	VideoUpload *Limiter
}

func NewTiktokLimiters(rdb redis.UniversalClient) *TiktokLimiters {
	return &TiktokLimiters{
		UserToken:   NewLimiter(rdb, "tiktok_user_token", 6, time.Minute),
		Endpoint:    NewLimiter(rdb, "tiktok_endpoint", 600, time.Minute),
		VideoUpload: NewLimiter(rdb, "tiktok_video_upload", 15, 24*time.Hour),
	}
}
