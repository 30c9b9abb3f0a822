package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
)

// Locker provides per-key mutual exclusion via SET NX with a TTL, used to
// serialize credential refreshes. The TTL bounds how long a crashed holder
// can block others.
type Locker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewLocker(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// releaseScript deletes the lock only if the caller still owns it, so a
// holder that outlived its TTL cannot release a lock re-acquired by another
// worker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire attempts to take the lock without waiting. It returns a release
// token on success and ok=false when another holder has it.
func (l *Locker) Acquire(ctx context.Context, key string) (token string, ok bool, err error) {
	token, err = gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return "", false, err
	}

	ok, err = l.rdb.SetNX(ctx, l.lockKey(key), token, l.ttl).Result()
	if err != nil {
		slog.Info(err.Error())
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.lockKey(key)}, token).Err(); err != nil && err != redis.Nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Wait blocks until the lock is free or the context/deadline gives out.
// Callers that lose an Acquire race use it to wait out the in-flight holder.
func (l *Locker) Wait(ctx context.Context, key string, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		n, err := l.rdb.Exists(ctx, l.lockKey(key)).Result()
		if err != nil {
			slog.Info(err.Error())
			return err
		}
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for lock %s", key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (l *Locker) lockKey(key string) string {
	return "lock:" + key
}
