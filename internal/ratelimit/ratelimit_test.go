package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func TestLimiterIsAllowed(t *testing.T) {
	ctx := context.Background()

	t.Run("admits up to max calls then denies", func(t *testing.T) {
		rdb, _ := newTestClient(t)
		limiter := NewLimiter(rdb, "test", 5, time.Minute)

		want := []bool{true, true, true, true, true, false}
		for i, expected := range want {
			allowed, err := limiter.IsAllowed(ctx, "x")
			if err != nil {
				t.Fatalf("call %d: unexpected error: %v", i+1, err)
			}
			if allowed != expected {
				t.Errorf("call %d: got %v, want %v", i+1, allowed, expected)
			}
		}
	})

	t.Run("identifiers are counted independently", func(t *testing.T) {
		rdb, _ := newTestClient(t)
		limiter := NewLimiter(rdb, "test", 1, time.Minute)

		if allowed, _ := limiter.IsAllowed(ctx, "a"); !allowed {
			t.Error("first call for a should be allowed")
		}
		if allowed, _ := limiter.IsAllowed(ctx, "b"); !allowed {
			t.Error("first call for b should be allowed")
		}
		if allowed, _ := limiter.IsAllowed(ctx, "a"); allowed {
			t.Error("second call for a should be denied")
		}
	})

	t.Run("window expiry resets the count", func(t *testing.T) {
		rdb, mr := newTestClient(t)
		limiter := NewLimiter(rdb, "test", 1, time.Minute)

		limiter.IsAllowed(ctx, "x")
		if allowed, _ := limiter.IsAllowed(ctx, "x"); allowed {
			t.Fatal("second call should be denied")
		}

		mr.FastForward(61 * time.Second)

		if allowed, _ := limiter.IsAllowed(ctx, "x"); !allowed {
			t.Error("call after window expiry should be allowed")
		}
	})

	t.Run("admits exactly K of N concurrent callers", func(t *testing.T) {
		rdb, _ := newTestClient(t)
		const maxCalls, callers = 5, 40
		limiter := NewLimiter(rdb, "test", maxCalls, time.Minute)

		var wg sync.WaitGroup
		results := make(chan bool, callers)
		start := make(chan struct{})

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				allowed, err := limiter.IsAllowed(ctx, "contended")
				if err != nil {
					t.Error(err)
					return
				}
				results <- allowed
			}()
		}
		close(start)
		wg.Wait()
		close(results)

		admitted := 0
		for allowed := range results {
			if allowed {
				admitted++
			}
		}
		if admitted != maxCalls {
			t.Errorf("admitted %d callers, want exactly %d", admitted, maxCalls)
		}
	})
}

func TestLimiterGetRemaining(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	limiter := NewLimiter(rdb, "test", 3, time.Minute)

	remaining, err := limiter.GetRemaining(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 3 {
		t.Errorf("fresh identifier: got %d remaining, want 3", remaining)
	}

	limiter.IsAllowed(ctx, "x")
	limiter.IsAllowed(ctx, "x")

	remaining, err = limiter.GetRemaining(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 1 {
		t.Errorf("after 2 calls: got %d remaining, want 1", remaining)
	}

	limiter.IsAllowed(ctx, "x")
	limiter.IsAllowed(ctx, "x")

	remaining, err = limiter.GetRemaining(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("over budget: got %d remaining, want 0", remaining)
	}
}

func TestLimiterReset(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	limiter := NewLimiter(rdb, "test", 1, time.Minute)

	limiter.IsAllowed(ctx, "x")
	if allowed, _ := limiter.IsAllowed(ctx, "x"); allowed {
		t.Fatal("should be denied before reset")
	}

	if err := limiter.Reset(ctx, "x"); err != nil {
		t.Fatal(err)
	}

	if allowed, _ := limiter.IsAllowed(ctx, "x"); !allowed {
		t.Error("should be allowed after reset")
	}
}

func TestLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire fails while held", func(t *testing.T) {
		rdb, _ := newTestClient(t)
		locker := NewLocker(rdb, time.Minute)

		token, ok, err := locker.Acquire(ctx, "account:1")
		if err != nil || !ok {
			t.Fatalf("first acquire: ok=%v err=%v", ok, err)
		}

		if _, ok, _ := locker.Acquire(ctx, "account:1"); ok {
			t.Error("second acquire should fail while lock is held")
		}

		if err := locker.Release(ctx, "account:1", token); err != nil {
			t.Fatal(err)
		}

		if _, ok, _ := locker.Acquire(ctx, "account:1"); !ok {
			t.Error("acquire should succeed after release")
		}
	})

	t.Run("release with stale token is a no-op", func(t *testing.T) {
		rdb, _ := newTestClient(t)
		locker := NewLocker(rdb, time.Minute)

		staleToken, _, _ := locker.Acquire(ctx, "account:1")
		locker.Release(ctx, "account:1", staleToken)

		// New holder takes the lock; the old token must not release it.
		_, ok, _ := locker.Acquire(ctx, "account:1")
		if !ok {
			t.Fatal("expected to acquire freed lock")
		}
		locker.Release(ctx, "account:1", staleToken)

		if _, ok, _ := locker.Acquire(ctx, "account:1"); ok {
			t.Error("stale release must not free the current holder's lock")
		}
	})

	t.Run("ttl expiry frees the lock", func(t *testing.T) {
		rdb, mr := newTestClient(t)
		locker := NewLocker(rdb, time.Second)

		if _, ok, _ := locker.Acquire(ctx, "account:1"); !ok {
			t.Fatal("expected to acquire")
		}

		mr.FastForward(2 * time.Second)

		if _, ok, _ := locker.Acquire(ctx, "account:1"); !ok {
			t.Error("lock should be acquirable after ttl expiry")
		}
	})

	t.Run("wait returns once released", func(t *testing.T) {
		rdb, _ := newTestClient(t)
		locker := NewLocker(rdb, time.Minute)

		token, _, _ := locker.Acquire(ctx, "account:1")

		done := make(chan error, 1)
		go func() {
			done <- locker.Wait(ctx, "account:1", 2*time.Second)
		}()

		time.Sleep(100 * time.Millisecond)
		locker.Release(ctx, "account:1", token)

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("wait returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("wait did not return after release")
		}
	})
}
