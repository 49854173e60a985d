package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLimiterEnforcesMax(t *testing.T) {
	lim := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := lim.CheckAndIncrement(ctx, "login:alice", time.Hour, 3)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d denied, want allowed", i+1)
		}
		if res.Remaining != 3-(i+1) {
			t.Errorf("attempt %d remaining = %d, want %d", i+1, res.Remaining, 3-(i+1))
		}
	}

	res, err := lim.CheckAndIncrement(ctx, "login:alice", time.Hour, 3)
	if err != nil {
		t.Fatalf("fourth attempt: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth attempt allowed, want denied")
	}
	if res.ResetAt.IsZero() {
		t.Error("denied result must carry a reset time")
	}

	// An unrelated key is untouched.
	other, err := lim.CheckAndIncrement(ctx, "login:bob", time.Hour, 3)
	if err != nil || !other.Allowed {
		t.Fatalf("other key: allowed=%v err=%v", other.Allowed, err)
	}
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	lim := NewMemoryLimiter().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	})
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, _ := lim.CheckAndIncrement(ctx, "k", time.Minute, 2); !res.Allowed {
			t.Fatalf("attempt %d denied", i+1)
		}
	}
	if res, _ := lim.CheckAndIncrement(ctx, "k", time.Minute, 2); res.Allowed {
		t.Fatal("expected denial inside the window")
	}

	// Half a window on: still blocked by the two earlier attempts.
	advance(30 * time.Second)
	if res, _ := lim.CheckAndIncrement(ctx, "k", time.Minute, 2); res.Allowed {
		t.Fatal("expected denial while attempts remain in the trailing window")
	}

	// Past the window: the old attempts age out.
	advance(31 * time.Second)
	if res, _ := lim.CheckAndIncrement(ctx, "k", time.Minute, 2); !res.Allowed {
		t.Fatal("expected allowance after the window slid past the old attempts")
	}
}

func TestMemoryLimiterConcurrentNeverExceedsMax(t *testing.T) {
	lim := NewMemoryLimiter()
	ctx := context.Background()

	const (
		workers = 50
		max     = 10
	)
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := lim.CheckAndIncrement(ctx, "hot", time.Hour, max)
			if err != nil {
				t.Errorf("CheckAndIncrement: %v", err)
				return
			}
			if res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Fatalf("allowed = %d, want exactly %d", allowed, max)
	}
}

func TestMemoryLimiterAttempts(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	lim := NewMemoryLimiter().WithClock(func() time.Time { return current })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := lim.CheckAndIncrement(ctx, "reset:alice", time.Hour, 10); err != nil {
			t.Fatalf("CheckAndIncrement: %v", err)
		}
		current = current.Add(time.Minute)
	}

	attempts, err := lim.Attempts(ctx, "reset:alice", time.Hour)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	for i := 1; i < len(attempts); i++ {
		if !attempts[i].After(attempts[i-1]) {
			t.Fatal("attempts must be ordered oldest first")
		}
	}

	// Outside the window nothing remains visible.
	current = current.Add(2 * time.Hour)
	attempts, err = lim.Attempts(ctx, "reset:alice", time.Hour)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("attempts after window = %d, want 0", len(attempts))
	}
}
