package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiterLockoutAfterThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewLoginLimiter(NewMemoryAttemptStore(), 5, 15*time.Minute)

	for i := 1; i <= 4; i++ {
		result, err := limiter.RecordFailure(ctx, "k")
		if err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		if result.LockedOut {
			t.Fatalf("attempt %d should not lock out", i)
		}
		if result.AttemptsRemaining != 5-i {
			t.Fatalf("attempt %d: expected %d remaining, got %d", i, 5-i, result.AttemptsRemaining)
		}
	}

	result, err := limiter.RecordFailure(ctx, "k")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if !result.LockedOut {
		t.Fatal("fifth failure should lock the key out")
	}
	if result.RetryAfter != 15*time.Minute {
		t.Fatalf("expected 15m retry-after, got %v", result.RetryAfter)
	}

	decision, err := limiter.CheckAllowed(ctx, "k")
	if err != nil {
		t.Fatalf("CheckAllowed error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("locked key must not be allowed")
	}
	if decision.RetryAfter <= 0 {
		t.Fatal("retry-after must be positive while locked")
	}
}

func TestLimiterLockExpiryResets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLoginLimiter(NewMemoryAttemptStore(), 5, 15*time.Minute).
		WithClock(func() time.Time { return current })

	for i := 0; i < 5; i++ {
		if _, err := limiter.RecordFailure(ctx, "k"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}

	current = current.Add(15*time.Minute + time.Second)
	decision, err := limiter.CheckAllowed(ctx, "k")
	if err != nil {
		t.Fatalf("CheckAllowed error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("key must be allowed after lock expiry")
	}

	// The elapsed lock cleared the entry, so the next failure counts from one.
	result, err := limiter.RecordFailure(ctx, "k")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if result.LockedOut || result.AttemptsRemaining != 4 {
		t.Fatalf("expected a fresh counter, got %+v", result)
	}
}

func TestLimiterSuccessClears(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewLoginLimiter(NewMemoryAttemptStore(), 5, 15*time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := limiter.RecordFailure(ctx, "k"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	if err := limiter.RecordSuccess(ctx, "k"); err != nil {
		t.Fatalf("RecordSuccess error: %v", err)
	}

	delay, err := limiter.Delay(ctx, "k")
	if err != nil {
		t.Fatalf("Delay error: %v", err)
	}
	if delay != 0 {
		t.Fatalf("expected zero delay after success, got %v", delay)
	}
}

func TestLimiterDelayGrowsExponentially(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewLoginLimiter(NewMemoryAttemptStore(), 100, 15*time.Minute)

	expected := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}

	for i, want := range expected {
		if _, err := limiter.RecordFailure(ctx, "k"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		delay, err := limiter.Delay(ctx, "k")
		if err != nil {
			t.Fatalf("Delay error: %v", err)
		}
		if delay != want {
			t.Fatalf("after %d failures: expected %v, got %v", i+1, want, delay)
		}
	}
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryAttemptStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.RecordFailure(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	count, err := store.Failures(ctx, "k")
	if err != nil {
		t.Fatalf("Failures error: %v", err)
	}
	if count != 20 {
		t.Fatalf("expected 20 recorded failures, got %d", count)
	}
}
