package auth

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 15 * time.Minute
	defaultBaseDelay    = 500 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
)

// AttemptStore is the per-key failure counter behind the login limiter.
// Implementations must make RecordFailure atomic so two concurrent failures
// for the same key cannot both observe the pre-increment count.
type AttemptStore interface {
	Failures(ctx context.Context, key string) (int, error)
	RecordFailure(ctx context.Context, key string, window time.Duration) (int, error)
	LockedUntil(ctx context.Context, key string) (time.Time, error)
	Lock(ctx context.Context, key string, until time.Time) error
	Clear(ctx context.Context, key string) error
}

// Decision is the outcome of a pre-login rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// FailureResult is the outcome of recording one failed attempt.
type FailureResult struct {
	LockedOut         bool
	AttemptsRemaining int
	RetryAfter        time.Duration
}

// LoginLimiter moves each key through Clean -> Counting -> Locked -> Clean.
// Reaching maxAttempts failures locks the key for lockDuration; an elapsed
// lock clears the entry on the next check. Independent of the hard lockout,
// every prior failure buys the caller an exponentially growing delay, so
// credential stuffing costs wall-clock time well before lockout triggers.
type LoginLimiter struct {
	store        AttemptStore
	maxAttempts  int
	lockDuration time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration
	now          func() time.Time
}

func NewLoginLimiter(store AttemptStore, maxAttempts int, lockDuration time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if lockDuration <= 0 {
		lockDuration = defaultLockDuration
	}
	return &LoginLimiter{
		store:        store,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxDelay,
		now:          time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (l *LoginLimiter) WithClock(now func() time.Time) *LoginLimiter {
	l.now = now
	return l
}

func (l *LoginLimiter) CheckAllowed(ctx context.Context, key string) (Decision, error) {
	until, err := l.store.LockedUntil(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	now := l.now().UTC()
	if until.After(now) {
		return Decision{Allowed: false, RetryAfter: until.Sub(now)}, nil
	}
	if !until.IsZero() {
		// Lock elapsed: reset the entry back to Clean.
		if err := l.store.Clear(ctx, key); err != nil {
			return Decision{}, err
		}
	}

	return Decision{Allowed: true}, nil
}

func (l *LoginLimiter) RecordFailure(ctx context.Context, key string) (FailureResult, error) {
	count, err := l.store.RecordFailure(ctx, key, l.lockDuration)
	if err != nil {
		return FailureResult{}, err
	}

	if count >= l.maxAttempts {
		until := l.now().UTC().Add(l.lockDuration)
		if err := l.store.Lock(ctx, key, until); err != nil {
			return FailureResult{}, err
		}
		return FailureResult{LockedOut: true, RetryAfter: l.lockDuration}, nil
	}

	return FailureResult{AttemptsRemaining: l.maxAttempts - count}, nil
}

func (l *LoginLimiter) RecordSuccess(ctx context.Context, key string) error {
	return l.store.Clear(ctx, key)
}

// Delay returns the throttle to apply before processing an attempt for key:
// zero with no prior failures, then baseDelay doubled per failure, capped.
func (l *LoginLimiter) Delay(ctx context.Context, key string) (time.Duration, error) {
	count, err := l.store.Failures(ctx, key)
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, nil
	}

	delay := l.baseDelay
	for i := 1; i < count; i++ {
		delay *= 2
		if delay >= l.maxDelay {
			return l.maxDelay, nil
		}
	}
	if delay > l.maxDelay {
		delay = l.maxDelay
	}
	return delay, nil
}

type attemptEntry struct {
	failures    int
	lockedUntil time.Time
	updatedAt   time.Time
}

// MemoryAttemptStore keeps counters in process memory. Single-instance scope:
// state does not survive restarts and is not shared across replicas. Small
// deployments accept this; larger ones use RedisAttemptStore.
type MemoryAttemptStore struct {
	mu        sync.Mutex
	entries   map[string]*attemptEntry
	maxMemory int
	now       func() time.Time
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		entries:   make(map[string]*attemptEntry),
		maxMemory: 5000,
		now:       time.Now,
	}
}

func (s *MemoryAttemptStore) Failures(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	return entry.failures, nil
}

func (s *MemoryAttemptStore) RecordFailure(_ context.Context, key string, window time.Duration) (int, error) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.Sub(entry.updatedAt) > window {
		entry = &attemptEntry{}
		s.entries[key] = entry
	}
	entry.failures++
	entry.updatedAt = now

	if len(s.entries) > s.maxMemory {
		s.pruneLocked(now, window)
	}

	return entry.failures, nil
}

func (s *MemoryAttemptStore) LockedUntil(_ context.Context, key string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return time.Time{}, nil
	}
	return entry.lockedUntil, nil
}

func (s *MemoryAttemptStore) Lock(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &attemptEntry{}
		s.entries[key] = entry
	}
	entry.lockedUntil = until.UTC()
	entry.updatedAt = s.now().UTC()
	return nil
}

func (s *MemoryAttemptStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryAttemptStore) pruneLocked(now time.Time, window time.Duration) {
	for key, entry := range s.entries {
		if entry.lockedUntil.Before(now) && now.Sub(entry.updatedAt) > window {
			delete(s.entries, key)
		}
	}
}
