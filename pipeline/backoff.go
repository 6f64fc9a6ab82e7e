package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrAttemptsExhausted is returned by an ExponentialBackoffPersist callback
// once a run has been parked MaxAttempts times.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// AttemptStore tracks how many times a run has been parked for retry.
type AttemptStore interface {
	GetAttempt(ctx context.Context, runID string) (int, error)
	SetAttempt(ctx context.Context, runID string, attempt int) error
}

// MemoryAttemptStore is an AttemptStore for a single process.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]int
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make(map[string]int)}
}

func (s *MemoryAttemptStore) GetAttempt(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[runID], nil
}

func (s *MemoryAttemptStore) SetAttempt(_ context.Context, runID string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[runID] = attempt
	return nil
}

// ExponentialBackoffPolicy computes the park delay from the attempt number:
// Initial * Multiplier^attempt, limited to Cap when Cap > 0. MaxAttempts > 0
// bounds the number of parks per run.
type ExponentialBackoffPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
	ShouldRetry func(err error) bool
}

// Delay returns the backoff for the 0-based attempt.
func (p ExponentialBackoffPolicy) Delay(attempt int) time.Duration {
	m := p.Multiplier
	if m <= 0 {
		m = 2
	}
	d := time.Duration(float64(p.Initial) * math.Pow(m, float64(attempt)))
	if d < 0 || (p.Cap > 0 && d > p.Cap) {
		d = p.Cap
	}
	return d
}

// ExponentialBackoffPersist wraps base so every park of a run gets the next
// exponential delay, and refuses with ErrAttemptsExhausted after MaxAttempts.
func ExponentialBackoffPersist(policy ExponentialBackoffPolicy, store AttemptStore, base ParkPersistWithTime) ParkPersistWithTime {
	return func(ctx context.Context, parked ParkedRun) error {
		attempt, err := store.GetAttempt(ctx, parked.RunID)
		if err != nil {
			return fmt.Errorf("get attempt: %w", err)
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return fmt.Errorf("run %s: %w after %d attempts", parked.RunID, ErrAttemptsExhausted, attempt)
		}
		parked.ResumeAt = time.Now().Add(policy.Delay(attempt))
		if err := base(ctx, parked); err != nil {
			return err
		}
		return store.SetAttempt(ctx, parked.RunID, attempt+1)
	}
}

// RetryPolicyFromExponential adapts an exponential policy for Retry. The
// Backoff it carries is only the first delay; the persist callback from
// ExponentialBackoffPersist overrides ResumeAt per attempt.
func RetryPolicyFromExponential(p ExponentialBackoffPolicy) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: p.MaxAttempts,
		Backoff:     p.Initial,
		ShouldRetry: p.ShouldRetry,
	}
}
