package spots

import (
	"context"
	"time"
)

const (
	DefaultClaimAttempts = 3
	DefaultClaimBackoff  = 50 * time.Millisecond
)

// RetryStrategy bounds how often a lost claim race is retried.
type RetryStrategy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ConstantBackoff waits d before every retry.
func ConstantBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxAttempts: DefaultClaimAttempts,
		Backoff:     ConstantBackoff(DefaultClaimBackoff),
	}
}

// Run calls attempt until it reports done, returns an error, or the budget
// runs out. It reports whether any attempt completed.
func (s RetryStrategy) Run(ctx context.Context, attempt func(ctx context.Context, n int) (bool, error)) (bool, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for n := 1; n <= maxAttempts; n++ {
		done, err := attempt(ctx, n)
		if err != nil || done {
			return done, err
		}
		if n == maxAttempts {
			break
		}
		if err := s.wait(ctx, n); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s RetryStrategy) wait(ctx context.Context, attempt int) error {
	if s.Backoff == nil {
		return ctx.Err()
	}
	d := s.Backoff(attempt)
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
