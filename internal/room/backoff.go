package room

import (
	"context"
	"time"
)

// Backoff is a capped linear retry policy: the delay before attempt n is
// min(n*Step, Max). With Immediate set the first attempt runs without delay
// and attempt n waits Delay(n-1).
type Backoff struct {
	MaxAttempts int
	Step        time.Duration
	Max         time.Duration
	Immediate   bool
}

// Delay returns the wait associated with the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := time.Duration(attempt) * b.Step
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func (b Backoff) wait(attempt int) time.Duration {
	if b.Immediate {
		return b.Delay(attempt - 1)
	}
	return b.Delay(attempt)
}

// Retry runs fn until it succeeds, fails with an error retryable rejects, the
// attempts run out, or ctx ends. It returns the number of attempts made and the
// last error.
func (b Backoff) Retry(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d := b.wait(attempt); d > 0 {
			if serr := sleep(ctx, d); serr != nil {
				if err == nil {
					err = serr
				}
				return attempt - 1, err
			}
		}
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || (retryable != nil && !retryable(err)) {
			return attempt, err
		}
	}
	return attempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
