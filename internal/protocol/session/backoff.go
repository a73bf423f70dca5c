package session

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Delay returns the wait before retry number attempt (1-based). Jitter
// scales the delay by a factor in [0.5, 1.5); rng may be nil to use the
// shared source.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 || b.InitialDelay <= 0 {
		return 0
	}
	growth := math.Max(b.Multiplier, 1)
	delay := float64(b.InitialDelay) * math.Pow(growth, float64(attempt-1))
	if b.MaxDelay > 0 {
		delay = math.Min(delay, float64(b.MaxDelay))
	}
	if b.Jitter {
		f := rand.Float64
		if rng != nil {
			f = rng.Float64
		}
		delay *= 0.5 + f()
	}
	return time.Duration(delay)
}

// Retry calls fn up to attempts times, waiting b.Delay between failures.
// It returns nil on the first success, ctx.Err() when ctx ends during a
// wait, and otherwise fn's last error. notify, when set, sees each failure
// that is about to be retried.
func Retry(ctx context.Context, b BackoffConfig, attempts int, fn func(ctx context.Context, attempt int) error, notify func(attempt int, delay time.Duration, err error)) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := b.Delay(attempt, nil)
		if notify != nil {
			notify(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
