package batch

import (
	"context"
	"math/rand"
	"time"
)

// Sleeper abstracts pacing delays so tests can skip real waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// RetryPolicy caps attempts per item and spaces retries apart. MaxRetries is
// the total attempt budget, not the number of re-tries after the first.
type RetryPolicy struct {
	MaxRetries uint
	Delay      time.Duration
}

// PacingPolicy spaces consecutive item starts on the same lane apart by a
// uniform draw from [Min, Max].
type PacingPolicy struct {
	Min time.Duration
	Max time.Duration
}

func (p PacingPolicy) Delay(rng *rand.Rand) time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rng.Int63n(int64(p.Max-p.Min)+1))
}
