package automation

import (
	"context"
	"time"

	"rookery/internal/batch"
	"rookery/internal/domain"
)

// DryRunRunner succeeds every attempt without touching a browser or the
// network. Useful for exercising pacing, retries and persistence end to end.
type DryRunRunner struct {
	Latency time.Duration
}

func (r DryRunRunner) Attempt(ctx context.Context, _ domain.ProxyRecord, profile []byte) batch.Outcome {
	latency := r.Latency
	if latency <= 0 {
		latency = 50 * time.Millisecond
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return batch.Retryable(ctx.Err())
	case <-timer.C:
		return batch.Success(profile)
	}
}
