// Package batch drives a bounded-concurrency run over a batch of work items,
// pairing each attempt with a proxy and persisting every state change before
// the lane is reused.
package batch

import (
	"context"

	"rookery/internal/domain"
)

// OutcomeStatus classifies one attempt.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeRetryable OutcomeStatus = "retryable"
	OutcomeFatal     OutcomeStatus = "fatal"
)

// Outcome is the result of a single unit-of-work attempt. Payload is only
// meaningful on success; Err is only meaningful otherwise.
type Outcome struct {
	Status  OutcomeStatus
	Payload []byte
	Err     error
}

func Success(payload []byte) Outcome {
	return Outcome{Status: OutcomeSuccess, Payload: payload}
}

func Retryable(err error) Outcome {
	return Outcome{Status: OutcomeRetryable, Err: err}
}

// Fatal marks an attempt whose failure no retry can fix; the item is
// abandoned immediately.
func Fatal(err error) Outcome {
	return Outcome{Status: OutcomeFatal, Err: err}
}

// Runner performs one attempt at one unit of work. Implementations must honor
// ctx cancellation; the orchestrator deadline-boxes every attempt.
type Runner interface {
	Attempt(ctx context.Context, proxy domain.ProxyRecord, profile []byte) Outcome
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, proxy domain.ProxyRecord, profile []byte) Outcome

func (f RunnerFunc) Attempt(ctx context.Context, proxy domain.ProxyRecord, profile []byte) Outcome {
	return f(ctx, proxy, profile)
}

// ProfileSource supplies the input payload for each attempt, typically a
// generated identity.
type ProfileSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ProfileSourceFunc adapts a function to the ProfileSource interface.
type ProfileSourceFunc func(ctx context.Context) ([]byte, error)

func (f ProfileSourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
