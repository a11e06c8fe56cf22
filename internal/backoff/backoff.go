// Package backoff is an exponential-retry helper adapted from the
// teacher's pkg/retry for the one place this module needs a blocking
// wait-with-backoff: bootstrapping a peer connection before the
// synchronous tick loop starts. It is never used inside process(delta)
// or rpc_receive, since the core's concurrency model (spec.md §5) has no
// suspension points once running.
package backoff

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrGaveUp is returned once Run exhausts Policy.MaxAttempts.
var ErrGaveUp = errors.New("backoff: exhausted retry attempts")

// Policy configures Run's retry schedule.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(attempt int, err error, next time.Duration)
}

// Default is a conservative policy suited to waiting out a peer
// handshake: five attempts, starting at 100ms and doubling per retry
// (100, 200, 400, 800ms), with any delay capped at 5s.
func Default() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Run calls op until it returns nil, ctx is done, or the policy's
// attempt budget is exhausted.
func Run(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := nextDelay(attempt, policy)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return errors.Join(ErrGaveUp, lastErr)
}

func nextDelay(attempt int, policy Policy) time.Duration {
	scaled := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if scaled > float64(policy.MaxDelay) {
		scaled = float64(policy.MaxDelay)
	}
	return time.Duration(scaled)
}
