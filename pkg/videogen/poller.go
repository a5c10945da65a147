package videogen

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy is a fixed-interval polling schedule. The default (5s x 60) is
// a five minute ceiling per job.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// PollTimeoutError reports a job that never reached a terminal state within
// the attempt ceiling.
type PollTimeoutError struct {
	JobID    string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s did not complete within %d poll attempts", e.JobID, e.Attempts)
}

// AwaitCompletion polls a job until it reaches a terminal state or the policy
// is exhausted. Adapter errors during a poll end the wait immediately.
func AwaitCompletion(ctx context.Context, gen Generator, jobID string, policy RetryPolicy) (PollResult, error) {
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-time.After(policy.Interval):
		}

		result, err := gen.Poll(ctx, jobID)
		if err != nil {
			return PollResult{}, err
		}
		if result.Done() {
			return result, nil
		}
	}

	return PollResult{}, &PollTimeoutError{JobID: jobID, Attempts: policy.MaxAttempts}
}
