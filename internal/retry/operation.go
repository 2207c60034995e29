package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/resilient/internal/classify"
	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/metrics"
)

// Status is the lifecycle state of one scheduled operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"    // terminal, non-retryable failure
	StatusExhausted Status = "exhausted" // retryable failure, attempts used up
)

// ErrExhausted marks an operation that used up its attempt budget.
var ErrExhausted = errors.New("retries exhausted")

// Func is the operation being retried.
type Func[T any] func(ctx context.Context) (T, error)

// Operation wraps one invocation lifecycle. It is created by Schedule,
// mutated only by Execute, and safe to inspect concurrently mid-flight.
type Operation[T any] struct {
	op     Func[T]
	policy Policy

	mu       sync.Mutex
	attempts int
	status   Status
	lastErr  *domain.ClassifiedError
}

// Schedule prepares an operation for execution under the given policy.
// Nothing runs until Execute is called.
func Schedule[T any](op Func[T], policy Policy) *Operation[T] {
	return &Operation[T]{
		op:     op,
		policy: policy.normalized(),
		status: StatusPending,
	}
}

// Do schedules and executes in one call.
func Do[T any](ctx context.Context, op Func[T], policy Policy) (T, error) {
	return Schedule(op, policy).Execute(ctx)
}

// Execute drives the attempt loop: run, classify on failure, back off and
// retry while the error is retryable and attempts remain. The returned error
// on a terminal failure is the last *domain.ClassifiedError, wrapped in
// ErrExhausted when the attempt budget ran out.
func (o *Operation[T]) Execute(ctx context.Context) (T, error) {
	var zero T

	o.setStatus(StatusRunning)

	for {
		attempt := o.beginAttempt()

		start := time.Now()
		result, err := o.runAttempt(ctx)
		metrics.AttemptLatency.Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.OperationAttempts.WithLabelValues("success").Inc()
			o.setStatus(StatusSucceeded)
			return result, nil
		}
		metrics.OperationAttempts.WithLabelValues("failure").Inc()

		// The caller abandoning the whole call is not a per-attempt timeout.
		if ctx.Err() != nil {
			o.setStatus(StatusFailed)
			return zero, ctx.Err()
		}

		cerr := classify.Classify(err)
		o.setLastErr(cerr)

		if !cerr.Retryable {
			o.setStatus(StatusFailed)
			return zero, cerr
		}

		if attempt >= o.policy.MaxAttempts {
			o.setStatus(StatusExhausted)
			metrics.RetriesExhausted.Inc()
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, cerr)
		}

		delay := o.policy.Delay(attempt - 1)
		slog.Debug("retrying operation",
			"attempt", attempt,
			"max_attempts", o.policy.MaxAttempts,
			"category", cerr.Category,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			o.setStatus(StatusFailed)
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runAttempt executes one try under the per-attempt timeout. A timed-out
// attempt surfaces as context.DeadlineExceeded so classification lands it in
// the timeout category and it is retried under the same policy.
func (o *Operation[T]) runAttempt(ctx context.Context) (T, error) {
	if o.policy.AttemptTimeout <= 0 {
		return o.op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.policy.AttemptTimeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		r, err := o.op(attemptCtx)
		done <- outcome{result: r, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		// The zombie attempt may still complete; its result is discarded.
		var zero T
		return zero, attemptCtx.Err()
	}
}

// CanRetry reports whether another attempt is permitted, without side effects.
func (o *Operation[T]) CanRetry() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusSucceeded || o.status == StatusFailed || o.status == StatusExhausted {
		return false
	}
	if o.lastErr != nil && !o.lastErr.Retryable {
		return false
	}
	return o.attempts < o.policy.MaxAttempts
}

// Attempts returns how many attempts have started.
func (o *Operation[T]) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

// Status returns the current lifecycle state.
func (o *Operation[T]) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LastError returns the most recent classified failure, if any.
func (o *Operation[T]) LastError() *domain.ClassifiedError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Operation[T]) beginAttempt() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	return o.attempts
}

func (o *Operation[T]) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Operation[T]) setLastErr(e *domain.ClassifiedError) {
	o.mu.Lock()
	o.lastErr = e
	o.mu.Unlock()
}
