// Package runner orchestrates the resilience layer: connectivity check,
// offline deferral, bounded retries, failure classification, and cache
// write-through.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/resilient/internal/cache"
	"github.com/vietddude/resilient/internal/classify"
	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/monitor"
	"github.com/vietddude/resilient/internal/queue"
	"github.com/vietddude/resilient/internal/retry"
)

// Status is the terminal state of one Run call.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusDeferred means the operation was queued for replay, not failed.
	// Callers should render a pending-sync indicator, not an error banner.
	StatusDeferred Status = "deferred"
)

// Operation is the caller-supplied remote call; the runner treats it as
// opaque.
type Operation func(ctx context.Context) (any, error)

// Options configure one Run call.
type Options struct {
	// DeferWhenOffline queues the operation instead of failing when the
	// monitor reports offline.
	DeferWhenOffline bool
	// Kind selects the replay partition for a deferred operation.
	Kind string
	// ID makes deferral idempotent: re-running with the same ID replaces the
	// queued payload. Empty means a fresh ID per deferral.
	ID string
	// Payload is what gets persisted for replay; it must be
	// JSON-serializable.
	Payload any
	// Policy overrides the runner's default retry policy when non-zero.
	Policy retry.Policy
	// CacheKey, when set, writes the successful result through to the cache.
	CacheKey string
	// CacheTTL is the freshness window for the write-through entry.
	CacheTTL time.Duration
}

// Result is the structured outcome of one Run call. Err is set only for
// failed runs and always carries the classified failure.
type Result struct {
	Status   Status
	Value    any
	Attempts int
	Err      *domain.ClassifiedError
	// QueuedID identifies the deferred operation for later inspection.
	QueuedID string
}

// Runner wires the monitor, queue, cache, and retry scheduler together. It
// holds no per-call state between runs.
type Runner struct {
	monitor *monitor.Monitor
	queue   *queue.Queue
	cache   *cache.Cache
	policy  retry.Policy
	replay  queue.ReplayFunc
	log     *slog.Logger

	wasOnline   atomic.Bool
	unsubscribe func()
}

// New creates a runner. When replay is non-nil the runner subscribes to the
// monitor and drains the queue on every offline-to-online transition.
func New(
	mon *monitor.Monitor,
	q *queue.Queue,
	c *cache.Cache,
	policy retry.Policy,
	replay queue.ReplayFunc,
	log *slog.Logger,
) *Runner {
	if log == nil {
		log = slog.Default()
	}

	r := &Runner{
		monitor: mon,
		queue:   q,
		cache:   c,
		policy:  policy,
		replay:  replay,
		log:     log,
	}

	if mon != nil && q != nil && replay != nil {
		r.wasOnline.Store(mon.Current().IsOnline)
		r.unsubscribe = mon.Subscribe(func(st domain.ConnectionState) {
			if st.IsOnline && !r.wasOnline.Swap(true) {
				go r.drain()
			}
			if !st.IsOnline {
				r.wasOnline.Store(false)
			}
		})
	}

	return r
}

// Close detaches the runner from the monitor.
func (r *Runner) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// Run executes the operation through the resilience pipeline. The returned
// error is non-nil only when a deferral could not be safely queued; every
// other failure resolves into the Result.
func (r *Runner) Run(ctx context.Context, op Operation, opts Options) (Result, error) {
	st := r.currentState()

	if !st.IsOnline && opts.DeferWhenOffline {
		return r.deferToQueue(ctx, opts)
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = r.policy
	}

	handle := retry.Schedule(retry.Func[any](op), policy)
	value, err := handle.Execute(ctx)

	if err != nil {
		cerr := handle.LastError()
		if cerr == nil {
			cerr = classify.Classify(err)
		}
		r.log.Warn("Operation failed",
			"category", cerr.Category,
			"severity", cerr.Severity,
			"attempts", handle.Attempts(),
			"exhausted", errors.Is(err, retry.ErrExhausted),
		)
		return Result{
			Status:   StatusFailed,
			Attempts: handle.Attempts(),
			Err:      cerr,
		}, nil
	}

	if opts.CacheKey != "" && r.cache != nil {
		r.cache.Set(opts.CacheKey, value, opts.CacheTTL)
	}

	return Result{
		Status:   StatusSucceeded,
		Value:    value,
		Attempts: handle.Attempts(),
	}, nil
}

// deferToQueue hands the operation to the offline queue. Queue-storage failure is
// the one hard failure in this layer and is returned as an error.
func (r *Runner) deferToQueue(ctx context.Context, opts Options) (Result, error) {
	if r.queue == nil {
		return Result{}, fmt.Errorf("offline and deferrable, but no queue configured")
	}

	payload, err := json.Marshal(opts.Payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal deferred payload: %w", err)
	}

	qop := &domain.QueuedOperation{
		ID:      opts.ID,
		Kind:    opts.Kind,
		Payload: payload,
	}
	if err := r.queue.Enqueue(ctx, qop); err != nil {
		return Result{}, err
	}

	r.log.Info("Operation deferred until reconnect", "id", qop.ID, "kind", qop.Kind)
	return Result{
		Status:   StatusDeferred,
		QueuedID: qop.ID,
	}, nil
}

// drain replays queued operations after a reconnect.
func (r *Runner) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := r.queue.Drain(ctx, r.replay)
	if err != nil {
		r.log.Error("Drain failed", "error", err)
		return
	}
	if report.Replayed > 0 || report.Stalled > 0 {
		r.log.Info("Offline queue drained",
			"replayed", report.Replayed,
			"stalled", report.Stalled,
		)
	}
}

func (r *Runner) currentState() domain.ConnectionState {
	if r.monitor == nil {
		return domain.ConnectionState{IsOnline: true, Quality: domain.QualityFast}
	}
	return r.monitor.Current()
}
