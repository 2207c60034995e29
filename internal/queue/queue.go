// Package queue holds operations that could not complete while offline and
// replays them once connectivity returns.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/metrics"
)

// ErrStoreUnavailable marks an enqueue that could NOT be safely persisted.
// Callers must treat this as a hard failure, not a silent drop.
var ErrStoreUnavailable = errors.New("queue store unavailable")

// Store persists queued operations. Save is an upsert keyed by operation ID.
// List returns all operations; order is restored by the queue itself.
type Store interface {
	Save(ctx context.Context, op *domain.QueuedOperation) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.QueuedOperation, error)
}

// ReplayFunc re-executes one queued operation during a drain.
type ReplayFunc func(ctx context.Context, op *domain.QueuedOperation) error

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Replayed int
	Stalled  int
	// Failed maps each stalled kind-partition to the error that halted it.
	Failed map[string]error
}

// Queue is the offline operation queue. Mutation goes through its public
// methods, which serialize conflicting writes internally.
type Queue struct {
	store Store
	log   *slog.Logger

	draining chan struct{}
}

// New creates a queue over the given store.
func New(store Store, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		store:    store,
		log:      log,
		draining: make(chan struct{}, 1),
	}
	q.draining <- struct{}{}
	return q
}

// Enqueue persists the operation and returns immediately. A missing ID is
// generated; a missing timestamp is stamped now. Re-enqueuing an existing ID
// replaces the stored payload (latest write wins). Persistence failures are
// surfaced loudly as ErrStoreUnavailable.
func (q *Queue) Enqueue(ctx context.Context, op *domain.QueuedOperation) error {
	if op == nil {
		return fmt.Errorf("nil queued operation")
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Kind == "" {
		op.Kind = "default"
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	if err := q.store.Save(ctx, op); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	q.refreshDepth(ctx)
	q.log.Debug("Operation queued", "id", op.ID, "kind", op.Kind)
	return nil
}

// Discard removes a queued operation without replaying it.
func (q *Queue) Discard(ctx context.Context, id string) error {
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("discard %s: %w", id, err)
	}
	q.refreshDepth(ctx)
	return nil
}

// Pending returns all queued operations in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]*domain.QueuedOperation, error) {
	ops, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued operations: %w", err)
	}
	sortByEnqueue(ops)
	return ops, nil
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	ops, err := q.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Drain replays every queued operation in enqueue order within its kind
// partition, removing each entry only after a successful replay. A failure
// stalls that partition (remaining entries stay queued for the next online
// transition); other partitions continue. Only one drain runs at a time.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (DrainReport, error) {
	report := DrainReport{Failed: make(map[string]error)}

	select {
	case <-q.draining:
		defer func() { q.draining <- struct{}{} }()
	default:
		// Another drain is already in progress.
		return report, nil
	}

	ops, err := q.Pending(ctx)
	if err != nil {
		return report, err
	}
	if len(ops) == 0 {
		return report, nil
	}

	partitions := partitionByKind(ops)

	for kind, part := range partitions {
		for _, op := range part {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}

			op.Attempts++
			if err := replay(ctx, op); err != nil {
				metrics.QueueReplays.WithLabelValues("failure").Inc()
				q.log.Warn("Replay failed, partition stalled",
					"id", op.ID,
					"kind", kind,
					"error", err,
				)
				// Best effort: keep the attempt count across drains.
				_ = q.store.Save(ctx, op)
				report.Failed[kind] = err
				report.Stalled += remaining(part, op)
				break
			}

			if err := q.store.Delete(ctx, op.ID); err != nil {
				// Replayed but not removed: stop the partition rather than
				// risk a double replay next drain being invisible.
				report.Failed[kind] = fmt.Errorf("remove replayed operation: %w", err)
				report.Stalled += remaining(part, op)
				break
			}

			metrics.QueueReplays.WithLabelValues("success").Inc()
			report.Replayed++
			q.log.Info("Queued operation replayed", "id", op.ID, "kind", kind)
		}
	}

	q.refreshDepth(ctx)
	return report, nil
}

func (q *Queue) refreshDepth(ctx context.Context) {
	if n, err := q.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}

// partitionByKind groups operations by kind, preserving enqueue order.
func partitionByKind(ops []*domain.QueuedOperation) map[string][]*domain.QueuedOperation {
	parts := make(map[string][]*domain.QueuedOperation)
	for _, op := range ops {
		parts[op.Kind] = append(parts[op.Kind], op)
	}
	return parts
}

// remaining counts entries at or after op in its partition slice.
func remaining(part []*domain.QueuedOperation, op *domain.QueuedOperation) int {
	for i, p := range part {
		if p.ID == op.ID {
			return len(part) - i
		}
	}
	return 0
}

// sortByEnqueue restores enqueue order; the ID tiebreak keeps the order
// stable for entries stamped in the same instant.
func sortByEnqueue(ops []*domain.QueuedOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].EnqueuedAt.Equal(ops[j].EnqueuedAt) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt)
	})
}
