package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/resilient/internal/core/domain"
)

// QueueStore implements queue.Store on PostgreSQL.
type QueueStore struct {
	db *sqlx.DB
}

// NewQueueStore creates a Postgres-backed queue store.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db.DB}
}

type queuedRow struct {
	ID         string    `db:"id"`
	Kind       string    `db:"kind"`
	Payload    []byte    `db:"payload"`
	EnqueuedAt time.Time `db:"enqueued_at"`
	Attempts   int       `db:"attempts"`
}

// Save upserts by ID so a re-enqueue replaces the payload.
func (s *QueueStore) Save(ctx context.Context, op *domain.QueuedOperation) error {
	query := `
		INSERT INTO queued_operations (id, kind, payload, enqueued_at, attempts)
		VALUES (:id, :kind, :payload, :enqueued_at, :attempts)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind,
		    payload = EXCLUDED.payload,
		    enqueued_at = EXCLUDED.enqueued_at,
		    attempts = EXCLUDED.attempts
	`
	row := queuedRow{
		ID:         op.ID,
		Kind:       op.Kind,
		Payload:    op.Payload,
		EnqueuedAt: op.EnqueuedAt,
		Attempts:   op.Attempts,
	}
	if row.Payload == nil {
		row.Payload = []byte("null")
	}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save queued operation: %w", err)
	}
	return nil
}

// Delete removes one queued operation.
func (s *QueueStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM queued_operations WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete queued operation: %w", err)
	}
	return nil
}

// List returns all queued operations in enqueue order.
func (s *QueueStore) List(ctx context.Context) ([]*domain.QueuedOperation, error) {
	var rows []queuedRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, payload, enqueued_at, attempts
		FROM queued_operations
		ORDER BY enqueued_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued operations: %w", err)
	}

	ops := make([]*domain.QueuedOperation, 0, len(rows))
	for _, r := range rows {
		ops = append(ops, &domain.QueuedOperation{
			ID:         r.ID,
			Kind:       r.Kind,
			Payload:    json.RawMessage(r.Payload),
			EnqueuedAt: r.EnqueuedAt,
			Attempts:   r.Attempts,
		})
	}
	return ops, nil
}
