package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/resilient/internal/core/domain"
)

// QueueStore implements queue.Store on Redis: one JSON value per operation
// plus a sorted-set index scored by enqueue time, so a re-enqueue of the same
// ID replaces the payload instead of duplicating the entry.
type QueueStore struct {
	rdb       *redis.Client
	namespace string
}

// NewQueueStore creates a Redis-backed queue store. The namespace isolates
// independent queues sharing one Redis.
func NewQueueStore(client *Client, namespace string) *QueueStore {
	if namespace == "" {
		namespace = "default"
	}
	return &QueueStore{
		rdb:       client.rdb,
		namespace: namespace,
	}
}

func (s *QueueStore) indexKey() string {
	return fmt.Sprintf("offline_queue:%s", s.namespace)
}

func (s *QueueStore) opKey(id string) string {
	return fmt.Sprintf("offline_op:%s:%s", s.namespace, id)
}

// Save upserts the operation.
func (s *QueueStore) Save(ctx context.Context, op *domain.QueuedOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal queued operation: %w", err)
	}

	if err := s.rdb.Set(ctx, s.opKey(op.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set queued operation: %w", err)
	}

	// Score by enqueue time so List recovers arrival order.
	if err := s.rdb.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(op.EnqueuedAt.UnixNano()),
		Member: op.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index queued operation: %w", err)
	}

	return nil
}

// Delete removes the operation and its index entry.
func (s *QueueStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.ZRem(ctx, s.indexKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	if err := s.rdb.Del(ctx, s.opKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete queued operation: %w", err)
	}
	return nil
}

// List returns all queued operations in index (enqueue) order.
func (s *QueueStore) List(ctx context.Context) ([]*domain.QueuedOperation, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	ops := make([]*domain.QueuedOperation, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, s.opKey(id)).Bytes()
		if err == redis.Nil {
			// Orphaned index entry, drop it.
			s.rdb.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get queued operation: %w", err)
		}

		var op domain.QueuedOperation
		if err := json.Unmarshal(data, &op); err != nil {
			continue
		}
		ops = append(ops, &op)
	}

	return ops, nil
}
