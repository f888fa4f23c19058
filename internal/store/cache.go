package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

const (
	activeSetKey   = "crisis:active"
	snapshotPrefix = "crisis:wf:"
	snapshotTTL    = 10 * time.Minute
)

// Cache indexes the active workflow set and keeps recent snapshots in Redis
// so read paths don't hit Postgres for every dashboard poll.
type Cache struct {
	rdb *redis.Client
}

// NewCache wraps a Redis client.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// MarkActive adds a workflow id to the active set.
func (c *Cache) MarkActive(ctx context.Context, id uuid.UUID) error {
	if err := c.rdb.SAdd(ctx, activeSetKey, id.String()).Err(); err != nil {
		return fmt.Errorf("marking workflow %s active: %w", id, err)
	}
	return nil
}

// MarkInactive removes a workflow from the active set and drops its snapshot.
func (c *Cache) MarkInactive(ctx context.Context, id uuid.UUID) error {
	if err := c.rdb.SRem(ctx, activeSetKey, id.String()).Err(); err != nil {
		return fmt.Errorf("removing workflow %s from active set: %w", id, err)
	}
	c.rdb.Del(ctx, snapshotPrefix+id.String())
	return nil
}

// ActiveIDs returns the current active workflow ids.
func (c *Cache) ActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	members, err := c.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading active set: %w", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// PutSnapshot caches a workflow snapshot with a TTL.
func (c *Cache) PutSnapshot(ctx context.Context, wf *crisis.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", wf.ID, err)
	}
	if err := c.rdb.Set(ctx, snapshotPrefix+wf.ID.String(), doc, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("caching snapshot %s: %w", wf.ID, err)
	}
	return nil
}

// GetSnapshot returns a cached snapshot, or ErrNotFound on a cache miss.
func (c *Cache) GetSnapshot(ctx context.Context, id uuid.UUID) (*crisis.Workflow, error) {
	doc, err := c.rdb.Get(ctx, snapshotPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", id, err)
	}
	var wf crisis.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return &wf, nil
}
