package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/attendance"
)

const rosterKeyPrefix = "rollcall:roster:"

// RosterCache holds precomputed course rosters in Redis so the API can serve
// them without re-aggregating on every request. The worker refreshes an
// entry whenever a session for its course closes.
type RosterCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRosterCache creates a cache; ttl <= 0 defaults to one hour.
func NewRosterCache(client *redis.Client, ttl time.Duration) *RosterCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RosterCache{client: client, ttl: ttl}
}

// Get returns the cached roster, ok=false on miss or redis trouble.
func (c *RosterCache) Get(ctx context.Context, courseID string) ([]attendance.RosterEntry, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, rosterKeyPrefix+courseID).Bytes()
	if err != nil {
		return nil, false
	}
	var roster []attendance.RosterEntry
	if err := json.Unmarshal(payload, &roster); err != nil {
		return nil, false
	}
	return roster, true
}

// Set stores the roster under the course key.
func (c *RosterCache) Set(ctx context.Context, courseID string, roster []attendance.RosterEntry) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(roster)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rosterKeyPrefix+courseID, payload, c.ttl).Err()
}

// Invalidate drops the cached roster, used when a course is deleted.
func (c *RosterCache) Invalidate(ctx context.Context, courseID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, rosterKeyPrefix+courseID).Err()
}
