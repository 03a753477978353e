package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"hotspot-billing/internal/domain/model"
)

const accountSnapshotKey = "accounts:snapshot"

// SnapshotCache persists the poller's last account snapshot so restarted
// processes and secondary replicas can serve reads before their own first
// poll completes.
type SnapshotCache struct {
	client *Client
	ttl    time.Duration
}

func NewSnapshotCache(client *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

type snapshotEnvelope struct {
	TakenAt  time.Time        `json:"taken_at"`
	Accounts []*model.Account `json:"accounts"`
}

func (c *SnapshotCache) Store(ctx context.Context, takenAt time.Time, accounts []*model.Account) error {
	data, err := json.Marshal(snapshotEnvelope{TakenAt: takenAt, Accounts: accounts})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, accountSnapshotKey, data, c.ttl)
}

// Load returns the cached snapshot, or a zero time and nil slice when none
// is cached.
func (c *SnapshotCache) Load(ctx context.Context) (time.Time, []*model.Account, error) {
	data, err := c.client.Get(ctx, accountSnapshotKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil, nil
		}
		return time.Time{}, nil, err
	}
	var env snapshotEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return time.Time{}, nil, err
	}
	return env.TakenAt, env.Accounts, nil
}
