package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeIndex caches join-code to party-id lookups. Join codes are assigned
// once per party and never reused while the party exists, so entries
// only need a TTL to bound memory. All operations are best effort; a
// miss or a Redis error just falls back to the table lookup.
type CodeIndex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCodeIndex(client *redis.Client, ttl time.Duration) *CodeIndex {
	return &CodeIndex{client: client, ttl: ttl}
}

func (c *CodeIndex) GetCode(ctx context.Context, code string) (string, bool) {
	id, err := c.client.Get(ctx, c.key(code)).Result()
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (c *CodeIndex) SetCode(ctx context.Context, code, partyID string) {
	_ = c.client.Set(ctx, c.key(code), partyID, c.ttl).Err()
}

func (c *CodeIndex) key(code string) string {
	return "party:code:" + code
}
