package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"party-session-service/internal/domain"
)

// ItemLoader fetches item sets from a backing store (e.g. Postgres).
type ItemLoader interface {
	LoadItemSet(ctx context.Context, setID string) (domain.ItemSet, error)
}

// ItemRepository caches item sets in Redis as JSON and falls back to a
// loader on cache miss. Item sets are immutable, so the cached value can
// only go stale in the TTL sense, never wrong.
type ItemRepository struct {
	client *redis.Client
	loader ItemLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewItemRepository(client *redis.Client, loader ItemLoader, ttl time.Duration) *ItemRepository {
	return &ItemRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ItemRepository) GetItemSet(ctx context.Context, setID string) (domain.ItemSet, error) {
	key := r.key(setID)

	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var set domain.ItemSet
		if err := json.Unmarshal(raw, &set); err == nil {
			return set, nil
		}
		// Unreadable cache entry: drop it and reload.
		_ = r.client.Del(ctx, key).Err()
	}

	result, err, _ := r.sf.Do(setID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
			var set domain.ItemSet
			if err := json.Unmarshal(raw, &set); err == nil {
				return set, nil
			}
		}

		set, err := r.loader.LoadItemSet(ctx, setID)
		if err != nil {
			return domain.ItemSet{}, err
		}

		if raw, err := json.Marshal(set); err == nil {
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return set, nil
	})
	if err != nil {
		return domain.ItemSet{}, err
	}
	return result.(domain.ItemSet), nil
}

func (r *ItemRepository) key(setID string) string {
	return "items:" + setID
}

func (r *ItemRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
