package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"party-session-service/internal/domain"
)

// ItemLoader fetches item sets from a backing store (the content
// pipeline's output, e.g. a document DB or Postgres).
type ItemLoader interface {
	LoadItemSet(ctx context.Context, setID string) (domain.ItemSet, error)
}

// ItemRepository caches item sets with TTL to avoid repeated loads. Item
// sets are immutable per session, so a stale entry is never wrong, only
// eventually evicted.
type ItemRepository struct {
	loader ItemLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.ItemSet
	expiresAt time.Time
}

func NewItemRepository(loader ItemLoader, ttl time.Duration) *ItemRepository {
	return &ItemRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

func (r *ItemRepository) GetItemSet(ctx context.Context, setID string) (domain.ItemSet, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[setID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.set, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(setID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[setID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.set, nil
		}
		r.mu.RUnlock()

		set, err := r.loader.LoadItemSet(ctx, setID)
		if err != nil {
			return domain.ItemSet{}, err
		}

		r.mu.Lock()
		r.cache[setID] = cachedSet{
			set:       set,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.ItemSet{}, err
	}
	return result.(domain.ItemSet), nil
}

func (r *ItemRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticItemLoader is a simple loader backed by an in-memory map (useful
// for tests/demos).
type StaticItemLoader struct {
	sets map[string]domain.ItemSet
}

func NewStaticItemLoader(sets map[string]domain.ItemSet) *StaticItemLoader {
	return &StaticItemLoader{sets: sets}
}

func (l *StaticItemLoader) LoadItemSet(_ context.Context, setID string) (domain.ItemSet, error) {
	if set, ok := l.sets[setID]; ok {
		return set, nil
	}
	return domain.ItemSet{}, domain.ErrItemSetNotFound
}
