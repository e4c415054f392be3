package app

import (
	"sync"
	"time"

	"party-session-service/internal/domain"
)

// snapshotCache holds per-(party, caller) snapshots keyed by the event
// counter they were computed under. An entry is served only while its
// counter matches the party's current one and it has not outlived the
// TTL backstop. An explicit map keeps the generation-matching semantics
// visible; a TTL-only cache cannot express them.
type snapshotCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]snapshotEntry
}

type snapshotEntry struct {
	snap      domain.Snapshot
	seq       int64
	expiresAt time.Time
}

const cacheSweepThreshold = 4096

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		ttl:     ttl,
		entries: make(map[string]snapshotEntry),
	}
}

func (c *snapshotCache) get(key string, seq int64, now time.Time) (domain.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || entry.seq != seq || !entry.expiresAt.After(now) {
		return domain.Snapshot{}, false
	}
	return entry.snap, true
}

func (c *snapshotCache) put(key string, seq int64, snap domain.Snapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= cacheSweepThreshold {
		for k, e := range c.entries {
			if !e.expiresAt.After(now) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = snapshotEntry{snap: snap, seq: seq, expiresAt: now.Add(c.ttl)}
}
