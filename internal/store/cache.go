package store

import (
	"sync"
	"time"

	"github.com/kindlyrobotics/iplchat/internal/models"
)

// channelCacheCapacity is the cache's fixed size (spec §4.5).
const channelCacheCapacity = 100

// channelCache holds up to channelCacheCapacity Channel records, evicting
// by relevance. Capacity-check-then-evict happens under a single lock so
// the eviction rule cannot race (spec §5).
type channelCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*models.Channel
}

func newChannelCache(capacity int) *channelCache {
	return &channelCache{
		capacity: capacity,
		entries:  make(map[string]*models.Channel),
	}
}

// get returns the cached channel, if resident.
func (c *channelCache) get(uuid string) (*models.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.entries[uuid]
	return ch, ok
}

// put inserts ch into the cache. If uuid is already resident, this is a
// no-op. If the cache has room, ch is inserted unconditionally. If the
// cache is full, ch replaces the resident with the lowest relevance only
// if ch's relevance strictly exceeds it; otherwise ch is not cached (the
// caller has already read it through from durable storage).
func (c *channelCache) put(ch *models.Channel, now time.Time) (cached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[ch.UUID]; ok {
		return true
	}
	if len(c.entries) < c.capacity {
		c.entries[ch.UUID] = ch
		return true
	}

	var lowestUUID string
	lowestRelevance := 0.0
	first := true
	for uuid, resident := range c.entries {
		r := resident.Relevance(now)
		if first || r < lowestRelevance {
			lowestUUID, lowestRelevance = uuid, r
			first = false
		}
	}

	if ch.Relevance(now) <= lowestRelevance {
		return false
	}
	delete(c.entries, lowestUUID)
	c.entries[ch.UUID] = ch
	return true
}

// invalidate removes uuid from the cache, e.g. after a subscription
// change that the cached copy would otherwise miss.
func (c *channelCache) invalidate(uuid string) {
	c.mu.Lock()
	delete(c.entries, uuid)
	c.mu.Unlock()
}

// len reports the number of resident entries, for tests.
func (c *channelCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
