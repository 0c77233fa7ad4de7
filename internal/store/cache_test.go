package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/iplchat/internal/models"
)

func chanWithSubs(uuid string, subs int) *models.Channel {
	ch := &models.Channel{UUID: uuid, Subscribers: make(map[string]struct{})}
	for i := 0; i < subs; i++ {
		ch.Subscribers[uuid+"-sub-"+string(rune('a'+i))] = struct{}{}
	}
	return ch
}

func TestChannelCacheInsertUnderCapacity(t *testing.T) {
	c := newChannelCache(2)
	now := time.Now().UTC()

	require.True(t, c.put(chanWithSubs("a", 1), now))
	require.True(t, c.put(chanWithSubs("b", 1), now))
	assert.Equal(t, 2, c.len())

	ch, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "a", ch.UUID)
}

func TestChannelCacheResidentInsertIsNoop(t *testing.T) {
	c := newChannelCache(2)
	now := time.Now().UTC()

	first := chanWithSubs("a", 1)
	c.put(first, now)
	cached := c.put(chanWithSubs("a", 99), now) // same uuid, different content
	assert.True(t, cached)

	ch, _ := c.get("a")
	assert.Same(t, first, ch, "resident insert must not replace the existing entry")
}

func TestChannelCacheEvictsLowestRelevanceWhenStrictlyExceeded(t *testing.T) {
	c := newChannelCache(1)
	now := time.Now().UTC()

	low := chanWithSubs("low", 1)
	c.put(low, now)

	high := chanWithSubs("high", 10)
	cached := c.put(high, now)
	require.True(t, cached)

	_, lowStillThere := c.get("low")
	assert.False(t, lowStillThere)
	_, highThere := c.get("high")
	assert.True(t, highThere)
}

func TestChannelCacheRejectsWhenNotStrictlyGreater(t *testing.T) {
	c := newChannelCache(1)
	now := time.Now().UTC()

	resident := chanWithSubs("resident", 10)
	c.put(resident, now)

	weaker := chanWithSubs("weaker", 1)
	cached := c.put(weaker, now)
	assert.False(t, cached)

	_, stillThere := c.get("resident")
	assert.True(t, stillThere)
	_, weakerThere := c.get("weaker")
	assert.False(t, weakerThere)
}

func TestChannelCacheInvalidate(t *testing.T) {
	c := newChannelCache(2)
	now := time.Now().UTC()
	c.put(chanWithSubs("a", 1), now)

	c.invalidate("a")
	_, ok := c.get("a")
	assert.False(t, ok)
}
