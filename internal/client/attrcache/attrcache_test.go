package attrcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_MissThenHitThenInvalidate(t *testing.T) {
	c := New(Config{Strategy: StrategyTTL, TTLSeconds: 60})

	_, ok := c.Get(5)
	assert.False(t, ok)

	c.Insert(5, Attr{Size: 42})
	got, ok := c.Get(5)
	require.True(t, ok)
	assert.EqualValues(t, 42, got.Size)

	c.Invalidate(5)
	_, ok = c.Get(5)
	assert.False(t, ok)
}

func TestTTLCache_ExpiresAfterTTL(t *testing.T) {
	c := newTTLCache(10 * time.Millisecond)
	c.Insert(1, Attr{Size: 1})

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get(1)
	assert.False(t, ok, "entry should have expired")
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{Strategy: StrategyLRU, LRUCapacity: 2})

	c.Insert(1, Attr{Size: 1})
	c.Insert(2, Attr{Size: 2})
	// Touch 1 so it becomes more recently used than 2.
	_, _ = c.Get(1)
	c.Insert(3, Attr{Size: 3})

	_, ok := c.Get(2)
	assert.False(t, ok, "2 should have been evicted as least recently used")

	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestNoneCache_NeverHits(t *testing.T) {
	c := New(Config{Strategy: StrategyNone})
	c.Insert(1, Attr{Size: 99})
	_, ok := c.Get(1)
	assert.False(t, ok)
}
