package attrcache

import (
	"time"

	"github.com/driftfs/driftfs/ttlcache"
)

// ttlBacked implements Cache on top of the generic ttlcache.Cache, run with
// no background sweep: freshness is checked at Get time, matching
// spec.md §4.2 ("get returns None for non-fresh entries and evicts them").
type ttlBacked struct {
	c *ttlcache.Cache[uint64, Attr]
}

func newTTLCache(ttl time.Duration) Cache {
	return &ttlBacked{c: ttlcache.New[uint64, Attr](ttl, 0)}
}

func (t *ttlBacked) Get(inode uint64) (Attr, bool) {
	v, ok := t.c.Get(inode)
	if !ok {
		t.c.Delete(inode)
		return Attr{}, false
	}
	return v, true
}

func (t *ttlBacked) Insert(inode uint64, attr Attr) {
	t.c.Set(inode, attr)
}

func (t *ttlBacked) Invalidate(inode uint64) {
	t.c.Delete(inode)
}
