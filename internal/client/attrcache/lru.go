package attrcache

import (
	"strconv"

	"github.com/driftfs/driftfs/internal/lrucache"
)

// attrValue adapts Attr to lrucache.ValueType. Every entry counts as a
// single unit of capacity — the cache's "capacity" is an entry count, not a
// byte budget, matching spec.md §4.2's "fixed capacity" LRU policy.
type attrValue struct {
	attr Attr
}

func (attrValue) Size() uint64 { return 1 }

// lruBacked implements Cache on top of the teacher's generic LRU cache,
// which already implements move-to-front on Get and evict-on-insert.
type lruBacked struct {
	c lrucache.Cache
}

func newLRUCache(capacity uint64) Cache {
	if capacity == 0 {
		capacity = 1
	}
	return &lruBacked{c: lrucache.New(capacity)}
}

func key(inode uint64) string {
	return strconv.FormatUint(inode, 10)
}

func (l *lruBacked) Get(inode uint64) (Attr, bool) {
	v := l.c.LookUp(key(inode))
	if v == nil {
		return Attr{}, false
	}
	return v.(attrValue).attr, true
}

func (l *lruBacked) Insert(inode uint64, attr Attr) {
	l.c.Insert(key(inode), attrValue{attr: attr})
}

func (l *lruBacked) Invalidate(inode uint64) {
	l.c.Erase(key(inode))
}
