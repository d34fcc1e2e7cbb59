// Package attrcache implements the C2 attribute cache: a short-lived,
// pluggable-eviction cache of file metadata keyed by inode. Two strategies
// are provided, TTL and LRU, plus a no-op strategy mirroring the "none"
// variant present in the original implementation but dropped from the
// distilled spec. Callers depend only on the Cache interface and never
// observe which strategy backs it (spec.md §4.2, §9 "avoid leaking
// eviction policy into callers").
package attrcache

import "time"

// Attr is the Attribute Record of spec.md §3, keyed by inode by the Cache.
type Attr struct {
	Size  uint64
	Mode  uint32
	Mtime time.Time
	Atime time.Time
	Ctime time.Time
	Nlink uint32
	UID   uint32
	GID   uint32
}

// Cache is the capability every eviction strategy exposes: get, insert,
// invalidate. Strategy never leaks past this interface.
type Cache interface {
	Get(inode uint64) (Attr, bool)
	Insert(inode uint64, attr Attr)
	Invalidate(inode uint64)
}

// Strategy selects an eviction policy. StrategyNone disables caching
// outright, matching original_source/client/src/fs/cache.rs's
// AttributeCache::None variant.
type Strategy string

const (
	StrategyTTL  Strategy = "ttl"
	StrategyLRU  Strategy = "lru"
	StrategyNone Strategy = "none"
)

// Config configures the C2 cache at mount time via the CLI flags of
// spec.md §6.
type Config struct {
	Strategy     Strategy
	TTLSeconds   uint64
	LRUCapacity  uint64
}

// New builds the configured Cache implementation.
func New(cfg Config) Cache {
	switch cfg.Strategy {
	case StrategyLRU:
		return newLRUCache(cfg.LRUCapacity)
	case StrategyNone:
		return noneCache{}
	default:
		return newTTLCache(time.Duration(cfg.TTLSeconds) * time.Second)
	}
}

// noneCache implements Cache by doing nothing; every Get misses.
type noneCache struct{}

func (noneCache) Get(uint64) (Attr, bool) { return Attr{}, false }
func (noneCache) Insert(uint64, Attr)     {}
func (noneCache) Invalidate(uint64)       {}
