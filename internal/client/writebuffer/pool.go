package writebuffer

import "sync"

// Pool tracks open write handles keyed by the kernel-opaque file-handle id
// FUSE hands out on open/create.
type Pool struct {
	mu      sync.Mutex
	handles map[uint64]*Handle
}

// NewPool returns an empty handle pool.
func NewPool() *Pool {
	return &Pool{handles: make(map[uint64]*Handle)}
}

// Open registers a new handle under id, replacing any (unexpected) prior
// occupant of that id.
func (p *Pool) Open(id uint64, path string, truncate bool) *Handle {
	h := NewHandle(path, truncate)
	p.mu.Lock()
	p.handles[id] = h
	p.mu.Unlock()
	return h
}

// Get returns the handle for id, if open.
func (p *Pool) Get(id uint64) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[id]
	return h, ok
}

// Close drops the handle for id from the pool (called after Release,
// successful or not, since the contract discards dirty data on failure
// too).
func (p *Pool) Close(id uint64) {
	p.mu.Lock()
	delete(p.handles, id)
	p.mu.Unlock()
}
