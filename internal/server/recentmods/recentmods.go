// Package recentmods implements the server-side Recent-Modification
// Record of spec.md §3/§4.8: a path's Idle → Pending → Emitted → Idle
// state machine, used to attribute watcher-observed mutations back to the
// HTTP client that caused them.
package recentmods

import (
	"sync"
	"time"

	"github.com/driftfs/driftfs/internal/wire"
)

type record struct {
	clientID string
	deadline time.Time
}

// Map is the recent-mods map: canonical path → (client id, deadline). A
// single exclusive lock guards it; Mark and ConsumeOnFire are O(1), while
// Sweep walks every record.
type Map struct {
	mu      sync.Mutex
	records map[string]record
}

// New returns an empty recent-mods map.
func New() *Map {
	return &Map{records: make(map[string]record)}
}

// Mark transitions path from Idle to Pending: a mutating HTTP call just
// landed, attributed to clientID, and will be consumed by the next
// watcher fire on path within ttl.
func (m *Map) Mark(path, clientID string, ttl time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[path] = record{clientID: clientID, deadline: now.Add(ttl)}
}

// ConsumeOnFire transitions path from Pending to Emitted: called when the
// watcher observes a mutation on path. Returns the client id to attribute
// the change to. A record consumed before its deadline attributes to its
// own client id; after the deadline (or if absent) it attributes to
// wire.UnknownClientID, per spec.md §4.8's state machine.
func (m *Map) ConsumeOnFire(path string, now time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[path]
	if !ok {
		return wire.UnknownClientID
	}
	delete(m.records, path)

	if now.After(rec.deadline) {
		return wire.UnknownClientID
	}
	return rec.clientID
}

// Sweep opportunistically removes Pending records whose deadline has
// passed without ever being consumed by a watcher fire (spec.md §4.8,
// "expired entries are swept opportunistically").
func (m *Map) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, rec := range m.records {
		if now.After(rec.deadline) {
			delete(m.records, path)
		}
	}
}
