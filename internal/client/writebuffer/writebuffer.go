// Package writebuffer implements C4, the per-open-handle write-back
// buffer: writes accumulate in memory and are merged with the remote
// baseline only at release, per spec.md §3 "Open Write Handle" and §4.4.
package writebuffer

import (
	"context"
	"sync"

	"github.com/driftfs/driftfs/common"
	"github.com/driftfs/driftfs/internal/wire"
)

// interval is one buffered (offset, bytes) write.
type interval struct {
	offset int64
	data   []byte
}

// Handle is the mutable state of one open write handle: target path, the
// ordered queue of buffered intervals, whether it was opened with
// truncate, and a dirty flag. The intervals are kept in a plain FIFO
// queue (spec.md §3 "ordered mapping from offset to byte buffer") since
// release only ever needs to replay them in write order.
type Handle struct {
	mu       sync.Mutex
	path     string
	truncate bool
	dirty    bool
	closed   bool
	writes   *common.Queue[interval]
}

// NewHandle allocates a handle for path. If truncate is set, release
// synthesizes an empty baseline instead of fetching remote content.
func NewHandle(path string, truncate bool) *Handle {
	return &Handle{path: path, truncate: truncate, writes: common.NewQueue[interval]()}
}

// Write appends a buffered interval. Overlapping later writes supersede
// earlier ones at merge time (spec.md §3); Write itself never touches the
// network.
func (h *Handle) Write(offset int64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	h.writes.Push(interval{offset: offset, data: buf})
	h.dirty = true
}

// BufferedSize returns the logical end offset implied by buffered writes
// alone, i.e. max(offset+len(data)) over all buffered intervals. The
// dispatch layer does not call it; it computes each write's end offset
// itself when updating the cached size.
func (h *Handle) BufferedSize() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var max int64
	for _, w := range drainCopy(h.writes) {
		end := w.offset + int64(len(w.data))
		if end > max {
			max = end
		}
	}
	return max
}

// drainCopy returns q's entries in FIFO order without consuming q.
func drainCopy(q *common.Queue[interval]) []interval {
	tmp := common.NewQueue[interval]()
	out := make([]interval, 0, q.Len())
	for !q.IsEmpty() {
		v := q.Pop()
		out = append(out, v)
		tmp.Push(v)
	}
	for !tmp.IsEmpty() {
		q.Push(tmp.Pop())
	}
	return out
}

// RemoteFetcher fetches the current remote content of a handle's path; it
// is the baseline-read hook release uses before overlaying buffered
// writes. Implemented by the HTTP API client's ReadRange against [0, size).
type RemoteFetcher interface {
	FetchBaseline(ctx context.Context, path string, size int64) ([]byte, error)
}

// RemoteWriter is the hook release uses to PUT the merged content.
type RemoteWriter interface {
	PutFull(ctx context.Context, path string, data []byte, clientID string) error
}

// Release performs the §4.4 merge-and-upload sequence:
//  1. truncate ⇒ empty baseline; else fetch remote content for [0, currentSize).
//  2. overlay buffered intervals in write order, later writes win on overlap.
//  3. PUT the merged bytes with clientID.
//
// On failure the handle's data is discarded and release reports the
// underlying error — the client MUST NOT retain dirty state after Release
// returns, regardless of outcome.
func (h *Handle) Release(ctx context.Context, fetcher RemoteFetcher, writer RemoteWriter, currentSize int64, clientID string) (finalSize int64, err error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, wire.NewAPIError(wire.KindClosed, 0, "release", h.path, nil)
	}
	writes := make([]interval, 0, h.writes.Len())
	for !h.writes.IsEmpty() {
		writes = append(writes, h.writes.Pop())
	}
	truncate := h.truncate
	h.dirty = false
	h.closed = true
	h.mu.Unlock()

	var baseline []byte
	if !truncate && currentSize > 0 && !writesFullyCoverRange(writes, currentSize) {
		baseline, err = fetcher.FetchBaseline(ctx, h.path, currentSize)
		if err != nil {
			return 0, err
		}
	}

	merged := overlay(baseline, writes)

	if err = writer.PutFull(ctx, h.path, merged, clientID); err != nil {
		return 0, err
	}

	return int64(len(merged)), nil
}

// writesFullyCoverRange reports whether the buffered writes collectively
// cover every byte in [0, size), letting release skip the baseline fetch
// (spec.md §4.4 step 2, "skipped if all buffered writes collectively cover
// [0, final_size)").
func writesFullyCoverRange(writes []interval, size int64) bool {
	if size <= 0 {
		return true
	}
	covered := make([]bool, size)
	var remaining int64 = size
	for _, w := range writes {
		start := w.offset
		end := w.offset + int64(len(w.data))
		if start < 0 {
			start = 0
		}
		if end > size {
			end = size
		}
		for i := start; i < end; i++ {
			if !covered[i] {
				covered[i] = true
				remaining--
			}
		}
	}
	return remaining == 0
}

// overlay applies writes onto baseline in order, later writes superseding
// earlier ones on overlap, and extends the result when a write exceeds the
// baseline's current length.
func overlay(baseline []byte, writes []interval) []byte {
	out := append([]byte(nil), baseline...)
	for _, w := range writes {
		end := w.offset + int64(len(w.data))
		if end > int64(len(out)) {
			grown := make([]byte, end)
			copy(grown, out)
			out = grown
		}
		copy(out[w.offset:end], w.data)
	}
	return out
}

// Path returns the handle's target path.
func (h *Handle) Path() string { return h.path }

// Dirty reports whether any write has been buffered since creation or the
// last release.
func (h *Handle) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}
