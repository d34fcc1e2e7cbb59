// Package metrics implements C10: prometheus counters and histograms for
// the VFS dispatch layer (C5), the server's HTTP handlers (C7), and the
// watcher/broadcast pair (C8), in the teacher's decorator idiom (compare
// internal/fs/monitoring_fs.go's WithMonitoring wrapping a fuseutil.FileSystem).
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fsRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftfs_fs_requests_total",
			Help: "Number of VFS dispatch calls per method.",
		},
		[]string{"method"},
	)
	fsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftfs_fs_errors_total",
			Help: "Number of VFS dispatch calls per method that returned an error.",
		},
		[]string{"method"},
	)
	fsLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "driftfs_fs_request_latency_ms",
			Help: "Latency of VFS dispatch calls in milliseconds.",
		},
		[]string{"method"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftfs_http_requests_total",
			Help: "Number of server HTTP requests by route and status.",
		},
		[]string{"route", "method", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "driftfs_http_request_latency_ms",
			Help: "Latency of server HTTP requests in milliseconds.",
		},
		[]string{"route", "method"},
	)

	broadcastDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftfs_broadcast_drops_total",
			Help: "Number of change events dropped because a subscriber's queue was full.",
		},
	)

	attrCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftfs_attr_cache_hits_total",
			Help: "Number of attribute cache hits in the VFS dispatch layer.",
		},
	)
	attrCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftfs_attr_cache_misses_total",
			Help: "Number of attribute cache misses in the VFS dispatch layer.",
		},
	)
)

func init() {
	prometheus.MustRegister(fsRequests, fsErrors, fsLatency, httpRequests, httpLatency, broadcastDrops, attrCacheHits, attrCacheMisses)
}

// BroadcastDropHook increments the C8 drop counter; assign to
// watcher.Broadcaster.DropHook.
func BroadcastDropHook() { broadcastDrops.Inc() }

// RecordCacheHit and RecordCacheMiss back C2's attribute-cache hit ratio.
func RecordCacheHit()  { attrCacheHits.Inc() }
func RecordCacheMiss() { attrCacheMisses.Inc() }

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler { return promhttp.Handler() }

func recordFS(method string, start time.Time, err error) {
	fsRequests.With(prometheus.Labels{"method": method}).Inc()
	if err != nil {
		fsErrors.With(prometheus.Labels{"method": method}).Inc()
	}
	fsLatency.With(prometheus.Labels{"method": method}).Observe(float64(time.Since(start).Milliseconds()))
}

// WithMetrics wraps a FileSystem, recording a request counter, an error
// counter, and a latency histogram per method, the same decorator shape as
// WithErrorMapping (internal/client/vfs/error_mapping.go).
func WithMetrics(wrapped fuseutil.FileSystem) fuseutil.FileSystem {
	return &instrumented{wrapped: wrapped}
}

type instrumented struct {
	wrapped fuseutil.FileSystem
}

func (fs *instrumented) Destroy() { fs.wrapped.Destroy() }

func (fs *instrumented) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	start := time.Now()
	err := fs.wrapped.StatFS(ctx, op)
	recordFS("StatFS", start, err)
	return err
}

func (fs *instrumented) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	start := time.Now()
	err := fs.wrapped.LookUpInode(ctx, op)
	recordFS("LookUpInode", start, err)
	return err
}

func (fs *instrumented) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	start := time.Now()
	err := fs.wrapped.GetInodeAttributes(ctx, op)
	recordFS("GetInodeAttributes", start, err)
	return err
}

func (fs *instrumented) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	start := time.Now()
	err := fs.wrapped.SetInodeAttributes(ctx, op)
	recordFS("SetInodeAttributes", start, err)
	return err
}

func (fs *instrumented) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	start := time.Now()
	err := fs.wrapped.ForgetInode(ctx, op)
	recordFS("ForgetInode", start, err)
	return err
}

func (fs *instrumented) BatchForget(ctx context.Context, op *fuseops.BatchForgetOp) error {
	start := time.Now()
	err := fs.wrapped.BatchForget(ctx, op)
	recordFS("BatchForget", start, err)
	return err
}

func (fs *instrumented) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	start := time.Now()
	err := fs.wrapped.MkDir(ctx, op)
	recordFS("MkDir", start, err)
	return err
}

func (fs *instrumented) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	start := time.Now()
	err := fs.wrapped.MkNode(ctx, op)
	recordFS("MkNode", start, err)
	return err
}

func (fs *instrumented) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	start := time.Now()
	err := fs.wrapped.CreateFile(ctx, op)
	recordFS("CreateFile", start, err)
	return err
}

func (fs *instrumented) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	start := time.Now()
	err := fs.wrapped.CreateLink(ctx, op)
	recordFS("CreateLink", start, err)
	return err
}

func (fs *instrumented) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	start := time.Now()
	err := fs.wrapped.CreateSymlink(ctx, op)
	recordFS("CreateSymlink", start, err)
	return err
}

func (fs *instrumented) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	start := time.Now()
	err := fs.wrapped.Rename(ctx, op)
	recordFS("Rename", start, err)
	return err
}

func (fs *instrumented) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	start := time.Now()
	err := fs.wrapped.RmDir(ctx, op)
	recordFS("RmDir", start, err)
	return err
}

func (fs *instrumented) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	start := time.Now()
	err := fs.wrapped.Unlink(ctx, op)
	recordFS("Unlink", start, err)
	return err
}

func (fs *instrumented) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	start := time.Now()
	err := fs.wrapped.OpenDir(ctx, op)
	recordFS("OpenDir", start, err)
	return err
}

func (fs *instrumented) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	start := time.Now()
	err := fs.wrapped.ReadDir(ctx, op)
	recordFS("ReadDir", start, err)
	return err
}

func (fs *instrumented) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	start := time.Now()
	err := fs.wrapped.ReleaseDirHandle(ctx, op)
	recordFS("ReleaseDirHandle", start, err)
	return err
}

func (fs *instrumented) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	start := time.Now()
	err := fs.wrapped.OpenFile(ctx, op)
	recordFS("OpenFile", start, err)
	return err
}

func (fs *instrumented) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	start := time.Now()
	err := fs.wrapped.ReadFile(ctx, op)
	recordFS("ReadFile", start, err)
	return err
}

func (fs *instrumented) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	start := time.Now()
	err := fs.wrapped.WriteFile(ctx, op)
	recordFS("WriteFile", start, err)
	return err
}

func (fs *instrumented) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	start := time.Now()
	err := fs.wrapped.SyncFile(ctx, op)
	recordFS("SyncFile", start, err)
	return err
}

func (fs *instrumented) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	start := time.Now()
	err := fs.wrapped.FlushFile(ctx, op)
	recordFS("FlushFile", start, err)
	return err
}

func (fs *instrumented) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	start := time.Now()
	err := fs.wrapped.ReleaseFileHandle(ctx, op)
	recordFS("ReleaseFileHandle", start, err)
	return err
}

func (fs *instrumented) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	start := time.Now()
	err := fs.wrapped.ReadSymlink(ctx, op)
	recordFS("ReadSymlink", start, err)
	return err
}

func (fs *instrumented) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	start := time.Now()
	err := fs.wrapped.RemoveXattr(ctx, op)
	recordFS("RemoveXattr", start, err)
	return err
}

func (fs *instrumented) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	start := time.Now()
	err := fs.wrapped.GetXattr(ctx, op)
	recordFS("GetXattr", start, err)
	return err
}

func (fs *instrumented) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	start := time.Now()
	err := fs.wrapped.ListXattr(ctx, op)
	recordFS("ListXattr", start, err)
	return err
}

func (fs *instrumented) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	start := time.Now()
	err := fs.wrapped.SetXattr(ctx, op)
	recordFS("SetXattr", start, err)
	return err
}

func (fs *instrumented) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	start := time.Now()
	err := fs.wrapped.Fallocate(ctx, op)
	recordFS("Fallocate", start, err)
	return err
}

func (fs *instrumented) SyncFS(ctx context.Context, op *fuseops.SyncFSOp) error {
	start := time.Now()
	err := fs.wrapped.SyncFS(ctx, op)
	recordFS("SyncFS", start, err)
	return err
}

// responseRecorder captures the status code a wrapped handler writes, for
// the httpLatency/httpRequests labels below.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records per-route request counts and latency for C7. route
// should be a low-cardinality template (e.g. "/files/{path}"), not the raw
// URL, to keep label cardinality bounded.
func HTTPMiddleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpLatency.With(prometheus.Labels{"route": route, "method": r.Method}).Observe(float64(time.Since(start).Milliseconds()))
		httpRequests.With(prometheus.Labels{"route": route, "method": r.Method, "status": strconv.Itoa(rec.status)}).Inc()
	})
}
