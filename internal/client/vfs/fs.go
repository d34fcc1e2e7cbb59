// Package vfs implements C5, the VFS dispatch layer: a jacobsa/fuse
// fuseutil.FileSystem that turns kernel ops into calls against the C1
// registry, C2 attribute cache, C3 HTTP client, and C4 write-buffer pool.
package vfs

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/driftfs/driftfs/clock"
	"github.com/driftfs/driftfs/internal/client/attrcache"
	"github.com/driftfs/driftfs/internal/client/httpapi"
	"github.com/driftfs/driftfs/internal/client/registry"
	"github.com/driftfs/driftfs/internal/client/writebuffer"
	"github.com/driftfs/driftfs/internal/metrics"
	"github.com/driftfs/driftfs/internal/wire"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// Config bundles the knobs FileSystem needs at mount time.
type Config struct {
	UID      uint32
	GID      uint32
	FileMode os.FileMode
	DirMode  os.FileMode
	AttrTTL  time.Duration
	ClientID string
}

// FileSystem is the C5 dispatch layer. Ops not in spec.md §4.5's list
// (hard/symlinks, fallocate, xattr mutation beyond the locally-served
// subset) fall through to NotImplementedFileSystem's fuse.ENOSYS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	cfg     Config
	reg     *registry.Registry
	cache   attrcache.Cache
	api     *httpapi.Client
	writes  *writebuffer.Pool
	clock   clock.Clock
	nextHdl atomic.Uint64
}

// New wires C1-C4 together behind the FileSystem dispatch surface.
func New(cfg Config, reg *registry.Registry, cache attrcache.Cache, api *httpapi.Client, writes *writebuffer.Pool) *FileSystem {
	return &FileSystem{cfg: cfg, reg: reg, cache: cache, api: api, writes: writes, clock: clock.RealClock{}}
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func split(path string) (parent, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func (fs *FileSystem) attrExpiration() time.Time {
	if fs.cfg.AttrTTL <= 0 {
		return time.Time{}
	}
	return fs.clock.Now().Add(fs.cfg.AttrTTL)
}

func (fs *FileSystem) attrFromEntry(e wire.Entry) attrcache.Attr {
	mode := e.Mode & 0o777
	if e.Kind == wire.KindDir {
		mode |= uint32(os.ModeDir)
	}
	nlink := uint32(1)
	if e.Kind == wire.KindDir {
		nlink = 2
	}
	mtime := time.Unix(int64(e.Mtime), 0)
	return attrcache.Attr{
		Size:  e.Size,
		Mode:  mode,
		Mtime: mtime,
		Atime: mtime,
		Ctime: mtime,
		Nlink: nlink,
		UID:   fs.cfg.UID,
		GID:   fs.cfg.GID,
	}
}

func (fs *FileSystem) toInodeAttributes(a attrcache.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: a.Nlink,
		Mode:  os.FileMode(a.Mode),
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
		Uid:   a.UID,
		Gid:   a.GID,
	}
}

func (fs *FileSystem) rootAttr() attrcache.Attr {
	now := fs.clock.Now()
	return attrcache.Attr{
		Mode:  uint32(fs.cfg.DirMode) | uint32(os.ModeDir),
		Nlink: 2,
		Mtime: now,
		Atime: now,
		Ctime: now,
		UID:   fs.cfg.UID,
		GID:   fs.cfg.GID,
	}
}

// attrFor resolves the attribute record for inode, consulting C2 first and
// falling back to a directory listing of its parent, per spec.md §4.5
// "getattr".
func (fs *FileSystem) attrFor(ctx context.Context, inode uint64) (attrcache.Attr, error) {
	if inode == registry.RootInode {
		return fs.rootAttr(), nil
	}

	if attr, ok := fs.cache.Get(inode); ok {
		metrics.RecordCacheHit()
		return attr, nil
	}
	metrics.RecordCacheMiss()

	path, ok := fs.reg.PathOf(inode)
	if !ok {
		return attrcache.Attr{}, syscall.ENOENT
	}

	parent, name := split(path)
	entries, err := fs.api.List(ctx, parent)
	if err != nil {
		return attrcache.Attr{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			attr := fs.attrFromEntry(e)
			fs.cache.Insert(inode, attr)
			return attr, nil
		}
	}
	return attrcache.Attr{}, syscall.ENOENT
}

func (fs *FileSystem) Destroy() {}

func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 1 << 17
	op.Blocks = 1 << 33
	op.BlocksFree = op.Blocks
	op.BlocksAvailable = op.Blocks
	op.Inodes = 1 << 50
	op.InodesFree = op.Inodes
	op.IoSize = 1 << 20
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.reg.PathOf(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}

	entries, err := fs.api.List(ctx, parentPath)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.Name != op.Name {
			continue
		}
		childPath := join(parentPath, op.Name)
		ino := fs.reg.LookupOrInsert(childPath, e.Kind)
		attr := fs.attrFromEntry(e)
		fs.cache.Insert(ino, attr)

		op.Entry.Child = fuseops.InodeID(ino)
		op.Entry.Attributes = fs.toInodeAttributes(attr)
		op.Entry.AttributesExpiration = fs.attrExpiration()
		return nil
	}

	return syscall.ENOENT
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.attrFor(ctx, uint64(op.Inode))
	if err != nil {
		return err
	}
	op.Attributes = fs.toInodeAttributes(attr)
	op.AttributesExpiration = fs.attrExpiration()
	return nil
}

// SetInodeAttributes handles chmod (op.Mode) and truncate/extend (op.Size).
// A size change is a synchronous read-modify-write against the remote
// object rather than going through C4, since there may be no open write
// handle backing this inode at all (e.g. a bare `truncate(2)`).
func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	inode := uint64(op.Inode)
	path, ok := fs.reg.PathOf(inode)
	if !ok {
		return syscall.ENOENT
	}

	if op.Mode != nil {
		if err := fs.api.Chmod(ctx, path, uint32(*op.Mode)&0o777, fs.cfg.ClientID); err != nil {
			return err
		}
	}

	if op.Size != nil {
		newSize := int64(*op.Size)
		current, err := fs.api.ReadRange(ctx, path, 0, 0)
		if err != nil {
			return err
		}
		switch {
		case newSize < int64(len(current)):
			current = current[:newSize]
		case newSize > int64(len(current)):
			grown := make([]byte, newSize)
			copy(grown, current)
			current = grown
		}
		if err := fs.api.WriteFull(ctx, path, current, fs.cfg.ClientID); err != nil {
			return err
		}
	}

	fs.cache.Invalidate(inode)
	attr, err := fs.attrFor(ctx, inode)
	if err != nil {
		return err
	}
	op.Attributes = fs.toInodeAttributes(attr)
	op.AttributesExpiration = fs.attrExpiration()
	return nil
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	if path, ok := fs.reg.PathOf(uint64(op.Inode)); ok {
		fs.reg.Forget(path)
	}
	fs.cache.Invalidate(uint64(op.Inode))
	return nil
}

func (fs *FileSystem) BatchForget(ctx context.Context, op *fuseops.BatchForgetOp) error {
	for _, e := range op.Entries {
		if path, ok := fs.reg.PathOf(uint64(e.Inode)); ok {
			fs.reg.Forget(path)
		}
		fs.cache.Invalidate(uint64(e.Inode))
	}
	return nil
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parentPath, ok := fs.reg.PathOf(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}
	childPath := join(parentPath, op.Name)

	if err := fs.api.Mkdir(ctx, childPath, fs.cfg.ClientID); err != nil {
		return err
	}

	ino := fs.reg.LookupOrInsert(childPath, wire.KindDir)
	now := fs.clock.Now()
	attr := attrcache.Attr{
		Mode:  uint32(op.Mode.Perm()) | uint32(os.ModeDir),
		Nlink: 2,
		Mtime: now,
		Atime: now,
		Ctime: now,
		UID:   fs.cfg.UID,
		GID:   fs.cfg.GID,
	}
	fs.cache.Insert(ino, attr)

	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = fs.toInodeAttributes(attr)
	op.Entry.AttributesExpiration = fs.attrExpiration()
	return nil
}

// CreateFile creates an empty remote object and opens a lazy write handle
// for it, so that the WriteFile calls the kernel issues immediately after
// create land in C4 rather than triggering per-write PUTs.
func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parentPath, ok := fs.reg.PathOf(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}
	childPath := join(parentPath, op.Name)

	if err := fs.api.WriteFull(ctx, childPath, nil, fs.cfg.ClientID); err != nil {
		return err
	}

	ino := fs.reg.LookupOrInsert(childPath, wire.KindFile)
	now := fs.clock.Now()
	attr := attrcache.Attr{
		Mode:  uint32(op.Mode.Perm()),
		Nlink: 1,
		Mtime: now,
		Atime: now,
		Ctime: now,
		UID:   fs.cfg.UID,
		GID:   fs.cfg.GID,
	}
	fs.cache.Insert(ino, attr)

	handle := fs.nextHdl.Add(1)
	fs.writes.Open(handle, childPath, true)

	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = fs.toInodeAttributes(attr)
	op.Entry.AttributesExpiration = fs.attrExpiration()
	op.Handle = fuseops.HandleID(handle)
	return nil
}

// Rename emulates a move as read(old) → write(new) → delete(old), per
// spec.md §4.1/§4.5 and the explicit resolution in §9 that rename is
// implemented as copy+delete rather than a server-side atomic operation.
// Directories are moved by a recursive apply of the same sequence, since
// the remote API has no atomic rename and no directory-level read.
func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldParent, ok := fs.reg.PathOf(uint64(op.OldParent))
	if !ok {
		return syscall.ENOENT
	}
	newParent, ok := fs.reg.PathOf(uint64(op.NewParent))
	if !ok {
		return syscall.ENOENT
	}
	oldPath := join(oldParent, op.OldName)
	newPath := join(newParent, op.NewName)

	kind, known := fs.reg.KindOf(fs.lookupInode(oldPath))
	if !known {
		entries, err := fs.api.List(ctx, oldParent)
		if err != nil {
			return err
		}
		found := false
		for _, e := range entries {
			if e.Name == op.OldName {
				kind = e.Kind
				found = true
				break
			}
		}
		if !found {
			return syscall.ENOENT
		}
	}

	if err := fs.moveTree(ctx, oldPath, newPath, kind); err != nil {
		return err
	}

	fs.reg.Rename(oldPath, newPath)
	return nil
}

func (fs *FileSystem) lookupInode(path string) uint64 {
	ino, _ := fs.reg.InodeOf(path)
	return ino
}

func (fs *FileSystem) moveTree(ctx context.Context, oldPath, newPath string, kind wire.Kind) error {
	if kind == wire.KindFile {
		data, err := fs.api.ReadRange(ctx, oldPath, 0, 0)
		if err != nil {
			return err
		}
		if err := fs.api.WriteFull(ctx, newPath, data, fs.cfg.ClientID); err != nil {
			return err
		}
		return fs.api.Delete(ctx, oldPath, fs.cfg.ClientID)
	}

	if err := fs.api.Mkdir(ctx, newPath, fs.cfg.ClientID); err != nil {
		return err
	}
	entries, err := fs.api.List(ctx, oldPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fs.moveTree(ctx, join(oldPath, e.Name), join(newPath, e.Name), e.Kind); err != nil {
			return err
		}
	}
	return fs.api.Delete(ctx, oldPath, fs.cfg.ClientID)
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return fs.remove(ctx, uint64(op.Parent), op.Name)
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return fs.remove(ctx, uint64(op.Parent), op.Name)
}

func (fs *FileSystem) remove(ctx context.Context, parentInode uint64, name string) error {
	parentPath, ok := fs.reg.PathOf(parentInode)
	if !ok {
		return syscall.ENOENT
	}
	path := join(parentPath, name)

	if err := fs.api.Delete(ctx, path, fs.cfg.ClientID); err != nil {
		return err
	}

	if ino, ok := fs.reg.InodeOf(path); ok {
		fs.cache.Invalidate(ino)
	}
	fs.reg.Forget(path)
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if _, ok := fs.reg.PathOf(uint64(op.Inode)); !ok {
		return syscall.ENOENT
	}
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	path, ok := fs.reg.PathOf(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	remote, err := fs.api.List(ctx, path)
	if err != nil {
		return err
	}

	parentPath, _ := split(path)
	parentInode := registry.RootInode
	if path != "" {
		if ino, ok := fs.reg.InodeOf(parentPath); ok {
			parentInode = ino
		}
	}

	dirents := make([]fuseutil.Dirent, 0, len(remote)+2)
	dirents = append(dirents,
		fuseutil.Dirent{Offset: 1, Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Offset: 2, Inode: fuseops.InodeID(parentInode), Name: "..", Type: fuseutil.DT_Directory},
	)

	for i, e := range remote {
		childPath := join(path, e.Name)
		ino := fs.reg.LookupOrInsert(childPath, e.Kind)
		fs.cache.Insert(ino, fs.attrFromEntry(e))

		typ := fuseutil.DT_File
		if e.Kind == wire.KindDir {
			typ = fuseutil.DT_Directory
		}
		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 3),
			Inode:  fuseops.InodeID(ino),
			Name:   e.Name,
			Type:   typ,
		})
	}

	if int(op.Offset) > len(dirents) {
		return syscall.EINVAL
	}
	for i := int(op.Offset); i < len(dirents); i++ {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirents[i])
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if _, ok := fs.reg.PathOf(uint64(op.Inode)); !ok {
		return syscall.ENOENT
	}
	// Write handles are allocated lazily on the first WriteFile, since
	// jacobsa/fuse's OpenFileOp carries no open(2) flags to branch on here.
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	path, ok := fs.reg.PathOf(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	data, err := fs.api.ReadRange(ctx, path, op.Offset, int64(len(op.Dst)))
	if err != nil {
		if apiErr := wire.AsAPIError(err); apiErr.Kind == wire.KindInvalidArgument {
			op.BytesRead = 0
			return nil
		}
		return err
	}

	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	path, ok := fs.reg.PathOf(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	handle := uint64(op.Handle)
	h, ok := fs.writes.Get(handle)
	if !ok {
		h = fs.writes.Open(handle, path, false)
	}
	h.Write(op.Offset, op.Data)

	end := uint64(op.Offset + int64(len(op.Data)))
	if attr, ok := fs.cache.Get(uint64(op.Inode)); ok && attr.Size < end {
		attr.Size = end
		fs.cache.Insert(uint64(op.Inode), attr)
	}
	return nil
}

type remoteAPI struct {
	api      *httpapi.Client
	clientID string
}

func (r remoteAPI) FetchBaseline(ctx context.Context, path string, size int64) ([]byte, error) {
	return r.api.ReadRange(ctx, path, 0, size)
}

func (r remoteAPI) PutFull(ctx context.Context, path string, data []byte, clientID string) error {
	return r.api.WriteFull(ctx, path, data, clientID)
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	handle := uint64(op.Handle)
	h, ok := fs.writes.Get(handle)
	if !ok {
		return nil
	}
	defer fs.writes.Close(handle)

	inode, known := fs.reg.InodeOf(h.Path())
	var currentSize int64
	cached, haveCached := attrcache.Attr{}, false
	if known {
		if attr, ok := fs.cache.Get(inode); ok {
			currentSize = int64(attr.Size)
			cached, haveCached = attr, true
		}
	}

	remote := remoteAPI{api: fs.api, clientID: fs.cfg.ClientID}
	finalSize, err := h.Release(ctx, remote, remote, currentSize, fs.cfg.ClientID)
	if err != nil {
		return err
	}

	if known {
		if haveCached {
			// Re-stamp in place instead of invalidate-then-reread: the
			// attr we already hold is fresh except for the fields this
			// write just changed.
			cached.Size = uint64(finalSize)
			cached.Mtime = fs.clock.Now()
			fs.cache.Insert(inode, cached)
		} else {
			fs.cache.Invalidate(inode)
		}
	}
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

// GetXattr, ListXattr, SetXattr, RemoveXattr are served entirely locally
// per spec.md §4.5: no extended-attribute storage exists on the wire.
func (fs *FileSystem) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	return syscall.ENODATA
}

func (fs *FileSystem) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	op.BytesRead = 0
	return nil
}

func (fs *FileSystem) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	return nil
}

func (fs *FileSystem) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	return nil
}

// InvalidateByPath implements changestream.Invalidator: drop any cached
// attribute for path so the next getattr/readdir re-fetches from the
// server, per spec.md §4.6.
func (fs *FileSystem) InvalidateByPath(path string) {
	if ino, ok := fs.reg.InodeOf(path); ok {
		fs.cache.Invalidate(ino)
	}
}
