// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"context"
	"syscall"

	"github.com/driftfs/driftfs/internal/wire"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// errno maps the C3/C4 error taxonomy onto the POSIX errors the kernel
// understands, per spec.md §4.5 and §7.
func errno(err error) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(syscall.Errno); ok {
		return e
	}

	apiErr := wire.AsAPIError(err)
	switch apiErr.Kind {
	case wire.KindNotFound:
		return syscall.ENOENT
	case wire.KindPermissionDenied:
		return syscall.EACCES
	case wire.KindAlreadyExists:
		return syscall.EEXIST
	case wire.KindInvalidArgument:
		return syscall.EINVAL
	case wire.KindClosed:
		return syscall.EBADF
	case wire.KindTransportFailure, wire.KindServerFailure, wire.KindProtocol:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// WithErrorMapping wraps a FileSystem, translating the errors it returns
// into syscall.Errno before they reach the kernel, the same decorator
// shape the teacher uses around its own GCS-backed filesystem.
func WithErrorMapping(wrapped fuseutil.FileSystem) fuseutil.FileSystem {
	return &errorMapping{wrapped: wrapped}
}

type errorMapping struct {
	wrapped fuseutil.FileSystem
}

func (fs *errorMapping) Destroy() { fs.wrapped.Destroy() }

func (fs *errorMapping) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return errno(fs.wrapped.StatFS(ctx, op))
}

func (fs *errorMapping) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	return errno(fs.wrapped.LookUpInode(ctx, op))
}

func (fs *errorMapping) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	return errno(fs.wrapped.GetInodeAttributes(ctx, op))
}

func (fs *errorMapping) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	return errno(fs.wrapped.SetInodeAttributes(ctx, op))
}

func (fs *errorMapping) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return errno(fs.wrapped.ForgetInode(ctx, op))
}

func (fs *errorMapping) BatchForget(ctx context.Context, op *fuseops.BatchForgetOp) error {
	return errno(fs.wrapped.BatchForget(ctx, op))
}

func (fs *errorMapping) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return errno(fs.wrapped.MkDir(ctx, op))
}

func (fs *errorMapping) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	return errno(fs.wrapped.MkNode(ctx, op))
}

func (fs *errorMapping) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	return errno(fs.wrapped.CreateFile(ctx, op))
}

func (fs *errorMapping) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	return errno(fs.wrapped.CreateLink(ctx, op))
}

func (fs *errorMapping) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	return errno(fs.wrapped.CreateSymlink(ctx, op))
}

func (fs *errorMapping) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	return errno(fs.wrapped.Rename(ctx, op))
}

func (fs *errorMapping) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return errno(fs.wrapped.RmDir(ctx, op))
}

func (fs *errorMapping) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return errno(fs.wrapped.Unlink(ctx, op))
}

func (fs *errorMapping) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return errno(fs.wrapped.OpenDir(ctx, op))
}

func (fs *errorMapping) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	return errno(fs.wrapped.ReadDir(ctx, op))
}

func (fs *errorMapping) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return errno(fs.wrapped.ReleaseDirHandle(ctx, op))
}

func (fs *errorMapping) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return errno(fs.wrapped.OpenFile(ctx, op))
}

func (fs *errorMapping) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	return errno(fs.wrapped.ReadFile(ctx, op))
}

func (fs *errorMapping) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	return errno(fs.wrapped.WriteFile(ctx, op))
}

func (fs *errorMapping) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return errno(fs.wrapped.SyncFile(ctx, op))
}

func (fs *errorMapping) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return errno(fs.wrapped.FlushFile(ctx, op))
}

func (fs *errorMapping) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return errno(fs.wrapped.ReleaseFileHandle(ctx, op))
}

func (fs *errorMapping) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	return errno(fs.wrapped.ReadSymlink(ctx, op))
}

func (fs *errorMapping) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	return errno(fs.wrapped.RemoveXattr(ctx, op))
}

func (fs *errorMapping) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	return errno(fs.wrapped.GetXattr(ctx, op))
}

func (fs *errorMapping) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	return errno(fs.wrapped.ListXattr(ctx, op))
}

func (fs *errorMapping) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	return errno(fs.wrapped.SetXattr(ctx, op))
}

func (fs *errorMapping) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	return errno(fs.wrapped.Fallocate(ctx, op))
}

func (fs *errorMapping) SyncFS(ctx context.Context, op *fuseops.SyncFSOp) error {
	return errno(fs.wrapped.SyncFS(ctx, op))
}
