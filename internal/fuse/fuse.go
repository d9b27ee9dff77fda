// Package fuse adapts ClaudeFS's metadata and coherence layers to a kernel
// FUSE mount using jacobsa/fuse. The backing store is a MetaStore rather
// than a raw filesystem, and every open acquires a coherence lease
// (internal/coherence) instead of relying on kernel attribute caching
// alone.
package fuse

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/dirkpetersen/claudefs/internal/coherence"
)

// Attr is the subset of inode metadata the FUSE layer needs to answer
// LookUpInode/GetInodeAttributes.
type Attr struct {
	Size  uint64
	Mode  os.FileMode
	Mtime time.Time
}

// DirEntry is one entry returned by MetaStore.ReadDir.
type DirEntry struct {
	Name  string
	Inode uint64
	Attr  Attr
}

// MetaStore is the metadata/data backend a mounted filesystem reads and
// writes through. A real implementation routes Lookup/ReadDir through the
// shard/dirshard routers (C8/C10) and Read/Write through the storage
// engine (C6); tests substitute an in-memory fake.
type MetaStore interface {
	Lookup(ctx context.Context, parent uint64, name string) (ino uint64, attr Attr, err error)
	GetAttr(ctx context.Context, ino uint64) (Attr, error)
	ReadDir(ctx context.Context, ino uint64) ([]DirEntry, error)
	ReadAt(ctx context.Context, ino uint64, offset int64, dst []byte) (n int, err error)
	WriteAt(ctx context.Context, ino uint64, offset int64, data []byte) (n int, err error)
	Create(ctx context.Context, parent uint64, name string, mode os.FileMode) (ino uint64, attr Attr, err error)
	Mkdir(ctx context.Context, parent uint64, name string, mode os.FileMode) (ino uint64, attr Attr, err error)
}

// clientID identifies this mount to the coherence manager. A real daemon
// would derive this from its node identity; a mount process only ever
// needs one.
const clientID = 1

// never is used for FUSE expiration timestamps on entries the coherence
// manager, not the kernel, is responsible for invalidating: the lease
// tells us when our view is stale, so the kernel can cache forever.
var never = time.Now().Add(365 * 24 * time.Hour)

// FS implements fuseutil.FileSystem over a MetaStore, taking out a
// coherence lease on every open and create and releasing it when the
// file handle is released.
type FS struct {
	fuseutil.NotImplementedFileSystem

	store     MetaStore
	coherence *coherence.Manager
	leaseTTL  time.Duration

	mu      sync.Mutex
	handles map[fuseops.HandleID]uint64 // handle -> inode
	nextHdl fuseops.HandleID
}

// New constructs a mountable filesystem backed by store, coherent against
// manager. leaseTTL is recorded on the FS but not applied: leases are
// granted with manager's own default duration.
func New(store MetaStore, manager *coherence.Manager, leaseTTL time.Duration) *FS {
	return &FS{
		store:     store,
		coherence: manager,
		leaseTTL:  leaseTTL,
		handles:   make(map[fuseops.HandleID]uint64),
	}
}

// Mount mounts fs at mountpoint and returns a join function that blocks
// until the mount is unmounted.
func Mount(ctx context.Context, mountpoint string, fs *FS) (join func(context.Context) error, err error) {
	server := fuseutil.NewFileSystemServer(fs)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:                 "claudefs",
		Options:                map[string]string{"allow_other": ""},
		EnableSymlinkCaching:   true,
		EnableNoOpenSupport:    false,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("fuse.Mount: %w", err)
	}
	join = func(ctx context.Context) error {
		defer syscall.Unmount(mountpoint, 0)
		return mfs.Join(ctx)
	}
	return join, nil
}

func toAttributes(a Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: 1,
		Mode:  a.Mode,
		Atime: a.Mtime,
		Mtime: a.Mtime,
		Ctime: a.Mtime,
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.IoSize = 65536
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	ino, attr, err := fs.store.Lookup(ctx, uint64(op.Parent), op.Name)
	if err != nil {
		return fuse.ENOENT
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttributes(attr)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.store.GetAttr(ctx, uint64(op.Inode))
	if err != nil {
		return fuse.ENOENT
	}
	op.Attributes = toAttributes(attr)
	op.AttributesExpiration = never
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	entries, err := fs.store.ReadDir(ctx, uint64(op.Inode))
	if err != nil {
		return fuse.EIO
	}
	if int(op.Offset) > len(entries) {
		return fuse.EIO
	}
	var read int
	for _, e := range entries[op.Offset:] {
		typ := fuseutil.DT_File
		if e.Attr.Mode.IsDir() {
			typ = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(read) + 1,
			Inode:  fuseops.InodeID(e.Inode),
			Name:   e.Name,
			Type:   typ,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
		read++
	}
	return nil
}

// OpenFile grants a coherence lease on the inode, so a client holding an
// open file observes a coherent view until it closes, the lease's
// duration elapses, or a remote write revokes it. Once the lease is no
// longer valid, ReadFile fails with EIO.
func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.coherence.GrantLease(uint64(op.Inode), clientID, time.Now())
	fs.mu.Lock()
	fs.nextHdl++
	handle := fs.nextHdl
	fs.handles[handle] = uint64(op.Inode)
	fs.mu.Unlock()
	op.Handle = handle
	op.KeepPageCache = true
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	if !fs.coherence.IsCoherent(uint64(op.Inode), time.Now()) {
		return fuse.EIO
	}
	n, err := fs.store.ReadAt(ctx, uint64(op.Inode), op.Offset, op.Dst)
	op.BytesRead = n
	if err != nil {
		return fuse.EIO
	}
	return nil
}

// WriteFile writes through to the backing store. It does not touch this
// mount's own lease — invalidating a client's cache for its own writes
// would defeat close-to-open caching. Remote writes reach this mount as
// Invalidate calls driven by the change-event consumer (internal/meta/watch),
// not through this path.
func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	if _, err := fs.store.WriteAt(ctx, uint64(op.Inode), op.Offset, op.Data); err != nil {
		return fuse.EIO
	}
	return nil
}

// NotifyRemoteWrite invalidates this mount's cached view of inode,
// intended to be driven by a watch/CDC subscription (internal/meta/watch)
// observing a write from another client.
func (fs *FS) NotifyRemoteWrite(inode uint64) {
	fs.coherence.Invalidate(inode, coherence.ReasonRemoteWrite, 0, time.Now())
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	ino, ok := fs.handles[op.Handle]
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	if ok {
		fs.coherence.RevokeLease(ino, time.Now())
	}
	return nil
}

func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	ino, attr, err := fs.store.Mkdir(ctx, uint64(op.Parent), op.Name, op.Mode)
	if err != nil {
		return fuse.EIO
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttributes(attr)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	ino, attr, err := fs.store.Create(ctx, uint64(op.Parent), op.Name, op.Mode)
	if err != nil {
		return fuse.EIO
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toAttributes(attr)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never

	fs.coherence.GrantLease(ino, clientID, time.Now())
	fs.mu.Lock()
	fs.nextHdl++
	op.Handle = fs.nextHdl
	fs.handles[op.Handle] = ino
	fs.mu.Unlock()
	return nil
}

func (fs *FS) Destroy() {}
