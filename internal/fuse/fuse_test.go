package fuse

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/dirkpetersen/claudefs/internal/coherence"
)

type fakeStore struct {
	attrs   map[uint64]Attr
	lookups map[uint64]map[string]uint64
	data    map[uint64][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attrs:   make(map[uint64]Attr),
		lookups: make(map[uint64]map[string]uint64),
		data:    make(map[uint64][]byte),
	}
}

func (s *fakeStore) Lookup(ctx context.Context, parent uint64, name string) (uint64, Attr, error) {
	children := s.lookups[parent]
	ino, ok := children[name]
	if !ok {
		return 0, Attr{}, os.ErrNotExist
	}
	return ino, s.attrs[ino], nil
}

func (s *fakeStore) GetAttr(ctx context.Context, ino uint64) (Attr, error) {
	a, ok := s.attrs[ino]
	if !ok {
		return Attr{}, os.ErrNotExist
	}
	return a, nil
}

func (s *fakeStore) ReadDir(ctx context.Context, ino uint64) ([]DirEntry, error) {
	var out []DirEntry
	for name, child := range s.lookups[ino] {
		out = append(out, DirEntry{Name: name, Inode: child, Attr: s.attrs[child]})
	}
	return out, nil
}

func (s *fakeStore) ReadAt(ctx context.Context, ino uint64, offset int64, dst []byte) (int, error) {
	buf := s.data[ino]
	if offset >= int64(len(buf)) {
		return 0, nil
	}
	n := copy(dst, buf[offset:])
	return n, nil
}

func (s *fakeStore) WriteAt(ctx context.Context, ino uint64, offset int64, data []byte) (int, error) {
	buf := s.data[ino]
	end := offset + int64(len(data))
	if end > int64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	s.data[ino] = buf
	return len(data), nil
}

func (s *fakeStore) Create(ctx context.Context, parent uint64, name string, mode os.FileMode) (uint64, Attr, error) {
	ino := uint64(len(s.attrs) + 100)
	attr := Attr{Mode: mode, Mtime: time.Unix(0, 0)}
	s.attrs[ino] = attr
	if s.lookups[parent] == nil {
		s.lookups[parent] = make(map[string]uint64)
	}
	s.lookups[parent][name] = ino
	return ino, attr, nil
}

func (s *fakeStore) Mkdir(ctx context.Context, parent uint64, name string, mode os.FileMode) (uint64, Attr, error) {
	return s.Create(ctx, parent, name, mode|os.ModeDir)
}

func newTestFS() (*FS, *fakeStore) {
	store := newFakeStore()
	store.attrs[1] = Attr{Mode: os.ModeDir | 0755, Mtime: time.Unix(0, 0)}
	mgr := coherence.NewManager(coherence.CloseToOpen)
	return New(store, mgr, 30*time.Second), store
}

func TestLookUpInodeFound(t *testing.T) {
	fs, store := newTestFS()
	store.lookups[1] = map[string]uint64{"a.txt": 42}
	store.attrs[42] = Attr{Size: 5, Mode: 0644, Mtime: time.Unix(0, 0)}

	op := &fuseops.LookUpInodeOp{Parent: 1, Name: "a.txt"}
	if err := fs.LookUpInode(context.Background(), op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Entry.Child != 42 {
		t.Fatalf("expected inode 42, got %d", op.Entry.Child)
	}
}

func TestLookUpInodeNotFound(t *testing.T) {
	fs, _ := newTestFS()
	op := &fuseops.LookUpInodeOp{Parent: 1, Name: "missing"}
	if err := fs.LookUpInode(context.Background(), op); err == nil {
		t.Fatalf("expected error for missing entry")
	}
}

func TestOpenGrantsLease(t *testing.T) {
	fs, _ := newTestFS()
	op := &fuseops.OpenFileOp{Inode: 1}
	if err := fs.OpenFile(context.Background(), op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fs.coherence.IsCoherent(1, time.Now()) {
		t.Fatalf("expected coherent view after open")
	}
	if op.Handle == 0 {
		t.Fatalf("expected non-zero handle")
	}
}

func TestReleaseRevokesLease(t *testing.T) {
	fs, _ := newTestFS()
	openOp := &fuseops.OpenFileOp{Inode: 1}
	if err := fs.OpenFile(context.Background(), openOp); err != nil {
		t.Fatalf("open: %v", err)
	}
	releaseOp := &fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}
	if err := fs.ReleaseFileHandle(context.Background(), releaseOp); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := fs.coherence.CheckLease(1, time.Now()); ok {
		t.Fatalf("expected lease revoked after release")
	}
}

func TestNotifyRemoteWriteInvalidatesLease(t *testing.T) {
	fs, _ := newTestFS()
	if err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: 1}); err != nil {
		t.Fatalf("open: %v", err)
	}
	fs.NotifyRemoteWrite(1)
	if fs.coherence.IsCoherent(1, time.Now()) {
		t.Fatalf("expected lease invalidated by remote write notification")
	}
	pending := fs.coherence.PendingInvalidations()
	if len(pending) != 1 || pending[0].Reason != coherence.ReasonRemoteWrite {
		t.Fatalf("expected one remote-write invalidation, got %+v", pending)
	}
}

func TestLocalWriteDoesNotInvalidateOwnLease(t *testing.T) {
	fs, _ := newTestFS()
	if err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: 1}); err != nil {
		t.Fatalf("open: %v", err)
	}
	writeOp := &fuseops.WriteFileOp{Inode: 1, Data: []byte("hello")}
	if err := fs.WriteFile(context.Background(), writeOp); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !fs.coherence.IsCoherent(1, time.Now()) {
		t.Fatalf("expected local write to preserve own lease")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	fs, store := newTestFS()
	ino, _, err := store.Create(context.Background(), 1, "f", 0644)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: fuseops.InodeID(ino)}); err != nil {
		t.Fatalf("open: %v", err)
	}
	writeOp := &fuseops.WriteFileOp{Inode: fuseops.InodeID(ino), Data: []byte("payload")}
	if err := fs.WriteFile(context.Background(), writeOp); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := make([]byte, 7)
	readOp := &fuseops.ReadFileOp{Inode: fuseops.InodeID(ino), Dst: dst}
	if err := fs.ReadFile(context.Background(), readOp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(dst[:readOp.BytesRead]) != "payload" {
		t.Fatalf("unexpected read content: %q", dst[:readOp.BytesRead])
	}
}

func TestCreateFileGrantsLease(t *testing.T) {
	fs, _ := newTestFS()
	op := &fuseops.CreateFileOp{Parent: 1, Name: "new.txt", Mode: 0644}
	if err := fs.CreateFile(context.Background(), op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fs.coherence.IsCoherent(uint64(op.Entry.Child), time.Now()) {
		t.Fatalf("expected coherent view after create")
	}
}
