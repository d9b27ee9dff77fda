package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/storage/block"
	"github.com/dirkpetersen/claudefs/internal/storage/cache"
	"github.com/dirkpetersen/claudefs/internal/storage/ioengine"
	"github.com/dirkpetersen/claudefs/internal/storage/journal"
)

type memBackend struct {
	mu   sync.Mutex
	data map[block.BlockRef][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: map[block.BlockRef][]byte{}} }

func (m *memBackend) ReadBlock(ctx context.Context, ref block.BlockRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[ref], nil
}
func (m *memBackend) WriteBlock(ctx context.Context, ref block.BlockRef, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[ref] = cp
	return nil
}
func (m *memBackend) DiscardBlock(ctx context.Context, ref block.BlockRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, ref)
	return nil
}
func (m *memBackend) Flush(ctx context.Context) error { return nil }

func newTestEngine(t *testing.T) (*Engine, *memBackend) {
	t.Helper()
	be := newMemBackend()
	io := ioengine.New(be, ioengine.DefaultConfig())
	t.Cleanup(io.Close)
	j := journal.New(journal.DefaultConfig())
	c := cache.New(16, true, NewCacheFetcher(io), NewCacheFlusher(io))
	e := New(io, j, c)
	e.RegisterDevice(block.NewDevice(0, block.RoleData, 1024))
	return e, be
}

func TestAllocateAndWriteThenRead(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	ref, err := e.AllocateAndWrite(ctx, 64<<10, block.RoleData, []byte("segment"), ioengine.Normal)
	if err != nil {
		t.Fatalf("allocate and write: %v", err)
	}
	data, err := e.Read(ctx, ref)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]byte("segment"), data); diff != "" {
		t.Fatalf("read mismatch (-want +got):\n%s", diff)
	}

	if err := e.FreeAndDiscard(ctx, ref, ioengine.Normal); err != nil {
		t.Fatalf("free and discard: %v", err)
	}
}

func TestAllocateFallsBackAcrossRoles(t *testing.T) {
	be := newMemBackend()
	io := ioengine.New(be, ioengine.DefaultConfig())
	defer io.Close()
	j := journal.New(journal.DefaultConfig())
	c := cache.New(16, true, NewCacheFetcher(io), NewCacheFlusher(io))
	e := New(io, j, c)
	e.RegisterDevice(block.NewDevice(0, block.RoleJournal, 1024))

	ref, err := e.AllocateAndWrite(context.Background(), 64<<10, block.RoleData, []byte("x"), ioengine.Normal)
	if err != nil {
		t.Fatalf("expected fallback allocation to succeed: %v", err)
	}
	if ref.ID.Device != 0 {
		t.Fatalf("expected device 0, got %d", ref.ID.Device)
	}
}

func TestLocalDiskEngineRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := journal.New(journal.DefaultConfig())
	e := NewLocalDiskEngine(dir, ioengine.DefaultConfig(), j, 16)
	defer e.io.Close()
	e.RegisterDevice(block.NewDevice(0, block.RoleData, 1024))

	ctx := context.Background()
	ref, err := e.AllocateAndWrite(ctx, 64<<10, block.RoleData, []byte("on disk"), ioengine.Normal)
	if err != nil {
		t.Fatalf("allocate and write: %v", err)
	}
	data, err := e.Read(ctx, ref)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]byte("on disk"), data); diff != "" {
		t.Fatalf("read mismatch (-want +got):\n%s", diff)
	}
	if err := e.FreeAndDiscard(ctx, ref, ioengine.Normal); err != nil {
		t.Fatalf("free and discard: %v", err)
	}
}

func TestOutOfSpacePropagatesNoPartialState(t *testing.T) {
	e, _ := newTestEngine(t)
	// Device is 1024 units (4 MiB); request larger than the whole device.
	if _, err := e.AllocateAndWrite(context.Background(), 256<<20, block.RoleData, []byte("x"), ioengine.Normal); errs.CodeOf(err) != errs.InvalidArgument && errs.CodeOf(err) != errs.OutOfSpace {
		t.Fatalf("expected OutOfSpace/InvalidArgument, got %v", err)
	}
}
