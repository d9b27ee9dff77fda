// Package engine implements the storage engine facade: it binds the
// allocator, I/O engine, journal, recovery, and cache into the typed
// block API the data-reduction pipeline writes against.
package engine

import (
	"context"
	"sync"

	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/storage/block"
	"github.com/dirkpetersen/claudefs/internal/storage/cache"
	"github.com/dirkpetersen/claudefs/internal/storage/ioengine"
	"github.com/dirkpetersen/claudefs/internal/storage/journal"
)

// Engine is the facade over a multi-device pool.
type Engine struct {
	mu      sync.Mutex
	devices map[block.DeviceIndex]*block.Device
	order   []block.DeviceIndex // registration order, for deterministic fallback scan

	io      *ioengine.Engine
	journal *journal.Writer
	cache   *cache.Cache
}

// New constructs an Engine. The ioengine.Engine must already be wired to a
// Backend that performs the real byte-level I/O against the registered
// devices; the cache sits in front of it.
func New(io *ioengine.Engine, j *journal.Writer, c *cache.Cache) *Engine {
	return &Engine{
		devices: make(map[block.DeviceIndex]*block.Device),
		io:      io,
		journal: j,
		cache:   c,
	}
}

// NewLocalDiskEngine wires up a full on-disk Engine: a block.FileBackend
// rooted at dir backs the I/O scheduler, a write-through cache of the given
// capacity sits in front of it, and j receives the write-ahead log entries.
// This is the production path; tests typically construct New directly over
// a memory-only Backend double instead.
func NewLocalDiskEngine(dir string, ioCfg ioengine.Config, j *journal.Writer, cacheCapacity int) *Engine {
	backend := block.NewFileBackend(dir)
	io := ioengine.New(backend, ioCfg)
	c := cache.New(cacheCapacity, true, NewCacheFetcher(io), NewCacheFlusher(io))
	return New(io, j, c)
}

// RegisterDevice adds dev to the pool. Devices are added at startup or via
// runtime add; removal is a caller-driven drain-then-remove sequence this
// package does not itself enforce.
func (e *Engine) RegisterDevice(dev *block.Device) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices[dev.Index] = dev
	e.order = append(e.order, dev.Index)
}

// Allocate tries devices of preferredRole first, falling back to any role.
func (e *Engine) Allocate(size uint64, preferredRole block.Role) (block.BlockRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ref, ok := e.tryAllocate(size, preferredRole, true); ok {
		return ref, nil
	}
	if ref, ok := e.tryAllocate(size, preferredRole, false); ok {
		return ref, nil
	}
	return block.BlockRef{}, errs.New("engine.Allocate", errs.OutOfSpace, "no device could satisfy allocation")
}

func (e *Engine) tryAllocate(size uint64, role block.Role, matchRole bool) (block.BlockRef, bool) {
	for _, idx := range e.order {
		dev := e.devices[idx]
		if matchRole && dev.Role != role {
			continue
		}
		if ref, err := dev.Allocator.Allocate(size); err == nil {
			return ref, true
		}
	}
	return block.BlockRef{}, false
}

// Free returns ref's extent to its owning device's allocator.
func (e *Engine) Free(ref block.BlockRef) error {
	e.mu.Lock()
	dev, ok := e.devices[ref.ID.Device]
	e.mu.Unlock()
	if !ok {
		return errs.New("engine.Free", errs.NotFound, "unknown device")
	}
	return dev.Allocator.Free(ref)
}

// AllocateAndWrite is the common combined write path: allocate, write,
// journal, then update the cache. If the write, the journal append or the
// cache update fails, the extent is freed; a journal entry already
// appended before a cache failure is not removed.
func (e *Engine) AllocateAndWrite(ctx context.Context, size uint64, preferredRole block.Role, data []byte, prio ioengine.Priority) (block.BlockRef, error) {
	ref, err := e.Allocate(size, preferredRole)
	if err != nil {
		return block.BlockRef{}, err
	}
	if err := e.io.WriteBlock(ctx, ref, data, prio, false); err != nil {
		_ = e.Free(ref)
		return block.BlockRef{}, err
	}
	if _, err := e.journal.Append(ref.ID, journalOpForWrite(), data); err != nil {
		_ = e.Free(ref)
		return block.BlockRef{}, err
	}
	if err := e.cache.Write(ctx, ref, data); err != nil {
		_ = e.Free(ref)
		return block.BlockRef{}, err
	}
	return ref, nil
}

// Read reads through the cache, which faults in via the I/O engine on miss.
func (e *Engine) Read(ctx context.Context, ref block.BlockRef) ([]byte, error) {
	return e.cache.Read(ctx, ref)
}

// FreeAndDiscard frees from the allocator then TRIMs on the device, in
// that order.
func (e *Engine) FreeAndDiscard(ctx context.Context, ref block.BlockRef, prio ioengine.Priority) error {
	if err := e.Free(ref); err != nil {
		return err
	}
	return e.io.DiscardBlock(ctx, ref, prio)
}

// cacheFetcherAdapter lets the cache read through the I/O engine directly,
// used when wiring New's cache at call sites that don't already bind it.
type cacheFetcherAdapter struct{ io *ioengine.Engine }

func (a cacheFetcherAdapter) ReadBlock(ctx context.Context, ref block.BlockRef) ([]byte, error) {
	return a.io.ReadBlock(ctx, ref, ioengine.Normal)
}

// NewCacheFetcher adapts an ioengine.Engine into a cache.Fetcher.
func NewCacheFetcher(io *ioengine.Engine) cache.Fetcher { return cacheFetcherAdapter{io: io} }

type cacheFlusherAdapter struct{ io *ioengine.Engine }

func (a cacheFlusherAdapter) WriteBlock(ctx context.Context, ref block.BlockRef, data []byte) error {
	return a.io.WriteBlock(ctx, ref, data, ioengine.Normal, false)
}

// NewCacheFlusher adapts an ioengine.Engine into a cache.Flusher.
func NewCacheFlusher(io *ioengine.Engine) cache.Flusher { return cacheFlusherAdapter{io: io} }

func journalOpForWrite() journal.OpKind { return journal.OpWrite }
