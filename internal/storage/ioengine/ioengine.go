// Package ioengine implements a prioritized, async block I/O scheduler:
// four priority queues dequeued lowest-index-first, FIFO within a queue,
// with cooperative backpressure once in-flight depth is exceeded.
package ioengine

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/storage/block"
)

// Priority is the submission priority; lower numeric value dequeues first.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low
	numPriorities
)

// AtomicCapability describes a device's ability to perform atomic writes.
type AtomicCapability struct {
	Supported      bool
	MaxAtomicBytes int
	Alignment      int
}

// CanAtomicWrite reports whether an n-byte write at this device qualifies
// for the atomic-write fast path.
func (c AtomicCapability) CanAtomicWrite(n int) bool {
	return c.Supported && n > 0 && n <= c.MaxAtomicBytes
}

// Backend is the device-facing half of the engine: the actual byte-level
// read/write/discard/flush operations, implemented by the storage engine
// facade (C6) or a test double.
type Backend interface {
	ReadBlock(ctx context.Context, ref block.BlockRef) ([]byte, error)
	WriteBlock(ctx context.Context, ref block.BlockRef, data []byte) error
	DiscardBlock(ctx context.Context, ref block.BlockRef) error
	Flush(ctx context.Context) error
}

type request struct {
	enqueuedAt time.Time
	fn         func() error
	fence      bool
	done       chan error
}

// Config enumerates Engine tunables.
type Config struct {
	// MaxInFlight bounds concurrently-submitted requests. Submitters beyond
	// this depth either block (cooperative) or receive errs.Busy, per
	// BlockOnBackpressure.
	MaxInFlight int
	// BlockOnBackpressure selects cooperative blocking (true) vs an
	// immediate errs.Busy reply (false) when MaxInFlight is exceeded.
	BlockOnBackpressure bool
}

func DefaultConfig() Config {
	return Config{MaxInFlight: 256, BlockOnBackpressure: true}
}

// Engine is the prioritized scheduler in front of a Backend.
type Engine struct {
	cfg     Config
	backend Backend

	mu        sync.Mutex
	queues    [numPriorities]*list.List
	cond      *sync.Cond
	inFlight  int
	fenceWait []chan struct{} // not used by the dispatch loop

	closed bool
}

// New constructs an Engine bound to backend, with cfg.MaxInFlight<=0 treated
// as DefaultConfig's value.
func New(backend Backend, cfg Config) *Engine {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	e := &Engine{cfg: cfg, backend: backend}
	for i := range e.queues {
		e.queues[i] = list.New()
	}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

// Close stops the dispatch loop. Queued requests never complete.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight >= e.cfg.MaxInFlight {
		if !e.cfg.BlockOnBackpressure {
			return errs.New("ioengine.enter", errs.Busy, "in-flight depth exceeded")
		}
		for e.inFlight >= e.cfg.MaxInFlight && !e.closed {
			e.cond.Wait()
		}
	}
	e.inFlight++
	return nil
}

func (e *Engine) leave() {
	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	e.cond.Broadcast()
}

func (e *Engine) submit(ctx context.Context, p Priority, fence bool, fn func() error) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	req := &request{enqueuedAt: time.Now(), fn: fn, fence: fence, done: make(chan error, 1)}
	e.mu.Lock()
	e.queues[p].PushBack(req)
	e.mu.Unlock()
	e.cond.Broadcast()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop dequeues the lowest-index non-empty priority queue, FIFO within it.
func (e *Engine) loop() {
	for {
		e.mu.Lock()
		for {
			if e.closed {
				e.mu.Unlock()
				return
			}
			if req := e.dequeueLocked(); req != nil {
				e.mu.Unlock()
				req.done <- req.fn()
				break
			}
			e.cond.Wait()
		}
	}
}

func (e *Engine) dequeueLocked() *request {
	for p := 0; p < int(numPriorities); p++ {
		if front := e.queues[p].Front(); front != nil {
			e.queues[p].Remove(front)
			return front.Value.(*request)
		}
	}
	return nil
}

// ReadBlock schedules a read at the given priority.
func (e *Engine) ReadBlock(ctx context.Context, ref block.BlockRef, p Priority) ([]byte, error) {
	var out []byte
	err := e.submit(ctx, p, false, func() error {
		b, err := e.backend.ReadBlock(ctx, ref)
		out = b
		return err
	})
	return out, err
}

// WriteBlock schedules a write at the given priority. The fence flag is
// recorded on the request, but the dispatch loop does not act on it: a
// fenced write is ordered against a later Flush only by priority and
// FIFO order, like any other request.
func (e *Engine) WriteBlock(ctx context.Context, ref block.BlockRef, data []byte, p Priority, fence bool) error {
	return e.submit(ctx, p, fence, func() error {
		return e.backend.WriteBlock(ctx, ref, data)
	})
}

// DiscardBlock schedules a device-level trim at the given priority.
func (e *Engine) DiscardBlock(ctx context.Context, ref block.BlockRef, p Priority) error {
	return e.submit(ctx, p, false, func() error {
		return e.backend.DiscardBlock(ctx, ref)
	})
}

// Flush schedules a flush at Critical priority, so it is dequeued ahead of
// any lower-priority request still queued, including a fenced write
// submitted earlier at a lower priority. A write whose WriteBlock call has
// already returned has completed before a Flush submitted afterwards runs.
func (e *Engine) Flush(ctx context.Context) error {
	return e.submit(ctx, Critical, false, func() error {
		return e.backend.Flush(ctx)
	})
}
