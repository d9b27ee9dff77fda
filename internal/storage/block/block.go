// Package block implements a buddy-style extent allocator: one free-list
// set per device, keyed by size class, that splits larger blocks on
// allocation and coalesces buddies on free.
package block

import (
	"sync"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

const (
	// MinBlockSize is the smallest extent the allocator hands out (4 KiB).
	MinBlockSize = 4 << 10
	// MaxBlockSize is the largest extent the allocator hands out (64 MiB).
	MaxBlockSize = 64 << 20
)

// Size classes are log2(size) - log2(MinBlockSize), so class 0 == 4 KiB.
func classOf(size uint64) int {
	class := 0
	for s := uint64(MinBlockSize); s < size; s <<= 1 {
		class++
	}
	return class
}

func sizeOfClass(class int) uint64 {
	return uint64(MinBlockSize) << uint(class)
}

func numClasses() int {
	n := 0
	for s := uint64(MinBlockSize); s <= MaxBlockSize; s <<= 1 {
		n++
	}
	return n
}

// DeviceIndex identifies a device in the pool.
type DeviceIndex uint16

// BlockID is a device-relative offset in 4 KiB units.
type BlockID struct {
	Device DeviceIndex
	Offset uint64 // in 4 KiB units
}

// BlockRef additionally carries the extent's size.
type BlockRef struct {
	ID   BlockID
	Size uint64
}

type freeExtent struct {
	offset uint64 // in 4 KiB units
}

// Allocator is a buddy allocator over a single device's 4 KiB-unit address
// space.
type Allocator struct {
	mu        sync.Mutex
	device    DeviceIndex
	totalUnit uint64 // capacity in 4 KiB units
	free      [][]freeExtent
	allocated map[uint64]int // offset (units) -> class, for allocated extents
}

// New constructs an Allocator over capacityUnits 4 KiB blocks. The
// capacity need not be a power of two: seed files it as one or more
// power-of-two aligned free extents, each at the largest class it fits.
func New(device DeviceIndex, capacityUnits uint64) *Allocator {
	a := &Allocator{
		device:    device,
		totalUnit: capacityUnits,
		free:      make([][]freeExtent, numClasses()),
		allocated: make(map[uint64]int),
	}
	a.seed(capacityUnits)
	return a
}

// seed partitions [0, capacityUnits) into the largest possible power-of-two
// aligned free extents, each filed at its own class.
func (a *Allocator) seed(capacityUnits uint64) {
	unitsPerMin := uint64(MinBlockSize / MinBlockSize) // 1, kept for clarity
	_ = unitsPerMin
	offset := uint64(0)
	remaining := capacityUnits
	maxClass := numClasses() - 1
	for remaining > 0 {
		class := maxClass
		for class > 0 && (sizeOfClass(class)/MinBlockSize > remaining || offset%(sizeOfClass(class)/MinBlockSize) != 0) {
			class--
		}
		unitSize := sizeOfClass(class) / MinBlockSize
		a.free[class] = append(a.free[class], freeExtent{offset: offset})
		offset += unitSize
		remaining -= unitSize
	}
}

// Allocate finds the smallest free class able to hold size bytes, splitting
// larger blocks as needed. Returns errs.OutOfSpace if no class can satisfy
// the request.
func (a *Allocator) Allocate(size uint64) (BlockRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := classOf(size)
	if want >= len(a.free) {
		return BlockRef{}, errs.New("block.Allocate", errs.InvalidArgument, "size exceeds max block size")
	}

	class, ok := a.findAndSplit(want)
	if !ok {
		return BlockRef{}, errs.New("block.Allocate", errs.OutOfSpace, "no free extent large enough")
	}

	n := len(a.free[class])
	ext := a.free[class][n-1]
	a.free[class] = a.free[class][:n-1]
	a.allocated[ext.offset] = class

	return BlockRef{
		ID:   BlockID{Device: a.device, Offset: ext.offset},
		Size: sizeOfClass(class),
	}, nil
}

// findAndSplit locates the smallest class >= want with a free extent,
// splitting it down to want, and returns the class it left an extent at
// (== want) plus whether it succeeded.
func (a *Allocator) findAndSplit(want int) (int, bool) {
	class := want
	for class < len(a.free) && len(a.free[class]) == 0 {
		class++
	}
	if class >= len(a.free) {
		return 0, false
	}
	// Split from `class` down to `want`, pushing buddies onto lower lists.
	for class > want {
		n := len(a.free[class])
		ext := a.free[class][n-1]
		a.free[class] = a.free[class][:n-1]
		class--
		unitSize := sizeOfClass(class) / MinBlockSize
		buddyOffset := ext.offset + unitSize
		a.free[class] = append(a.free[class], freeExtent{offset: ext.offset})
		a.free[class] = append(a.free[class], freeExtent{offset: buddyOffset})
	}
	return want, true
}

// Free returns ref's extent to the allocator, coalescing with its buddy
// repeatedly while the buddy is present in the free list at the same class.
// Free is idempotent at the allocator-bitmap level: freeing an extent not
// currently recorded as allocated is a no-op, but callers must not reuse a
// freed ref regardless.
func (a *Allocator) Free(ref BlockRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	class, ok := a.allocated[ref.ID.Offset]
	if !ok {
		return nil
	}
	delete(a.allocated, ref.ID.Offset)
	a.coalesce(ref.ID.Offset, class)
	return nil
}

func (a *Allocator) coalesce(offset uint64, class int) {
	for class < len(a.free)-1 {
		unitSize := sizeOfClass(class) / MinBlockSize
		buddyOffset := offset ^ unitSize // buddies differ in exactly the size-bit
		idx := a.indexOf(class, buddyOffset)
		if idx < 0 {
			break
		}
		// remove buddy from its free list
		a.free[class] = append(a.free[class][:idx], a.free[class][idx+1:]...)
		if buddyOffset < offset {
			offset = buddyOffset
		}
		class++
	}
	a.free[class] = append(a.free[class], freeExtent{offset: offset})
}

func (a *Allocator) indexOf(class int, offset uint64) int {
	for i, e := range a.free[class] {
		if e.offset == offset {
			return i
		}
	}
	return -1
}

// ClassStats reports the free extent count of one size-class, for telemetry.
type ClassStats struct {
	Class     int
	BlockSize uint64
	FreeCount int
}

// Stats returns per-size-class free extent counts.
func (a *Allocator) Stats() []ClassStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ClassStats, len(a.free))
	for c := range a.free {
		out[c] = ClassStats{Class: c, BlockSize: sizeOfClass(c), FreeCount: len(a.free[c])}
	}
	return out
}

// FreeUnits returns the total number of free 4 KiB units across all classes.
func (a *Allocator) FreeUnits() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for c, exts := range a.free {
		total += uint64(len(exts)) * (sizeOfClass(c) / MinBlockSize)
	}
	return total
}
