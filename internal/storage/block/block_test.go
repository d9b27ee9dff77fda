package block

import (
	"testing"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

func TestAllocateFreeCoalesce(t *testing.T) {
	// 1024 x 4 KiB = 4 MiB device.
	a := New(0, 1024)

	r1, err := a.Allocate(64 << 10)
	if err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	r2, err := a.Allocate(64 << 10)
	if err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	r3, err := a.Allocate(64 << 10)
	if err != nil {
		t.Fatalf("allocate 3: %v", err)
	}

	if err := a.Free(r1); err != nil {
		t.Fatalf("free 1: %v", err)
	}
	if err := a.Free(r3); err != nil {
		t.Fatalf("free 3: %v", err)
	}

	r4, err := a.Allocate(64 << 10)
	if err != nil {
		t.Fatalf("allocate 4 after free: %v", err)
	}
	if r4.Size != 64<<10 {
		t.Fatalf("expected 64KiB extent, got %d", r4.Size)
	}
	_ = r2
}

func TestOutOfSpace(t *testing.T) {
	a := New(0, 16) // 64 KiB device
	if _, err := a.Allocate(64 << 10); err != nil {
		t.Fatalf("first allocate should succeed: %v", err)
	}
	if _, err := a.Allocate(4 << 10); errs.CodeOf(err) != errs.OutOfSpace {
		t.Fatalf("expected OutOfSpace, got %v", err)
	}
}

func TestFreeListInvariant(t *testing.T) {
	a := New(0, 256) // 1 MiB device
	var refs []BlockRef
	for i := 0; i < 4; i++ {
		r, err := a.Allocate(64 << 10)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		refs = append(refs, r)
	}
	seen := map[uint64]bool{}
	for c, exts := range a.free {
		for _, e := range exts {
			if seen[e.offset] {
				t.Fatalf("offset %d present in two free lists", e.offset)
			}
			seen[e.offset] = true
			_ = c
		}
	}
	for _, r := range refs {
		if err := a.Free(r); err != nil {
			t.Fatalf("free: %v", err)
		}
	}
	if got := a.FreeUnits(); got != 256 {
		t.Fatalf("expected full device free after freeing all, got %d", got)
	}
}
