package block

import (
	"context"
	"testing"
)

func TestFileBackendWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)
	defer b.Close()

	ref := BlockRef{ID: BlockID{Device: 0, Offset: 1}, Size: MinBlockSize}
	payload := make([]byte, MinBlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	ctx := context.Background()
	if err := b.WriteBlock(ctx, ref, payload); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	got, err := b.ReadBlock(ctx, ref)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("round trip mismatch at byte %d: got %d want %d", i, got[i], payload[i])
		}
	}
}

func TestFileBackendDiscardZeroesExtent(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)
	defer b.Close()

	ref := BlockRef{ID: BlockID{Device: 0, Offset: 2}, Size: MinBlockSize}
	payload := make([]byte, MinBlockSize)
	for i := range payload {
		payload[i] = 0xAB
	}
	ctx := context.Background()
	if err := b.WriteBlock(ctx, ref, payload); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := b.DiscardBlock(ctx, ref); err != nil {
		t.Fatalf("DiscardBlock: %v", err)
	}
	got, err := b.ReadBlock(ctx, ref)
	if err != nil {
		t.Fatalf("ReadBlock after discard: %v", err)
	}
	for i, v := range got {
		if v != 0 {
			t.Fatalf("expected discarded extent to read as zero at byte %d, got %d", i, v)
		}
	}
}

func TestFileBackendFlush(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)
	defer b.Close()

	ctx := context.Background()
	ref := BlockRef{ID: BlockID{Device: 0, Offset: 0}, Size: MinBlockSize}
	if err := b.WriteBlock(ctx, ref, make([]byte, MinBlockSize)); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
