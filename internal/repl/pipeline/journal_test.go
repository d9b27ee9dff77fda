package pipeline

import "testing"

func TestEntryCrcDeterministicAndSensitive(t *testing.T) {
	e1 := NewEntry(1, 1, 1, 1000, 10, OpWrite, []byte{1, 2, 3})
	e2 := NewEntry(1, 1, 1, 1000, 10, OpWrite, []byte{1, 2, 3})
	if e1.CRC32 != e2.CRC32 {
		t.Fatalf("expected identical entries to produce identical CRCs")
	}
	e3 := NewEntry(1, 1, 1, 1000, 10, OpWrite, []byte{1, 2, 4})
	if e1.CRC32 == e3.CRC32 {
		t.Fatalf("expected different payloads to produce different CRCs")
	}
}

func TestEntryValidateCrc(t *testing.T) {
	e := NewEntry(42, 3, 7, 1000, 999, OpCreate, []byte("hello world"))
	if !e.ValidateCRC() {
		t.Fatalf("expected freshly built entry to validate")
	}
	e.CRC32 = 0xDEADBEEF
	if e.ValidateCRC() {
		t.Fatalf("expected corrupted CRC to fail validation")
	}
}

func TestTailerNextInOrder(t *testing.T) {
	entries := []Entry{
		NewEntry(1, 0, 1, 1000, 10, OpCreate, nil),
		NewEntry(2, 0, 1, 1001, 10, OpWrite, nil),
		NewEntry(3, 0, 1, 1002, 10, OpTruncate, nil),
	}
	tailer := NewTailerInMemory(entries)

	for want := uint64(1); want <= 3; want++ {
		e, ok := tailer.Next()
		if !ok || e.Seq != want {
			t.Fatalf("expected seq %d, got %+v ok=%v", want, e, ok)
		}
	}
	if _, ok := tailer.Next(); ok {
		t.Fatalf("expected tailer to be exhausted")
	}
}

func TestTailerSortsByShardThenSeq(t *testing.T) {
	entries := []Entry{
		NewEntry(5, 1, 1, 1005, 10, OpCreate, nil),
		NewEntry(1, 0, 1, 1001, 10, OpCreate, nil),
		NewEntry(3, 1, 1, 1003, 10, OpCreate, nil),
		NewEntry(2, 0, 1, 1002, 10, OpCreate, nil),
	}
	tailer := NewTailerInMemory(entries)

	wantShard := []uint32{0, 0, 1, 1}
	wantSeq := []uint64{1, 2, 3, 5}
	for i := 0; i < 4; i++ {
		e, ok := tailer.Next()
		if !ok || e.ShardID != wantShard[i] || e.Seq != wantSeq[i] {
			t.Fatalf("entry %d: got shard=%d seq=%d", i, e.ShardID, e.Seq)
		}
	}
}

func TestTailerFromPosition(t *testing.T) {
	entries := []Entry{
		NewEntry(1, 0, 1, 1000, 10, OpCreate, nil),
		NewEntry(2, 0, 1, 1001, 10, OpWrite, nil),
		NewEntry(3, 0, 1, 1002, 10, OpTruncate, nil),
	}
	tailer := NewTailerFromPosition(entries, Position{ShardID: 0, Seq: 2})
	e, ok := tailer.Next()
	if !ok || e.Seq != 2 {
		t.Fatalf("expected to resume at seq 2, got %+v", e)
	}
}

func TestTailerAppendKeepsOrder(t *testing.T) {
	tailer := NewTailerInMemory([]Entry{NewEntry(1, 0, 1, 1000, 10, OpCreate, nil)})
	tailer.Append(NewEntry(2, 0, 1, 1001, 10, OpWrite, nil))
	tailer.Append(NewEntry(0, 0, 1, 999, 10, OpMkDir, nil))

	want := []uint64{0, 1, 2}
	for _, w := range want {
		e, ok := tailer.Next()
		if !ok || e.Seq != w {
			t.Fatalf("expected seq %d, got %+v", w, e)
		}
	}
}

func TestTailerFilterByShard(t *testing.T) {
	entries := []Entry{
		NewEntry(1, 0, 1, 1000, 10, OpCreate, nil),
		NewEntry(2, 1, 1, 1001, 11, OpWrite, nil),
		NewEntry(3, 0, 1, 1002, 12, OpTruncate, nil),
	}
	tailer := NewTailerInMemory(entries)
	shard0 := tailer.FilterByShard(0)
	if len(shard0) != 2 {
		t.Fatalf("expected 2 entries on shard 0, got %d", len(shard0))
	}
}

func TestTailerPositionAtTip(t *testing.T) {
	entries := []Entry{NewEntry(1, 0, 1, 1000, 10, OpCreate, nil)}
	tailer := NewTailerInMemory(entries)
	tailer.Next()
	pos, ok := tailer.Position()
	if !ok || pos.Seq != 2 {
		t.Fatalf("expected tip position seq=2, got %+v ok=%v", pos, ok)
	}
}

func TestTailerEmptyHasNoPosition(t *testing.T) {
	tailer := NewTailerInMemory(nil)
	if _, ok := tailer.Position(); ok {
		t.Fatalf("expected empty tailer to report no position")
	}
}
