// Package pipeline implements cross-site replication: a journal entry
// format shared with the metadata service's per-shard logs, a tailer
// that streams entries in shard/sequence order, per-site bandwidth
// throttling, and acknowledgment-driven journal garbage collection.
package pipeline

import (
	"hash/crc32"
	"sort"

	"encoding/binary"
)

// OpKind tags the filesystem operation a journal entry replicates.
type OpKind int

const (
	OpCreate OpKind = iota
	OpUnlink
	OpRename
	OpWrite
	OpTruncate
	OpSetAttr
	OpLink
	OpSymlink
	OpMkDir
	OpSetXattr
	OpRemoveXattr
)

// Entry is a single journal entry shipped to remote sites.
type Entry struct {
	Seq         uint64
	ShardID     uint32
	SiteID      uint64
	TimestampUS uint64
	Inode       uint64
	Op          OpKind
	Payload     []byte
	CRC32       uint32
}

// computeCRC checksums every field except CRC32 itself: little-endian
// fixed fields, op discriminant as a single byte, then the raw payload.
func (e Entry) computeCRC() uint32 {
	buf := make([]byte, 0, 8+4+8+8+8+1+len(e.Payload))
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], e.Seq)
	buf = append(buf, tmp[:]...)

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], e.ShardID)
	buf = append(buf, tmp4[:]...)

	binary.LittleEndian.PutUint64(tmp[:], e.SiteID)
	buf = append(buf, tmp[:]...)

	binary.LittleEndian.PutUint64(tmp[:], e.TimestampUS)
	buf = append(buf, tmp[:]...)

	binary.LittleEndian.PutUint64(tmp[:], e.Inode)
	buf = append(buf, tmp[:]...)

	buf = append(buf, byte(e.Op))
	buf = append(buf, e.Payload...)

	return crc32.ChecksumIEEE(buf)
}

// ValidateCRC reports whether the entry's stored CRC32 matches its
// computed one.
func (e Entry) ValidateCRC() bool {
	return e.CRC32 == e.computeCRC()
}

// NewEntry builds an Entry with CRC32 computed automatically.
func NewEntry(seq uint64, shardID uint32, siteID uint64, timestampUS uint64, inode uint64, op OpKind, payload []byte) Entry {
	e := Entry{Seq: seq, ShardID: shardID, SiteID: siteID, TimestampUS: timestampUS, Inode: inode, Op: op, Payload: payload}
	e.CRC32 = e.computeCRC()
	return e
}

// Position identifies a point within a shard's journal.
type Position struct {
	ShardID uint32
	Seq     uint64
}

// Tailer streams entries in (ShardID, Seq) order starting from a given
// position. In production this reads from the metadata service's journal;
// here it wraps an in-memory buffer for testing.
type Tailer struct {
	entries []Entry
	index   int
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ShardID != entries[j].ShardID {
			return entries[i].ShardID < entries[j].ShardID
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// NewTailerInMemory wraps entries, sorted by (shard, seq), starting at the
// beginning.
func NewTailerInMemory(entries []Entry) *Tailer {
	cp := append([]Entry(nil), entries...)
	sortEntries(cp)
	return &Tailer{entries: cp}
}

// NewTailerFromPosition wraps entries starting at the first one at or past
// pos.
func NewTailerFromPosition(entries []Entry, pos Position) *Tailer {
	t := NewTailerInMemory(entries)
	idx := sort.Search(len(t.entries), func(i int) bool {
		e := t.entries[i]
		if e.ShardID != pos.ShardID {
			return e.ShardID > pos.ShardID
		}
		return e.Seq >= pos.Seq
	})
	t.index = idx
	return t
}

// Next returns the next entry, or ok=false at the tip of the journal.
func (t *Tailer) Next() (Entry, bool) {
	if t.index >= len(t.entries) {
		return Entry{}, false
	}
	e := t.entries[t.index]
	t.index++
	return e, true
}

// Position returns the tailer's current read position, or ok=false if the
// journal is empty.
func (t *Tailer) Position() (Position, bool) {
	if t.index < len(t.entries) {
		e := t.entries[t.index]
		return Position{ShardID: e.ShardID, Seq: e.Seq}, true
	}
	if len(t.entries) > 0 {
		e := t.entries[len(t.entries)-1]
		return Position{ShardID: e.ShardID, Seq: e.Seq + 1}, true
	}
	return Position{}, false
}

// Append inserts entry in sorted order, re-clamping the read index if it
// now falls past the end.
func (t *Tailer) Append(entry Entry) {
	t.entries = append(t.entries, entry)
	sortEntries(t.entries)
	if t.index > len(t.entries) {
		t.index = len(t.entries)
	}
}

// FilterByShard returns every entry belonging to shardID.
func (t *Tailer) FilterByShard(shardID uint32) []Entry {
	var out []Entry
	for _, e := range t.entries {
		if e.ShardID == shardID {
			out = append(out, e)
		}
	}
	return out
}
