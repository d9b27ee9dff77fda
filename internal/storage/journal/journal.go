// Package journal implements the storage-side write-ahead journal: an
// append-only, monotonically-increasing-LSN op log with a configurable
// sync policy and renameio-style atomic checkpoints.
package journal

import (
	"encoding/binary"
	"hash/crc32"
	"sync"
	"time"

	"github.com/google/renameio"

	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/storage/block"
)

// SyncMode selects the durability/throughput tradeoff for appended entries.
type SyncMode int

const (
	// NoSync does not flush on Append and starts no background flusher:
	// entries become durable only when Flush is called, so an
	// acknowledged entry may still be lost on crash.
	NoSync SyncMode = iota
	// WriteThrough fsyncs after every entry.
	WriteThrough
	// BatchSync groups commits, flushing on the Append that brings the
	// count since the last flush to BatchEntries. BatchInterval is not
	// consulted: no flush is triggered by elapsed time.
	BatchSync
)

// OpKind tags a storage-side journal operation.
type OpKind int

const (
	OpWrite OpKind = iota
	OpDelete
	OpFsync
)

// Entry is the storage-side journal record, distinct from the
// metadata-replication journal entry in internal/repl.
type Entry struct {
	LSN      uint64
	BlockID  block.BlockID
	Op       OpKind
	Payload  []byte // set for OpWrite
	Checksum uint32
}

// encodeEntry serializes e for the on-disk backing file: a fixed header
// followed by the variable-length payload.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 4+1+8+2+8+8+4+len(e.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)-4))
	buf[4] = byte(e.Op)
	binary.LittleEndian.PutUint64(buf[5:13], e.LSN)
	binary.LittleEndian.PutUint16(buf[13:15], uint16(e.BlockID.Device))
	binary.LittleEndian.PutUint64(buf[15:23], e.BlockID.Offset)
	binary.LittleEndian.PutUint64(buf[23:31], uint64(len(e.Payload)))
	binary.LittleEndian.PutUint32(buf[31:35], e.Checksum)
	copy(buf[35:], e.Payload)
	return buf
}

func computeChecksum(e Entry) uint32 {
	h := crc32.NewIEEE()
	var hdr [1 + 2 + 8]byte
	hdr[0] = byte(e.Op)
	binary.LittleEndian.PutUint16(hdr[1:3], uint16(e.BlockID.Device))
	binary.LittleEndian.PutUint64(hdr[3:11], e.BlockID.Offset)
	h.Write(hdr[:])
	h.Write(e.Payload)
	return h.Sum32()
}

// Config enumerates journal tunables.
type Config struct {
	Sync          SyncMode
	BatchEntries  int           // BatchSync: flush every N entries
	BatchInterval time.Duration // not consulted by Writer
	CheckpointDir string        // directory holding the checkpoint file
}

func DefaultConfig() Config {
	return Config{Sync: WriteThrough, BatchEntries: 64, BatchInterval: 50 * time.Millisecond}
}

const checkpointMagic uint32 = 0x434A4350 // "CJCP"

// Checkpoint records durable truncation points.
type Checkpoint struct {
	LastCommittedLSN uint64
	LastFlushedLSN   uint64
	TimestampSecs    uint64
}

func (c Checkpoint) encode() []byte {
	buf := make([]byte, 4+8+8+8+8)
	binary.LittleEndian.PutUint32(buf[0:4], checkpointMagic)
	binary.LittleEndian.PutUint64(buf[4:12], c.LastCommittedLSN)
	binary.LittleEndian.PutUint64(buf[12:20], c.LastFlushedLSN)
	binary.LittleEndian.PutUint64(buf[20:28], c.TimestampSecs)
	sum := crc32.ChecksumIEEE(buf[0:28])
	binary.LittleEndian.PutUint64(buf[28:36], uint64(sum))
	return buf
}

func decodeCheckpoint(buf []byte) (Checkpoint, error) {
	if len(buf) != 36 {
		return Checkpoint{}, errs.New("journal.decodeCheckpoint", errs.CorruptJournalEntry, "bad checkpoint length")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != checkpointMagic {
		return Checkpoint{}, errs.New("journal.decodeCheckpoint", errs.CorruptJournalEntry, "bad checkpoint magic")
	}
	want := uint64(crc32.ChecksumIEEE(buf[0:28]))
	got := binary.LittleEndian.Uint64(buf[28:36])
	if want != got {
		return Checkpoint{}, errs.New("journal.decodeCheckpoint", errs.ChecksumMismatch, "checkpoint checksum mismatch")
	}
	return Checkpoint{
		LastCommittedLSN: binary.LittleEndian.Uint64(buf[4:12]),
		LastFlushedLSN:   binary.LittleEndian.Uint64(buf[12:20]),
		TimestampSecs:    binary.LittleEndian.Uint64(buf[20:28]),
	}, nil
}

// Writer appends entries, enforcing strictly increasing LSNs and the
// configured sync policy.
type Writer struct {
	mu          sync.Mutex
	cfg         Config
	nextLSN     uint64
	entries     []Entry // in-memory durable log, always kept regardless of backing
	backing     *fileBacking
	pending     int // entries since last batch flush
	lastFlushed uint64
	lastCommit  uint64
}

// New constructs a Writer starting at LSN 1, with no real backing file:
// Flush only advances the in-memory watermark. Used by callers (and tests)
// that don't need crash durability across process restarts.
func New(cfg Config) *Writer {
	return &Writer{cfg: cfg, nextLSN: 1}
}

// NewWithBacking constructs a Writer whose Flush fsyncs path's fd, giving
// appended entries real crash durability instead of just an in-memory
// watermark.
func NewWithBacking(cfg Config, path string) (*Writer, error) {
	b, err := openBackingFile(path)
	if err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg, nextLSN: 1, backing: b}, nil
}

// Close releases the Writer's backing fd, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.backing == nil {
		return nil
	}
	return w.backing.close()
}

// Append adds op as the next entry, computing its checksum and assigning it
// the next LSN. Depending on Config.Sync, it may synchronously persist
// before returning (WriteThrough), batch (BatchSync), or return immediately
// (NoSync).
func (w *Writer) Append(blockID block.BlockID, op OpKind, payload []byte) (Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := Entry{LSN: w.nextLSN, BlockID: blockID, Op: op, Payload: payload}
	e.Checksum = computeChecksum(e)
	w.nextLSN++
	w.entries = append(w.entries, e)
	w.lastCommit = e.LSN

	if w.backing != nil {
		if err := w.backing.append(encodeEntry(e)); err != nil {
			return Entry{}, err
		}
	}

	switch w.cfg.Sync {
	case WriteThrough:
		if err := w.syncLocked(e.LSN); err != nil {
			return Entry{}, err
		}
	case BatchSync:
		w.pending++
		if w.pending >= w.cfg.BatchEntries {
			if err := w.syncLocked(e.LSN); err != nil {
				return Entry{}, err
			}
			w.pending = 0
		}
	case NoSync:
		// lastFlushed advances only via an explicit Flush call.
	}
	return e, nil
}

// syncLocked fsyncs the backing fd (if any) and advances lastFlushed to
// upToLSN. Callers hold w.mu.
func (w *Writer) syncLocked(upToLSN uint64) error {
	if w.backing != nil {
		if err := w.backing.fsync(); err != nil {
			return err
		}
	}
	w.lastFlushed = upToLSN
	return nil
}

// Flush marks all appended entries durable up to the current tail. With a
// real backing file this issues an fsync; otherwise it's just the
// in-memory watermark an async background flusher would advance under
// NoSync/BatchSync.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		w.pending = 0
		return nil
	}
	if err := w.syncLocked(w.entries[len(w.entries)-1].LSN); err != nil {
		return err
	}
	w.pending = 0
	return nil
}

// Entries returns a copy of all appended entries, in LSN order.
func (w *Writer) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Checkpoint returns the current (lastCommitted, lastFlushed) pair.
func (w *Writer) Checkpoint() Checkpoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Checkpoint{LastCommittedLSN: w.lastCommit, LastFlushedLSN: w.lastFlushed, TimestampSecs: uint64(time.Now().Unix())}
}

// WriteCheckpoint atomically persists cp to path, via renameio so a crash
// mid-write never leaves a torn checkpoint file behind.
func WriteCheckpoint(path string, cp Checkpoint) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return errs.Wrap("journal.WriteCheckpoint", errs.DeviceFailure, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(cp.encode()); err != nil {
		return errs.Wrap("journal.WriteCheckpoint", errs.DeviceFailure, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return errs.Wrap("journal.WriteCheckpoint", errs.DeviceFailure, err)
	}
	return nil
}

// TruncateUpTo drops entries with LSN <= lsn, valid once downstream
// durability (e.g. replication ack) is confirmed for them.
func (w *Writer) TruncateUpTo(lsn uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := 0
	for i < len(w.entries) && w.entries[i].LSN <= lsn {
		i++
	}
	w.entries = w.entries[i:]
}

// Verify recomputes e's checksum and reports a ChecksumMismatch error if it
// doesn't match the stored value — used by crash recovery's scan phase.
func Verify(e Entry) error {
	if computeChecksum(e) != e.Checksum {
		return errs.New("journal.Verify", errs.ChecksumMismatch, "entry checksum mismatch")
	}
	return nil
}
