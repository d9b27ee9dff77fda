// Package recovery implements the crash-recovery state machine:
// superblock -> bitmap -> journal scan -> journal replay, producing a
// report of what was found and what was applied.
package recovery

import (
	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/storage/block"
	"github.com/dirkpetersen/claudefs/internal/storage/journal"
)

// State is a step in the recovery state machine.
type State int

const (
	NotStarted State = iota
	SuperblockRead
	BitmapLoaded
	JournalScanned
	JournalReplayed
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case SuperblockRead:
		return "superblock_read"
	case BitmapLoaded:
		return "bitmap_loaded"
	case JournalScanned:
		return "journal_scanned"
	case JournalReplayed:
		return "journal_replayed"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Superblock is the per-device persisted header.
type Superblock struct {
	ClusterUUID string
	Device      block.DeviceIndex
	Role        block.Role
	CapacityUnit uint64
	Valid       bool
}

// LiveState is the in-memory projection recovery replays journal entries
// into. It is intentionally minimal here: a map of block id -> last applied
// entry, enough to express "replay in LSN order onto an initially-empty
// state" without depending on the full storage engine.
type LiveState struct {
	Blocks map[block.BlockID]journal.Entry
}

func newLiveState() *LiveState {
	return &LiveState{Blocks: make(map[block.BlockID]journal.Entry)}
}

// Config controls recovery policy.
type Config struct {
	// AllowPartialRecovery permits truncating a corrupted journal tail and
	// permits surfacing the filesystem even if a Journal-role device is
	// invalid. Default false: both conditions are fatal.
	AllowPartialRecovery bool
}

// Report summarizes one recovery run.
type Report struct {
	State            State
	DevicesFound     int
	DevicesValid     int
	EntriesFound     int
	EntriesReplayed  int
	TruncatedTail    bool
	Errors           []string
}

// Recover runs the full state machine over the given superblocks and
// journal entries (already read from their devices by the caller), and
// returns the resulting LiveState plus a Report.
func Recover(cfg Config, superblocks []Superblock, entries []journal.Entry) (*LiveState, Report, error) {
	report := Report{State: NotStarted, DevicesFound: len(superblocks)}

	report.State = SuperblockRead
	validJournalDevice := false
	for _, sb := range superblocks {
		if sb.Valid {
			report.DevicesValid++
			if sb.Role == block.RoleJournal || sb.Role == block.RoleCombined {
				validJournalDevice = true
			}
		}
	}
	if !validJournalDevice && !cfg.AllowPartialRecovery {
		report.State = Failed
		report.Errors = append(report.Errors, "no valid journal-role device and partial recovery disallowed")
		return nil, report, errs.New("recovery.Recover", errs.DeviceFailure, "missing valid journal device")
	}

	report.State = BitmapLoaded // bitmap reconstruction is driven by replay below

	report.State = JournalScanned
	valid, truncated := scan(entries, cfg.AllowPartialRecovery)
	report.EntriesFound = len(entries)
	report.TruncatedTail = truncated
	if truncated && !cfg.AllowPartialRecovery {
		report.State = Failed
		report.Errors = append(report.Errors, "corrupted journal tail and partial recovery disallowed")
		return nil, report, errs.New("recovery.Recover", errs.CorruptJournalEntry, "corrupted tail, partial recovery disallowed")
	}

	report.State = JournalReplayed
	live := newLiveState()
	for _, e := range valid {
		replay(live, e)
		report.EntriesReplayed++
	}

	report.State = Complete
	return live, report, nil
}

// scan validates each entry's checksum in order; the first invalid entry
// ends the valid prefix. If allowPartial is true the rest is dropped
// (truncated=true); otherwise the caller treats any invalid suffix as
// fatal via the returned truncated flag.
func scan(entries []journal.Entry, allowPartial bool) (valid []journal.Entry, truncated bool) {
	for i, e := range entries {
		if err := journal.Verify(e); err != nil {
			if allowPartial {
				return entries[:i], true
			}
			return entries[:i], true
		}
	}
	return entries, false
}

// replay applies one entry to live, in LSN order (callers must pass entries
// pre-sorted by LSN, which Writer.Entries already guarantees).
func replay(live *LiveState, e journal.Entry) {
	switch e.Op {
	case journal.OpDelete:
		delete(live.Blocks, e.BlockID)
	default:
		live.Blocks[e.BlockID] = e
	}
}
