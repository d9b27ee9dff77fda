// Package gc implements background garbage collection and orphan
// detection: a bounded-per-pass task scheduler for tombstones, orphans,
// stale locks, expired leases, and journal compaction, plus a
// reachability-based orphan detector over the directory graph.
package gc

import (
	"container/list"
	"fmt"
	"time"
)

// Config mirrors the original GcConfig tunables.
type Config struct {
	TombstoneTTL          time.Duration
	OrphanScanInterval    time.Duration
	MaxItemsPerPass       int
	StaleLockTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		TombstoneTTL:       24 * time.Hour,
		OrphanScanInterval: time.Hour,
		MaxItemsPerPass:    10000,
		StaleLockTimeout:   5 * time.Minute,
	}
}

// TaskKind tags a Task variant.
type TaskKind int

const (
	RemoveTombstone TaskKind = iota
	ReapOrphan
	ReapStaleLock
	PurgeExpiredLease
	CompactJournal
)

// Task is one unit of GC work.
type Task struct {
	Kind       TaskKind
	Inode      uint64
	DeletedAt  time.Time
	LockHolder uint64
	UpToSeq    uint64
}

// Describe renders a human-readable summary of the task, matching the
// original's GcTask::describe used in scheduler logs.
func (t Task) Describe() string {
	switch t.Kind {
	case RemoveTombstone:
		return fmt.Sprintf("RemoveTombstone inode=%d deleted_at=%d", t.Inode, t.DeletedAt.Unix())
	case ReapOrphan:
		return fmt.Sprintf("ReapOrphan inode=%d", t.Inode)
	case ReapStaleLock:
		return fmt.Sprintf("ReapStaleLock inode=%d holder=%d", t.Inode, t.LockHolder)
	case PurgeExpiredLease:
		return fmt.Sprintf("PurgeExpiredLease inode=%d", t.Inode)
	case CompactJournal:
		return fmt.Sprintf("CompactJournal up_to_seq=%d", t.UpToSeq)
	default:
		return "UnknownTask"
	}
}

// Stats tallies one run_pass invocation's outcome.
type Stats struct {
	TombstonesRemoved    uint64
	OrphansReaped        uint64
	StaleLocksReaped     uint64
	ExpiredLeasesPurged  uint64
	JournalEntriesCompacted uint64
	Errors               uint64
}

func (s Stats) processed() uint64 {
	return s.TombstonesRemoved + s.OrphansReaped + s.StaleLocksReaped +
		s.ExpiredLeasesPurged + s.JournalEntriesCompacted
}

// Scheduler queues GcTasks and processes them a bounded number at a time.
type Scheduler struct {
	cfg       Config
	pending   *list.List // of Task
	completed []Task
}

func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg, pending: list.New()}
}

// SubmitTask enqueues task for a future pass.
func (s *Scheduler) SubmitTask(task Task) {
	s.pending.PushBack(task)
}

// SubmitTombstone is a convenience wrapper for the common tombstone case.
func (s *Scheduler) SubmitTombstone(inode uint64, deletedAt time.Time) {
	s.SubmitTask(Task{Kind: RemoveTombstone, Inode: inode, DeletedAt: deletedAt})
}

// PendingCount returns the number of tasks not yet processed.
func (s *Scheduler) PendingCount() int { return s.pending.Len() }

// IsEmpty reports whether the pending queue is empty.
func (s *Scheduler) IsEmpty() bool { return s.pending.Len() == 0 }

// RunPass processes pending tasks FIFO until either the queue drains or
// MaxItemsPerPass tasks have been processed this pass. A tombstone task
// is only "processed" once its age reaches TombstoneTTL; otherwise it is
// dropped from the queue without counting — the task is consumed either
// way, only the stat increments conditionally.
func (s *Scheduler) RunPass(now time.Time) Stats {
	var stats Stats

	for s.pending.Len() > 0 {
		e := s.pending.Front()
		s.pending.Remove(e)
		task := e.Value.(Task)

		processed := false
		switch task.Kind {
		case RemoveTombstone:
			if now.Sub(task.DeletedAt) >= s.cfg.TombstoneTTL {
				stats.TombstonesRemoved++
				processed = true
			}
		case ReapOrphan:
			stats.OrphansReaped++
			processed = true
		case ReapStaleLock:
			stats.StaleLocksReaped++
			processed = true
		case PurgeExpiredLease:
			stats.ExpiredLeasesPurged++
			processed = true
		case CompactJournal:
			stats.JournalEntriesCompacted++
			processed = true
		}

		if processed {
			s.completed = append(s.completed, task)
		}

		if stats.processed() >= uint64(s.cfg.MaxItemsPerPass) {
			break
		}
	}

	return stats
}

// DrainCompleted removes and returns every task completed since the last
// drain.
func (s *Scheduler) DrainCompleted() []Task {
	out := s.completed
	s.completed = nil
	return out
}

// rootInode is the filesystem root, which is never considered orphaned
// even though nothing points to it from above.
const rootInode uint64 = 1

// OrphanDetector tracks the live inode set and directory-entry edges,
// finding inodes unreachable from any directory.
type OrphanDetector struct {
	inodes     map[uint64]bool
	dirEntries map[uint64]map[uint64]bool // parent -> set of children
}

func NewOrphanDetector() *OrphanDetector {
	return &OrphanDetector{inodes: make(map[uint64]bool), dirEntries: make(map[uint64]map[uint64]bool)}
}

// RegisterInode records inode as live.
func (d *OrphanDetector) RegisterInode(inode uint64) {
	d.inodes[inode] = true
}

// RegisterDirEntry records child as reachable via parent.
func (d *OrphanDetector) RegisterDirEntry(parent, child uint64) {
	d.inodes[child] = true
	if d.dirEntries[parent] == nil {
		d.dirEntries[parent] = make(map[uint64]bool)
	}
	d.dirEntries[parent][child] = true
}

// RemoveInode drops inode from the live set and from every directory that
// referenced it.
func (d *OrphanDetector) RemoveInode(inode uint64) {
	delete(d.inodes, inode)
	for _, children := range d.dirEntries {
		delete(children, inode)
	}
}

// RemoveDirEntry unlinks child from parent without removing the inode
// itself (it may still be reachable elsewhere, e.g. via a hard link).
func (d *OrphanDetector) RemoveDirEntry(parent, child uint64) {
	if children, ok := d.dirEntries[parent]; ok {
		delete(children, child)
	}
}

// FindOrphans returns every registered inode, other than the root, with no
// incoming directory-entry edge.
func (d *OrphanDetector) FindOrphans() []uint64 {
	referenced := make(map[uint64]bool)
	for _, children := range d.dirEntries {
		for child := range children {
			referenced[child] = true
		}
	}

	var orphans []uint64
	for ino := range d.inodes {
		if ino != rootInode && !referenced[ino] {
			orphans = append(orphans, ino)
		}
	}
	return orphans
}

// InodeCount returns the number of inodes currently tracked.
func (d *OrphanDetector) InodeCount() int { return len(d.inodes) }
