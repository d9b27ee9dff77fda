package oplog

import (
	"sync"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// LoggedOp is one applied MetaOp with its assigned per-shard sequence.
type LoggedOp struct {
	Seq uint64
	Op  MetaOp
}

// ShardLog holds one shard's ordered op log. The live projection is owned
// by the caller: Append's apply function mutates it for a single-shard
// op; ShardLog itself only owns ordering and the log, not filesystem
// semantics.
type ShardLog struct {
	mu      sync.Mutex
	id      uint64
	nextSeq uint64
	log     []LoggedOp
}

// NewShardLog constructs an empty log for shard id, starting sequence 1.
func NewShardLog(id uint64) *ShardLog {
	return &ShardLog{id: id, nextSeq: 1}
}

func (s *ShardLog) ID() uint64 { return s.id }

// Append assigns op the next strictly-increasing sequence number and
// records it. apply is invoked while the shard's lock is held, so a
// single shard's ops are totally ordered.
func (s *ShardLog) Append(op MetaOp, apply func(MetaOp) error) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := apply(op); err != nil {
		return 0, errs.Wrap("oplog.Append", errs.InvalidArgument, err)
	}
	seq := s.nextSeq
	s.nextSeq++
	s.log = append(s.log, LoggedOp{Seq: seq, Op: op})
	return seq, nil
}

// Entries returns a copy of the shard's ordered log.
func (s *ShardLog) Entries() []LoggedOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LoggedOp, len(s.log))
	copy(out, s.log)
	return out
}

// LastSeq returns the sequence of the most recently appended op, or 0 if
// none yet.
func (s *ShardLog) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.log) == 0 {
		return 0
	}
	return s.log[len(s.log)-1].Seq
}
