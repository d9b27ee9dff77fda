package oplog

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/meta/shard"
)

func errAborted(msg string) error {
	return errs.New("oplog.CrossShardCoordinator", errs.InvalidArgument, msg)
}

// CrossShardResult reports whether a coordinated operation stayed within
// a single shard or required a cross-shard transaction.
type CrossShardResult struct {
	SingleShard bool
	TxnID       uint64 // valid only when !SingleShard
}

// CrossShardCoordinator drives rename/link operations that may span shards,
// routing single-shard ops directly and cross-shard ops through 2PC.
type CrossShardCoordinator struct {
	router *shard.Router
	mgr    *Manager
}

// NewCrossShardCoordinator constructs a coordinator over numShards shards
// with the given per-transaction timeout.
func NewCrossShardCoordinator(numShards uint64, txnTimeout time.Duration) *CrossShardCoordinator {
	return &CrossShardCoordinator{router: shard.New(numShards), mgr: NewManager(txnTimeout)}
}

// ExecuteRename performs a rename, via 2PC if srcParent and dstParent route
// to different shards. apply is invoked exactly once, either directly
// (single-shard) or after both participants have voted commit
// (cross-shard); its error aborts the transaction.
func (c *CrossShardCoordinator) ExecuteRename(srcParent uint64, srcName string, dstParent uint64, dstName string, apply func(MetaOp) error) (CrossShardResult, error) {
	srcShard := c.router.ShardForInode(srcParent)
	dstShard := c.router.ShardForInode(dstParent)

	op := MetaOp{Kind: OpRename, Parent: srcParent, Name: srcName, DstParent: dstParent, DstName: dstName}

	if srcShard == dstShard {
		if err := apply(op); err != nil {
			return CrossShardResult{}, err
		}
		return CrossShardResult{SingleShard: true}, nil
	}

	return c.runTwoPhase(srcShard, []uint64{srcShard, dstShard}, op, apply)
}

// ExecuteLink performs a hard link, via 2PC if parent and targetIno route
// to different shards.
func (c *CrossShardCoordinator) ExecuteLink(parent uint64, name string, targetIno uint64, apply func(MetaOp) error) (CrossShardResult, error) {
	parentShard := c.router.ShardForInode(parent)
	targetShard := c.router.ShardForInode(targetIno)

	op := MetaOp{Kind: OpLink, Parent: parent, Name: name, TargetIno: targetIno}

	if parentShard == targetShard {
		if err := apply(op); err != nil {
			return CrossShardResult{}, err
		}
		return CrossShardResult{SingleShard: true}, nil
	}

	return c.runTwoPhase(parentShard, []uint64{parentShard, targetShard}, op, apply)
}

func (c *CrossShardCoordinator) runTwoPhase(coordinator uint64, participants []uint64, op MetaOp, apply func(MetaOp) error) (CrossShardResult, error) {
	txnID, err := c.mgr.BeginTransaction(coordinator, participants, op)
	if err != nil {
		return CrossShardResult{}, err
	}

	// Participants vote concurrently: each vote stands in for a prepare
	// round trip to that shard's owner, so collecting them serially would
	// pay every participant's latency instead of the slowest one's.
	var g errgroup.Group
	for _, p := range participants {
		p := p
		g.Go(func() error {
			return c.mgr.Vote(txnID, p, VoteCommit)
		})
	}
	if err := g.Wait(); err != nil {
		return CrossShardResult{}, err
	}

	state, err := c.mgr.State(txnID)
	if err != nil {
		return CrossShardResult{}, err
	}

	switch state {
	case Committing:
		if err := c.mgr.Commit(txnID, apply); err != nil {
			return CrossShardResult{}, err
		}
		return CrossShardResult{TxnID: txnID}, nil
	case Aborting:
		_ = c.mgr.Abort(txnID)
		return CrossShardResult{}, errAborted("cross-shard transaction aborted by a participant")
	default:
		return CrossShardResult{}, errAborted("unexpected transaction state after voting")
	}
}

// Manager exposes the underlying 2PC manager for callers that need direct
// access to periodic deadline sweeping.
func (c *CrossShardCoordinator) Manager() *Manager { return c.mgr }
