// Transaction implements the cross-shard 2PC coordinator:
// begin_transaction -> per-participant vote -> commit/abort, with a
// deadlock-avoidance participant lock order derived from a topological
// sort (gonum/graph) over the participant dependency graph.
package oplog

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// TxnState is a 2PC transaction's state machine position.
type TxnState int

const (
	Preparing TxnState = iota
	Committing
	Aborting
	Committed
	Aborted
)

func (s TxnState) String() string {
	switch s {
	case Preparing:
		return "preparing"
	case Committing:
		return "committing"
	case Aborting:
		return "aborting"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func (s TxnState) terminal() bool { return s == Committed || s == Aborted }

// Vote is a participant's reply to a 2PC prepare.
type Vote int

const (
	VoteCommit Vote = iota
	VoteAbort
)

// Transaction is a single cross-shard 2PC transaction record.
type Transaction struct {
	ID             uint64
	Coordinator    uint64
	Participants   []uint64
	State          TxnState
	Votes          map[uint64]Vote
	Op             MetaOp
	Deadline       time.Time
}

// Manager coordinates cross-shard transactions. Each transaction's
// participant order is computed once at begin time via a topological
// sort over a graph with one node per participant and edges imposing
// coordinator-first ordering, and stored as Transaction.Participants.
// Manager itself acquires no per-participant locks, and the order is only
// coordinator-first: two transactions with different coordinators over
// the same participants are ordered differently.
type Manager struct {
	mu      sync.Mutex
	nextID  uint64
	txns    map[uint64]*Transaction
	timeout time.Duration
}

// NewManager constructs a Manager whose transactions auto-abort if not
// resolved within timeout of being begun.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{txns: make(map[uint64]*Transaction), timeout: timeout, nextID: 1}
}

// BeginTransaction opens a new transaction in state Preparing. participants
// must include coordinator. The lock order used internally is the
// topologically-sorted participant list; a cycle (impossible for this
// graph shape, but checked defensively) aborts the transaction immediately.
func (m *Manager) BeginTransaction(coordinator uint64, participants []uint64, op MetaOp) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered, err := lockOrder(coordinator, participants)
	if err != nil {
		return 0, err
	}

	id := m.nextID
	m.nextID++
	m.txns[id] = &Transaction{
		ID:           id,
		Coordinator:  coordinator,
		Participants: ordered,
		State:        Preparing,
		Votes:        make(map[uint64]Vote),
		Op:           op,
		Deadline:     time.Now().Add(m.timeout),
	}
	return id, nil
}

// lockOrder builds a tiny DAG (coordinator -> every other participant) and
// topologically sorts it, so the coordinator always comes first; the
// relative order of the other participants is whatever the sort yields.
func lockOrder(coordinator uint64, participants []uint64) ([]uint64, error) {
	g := simple.NewDirectedGraph()
	nodes := make(map[uint64]int64)
	id := int64(0)
	addNode := func(p uint64) {
		if _, ok := nodes[p]; !ok {
			nodes[p] = id
			g.AddNode(simple.Node(id))
			id++
		}
	}
	addNode(coordinator)
	for _, p := range participants {
		addNode(p)
	}
	for _, p := range participants {
		if p != coordinator {
			g.SetEdge(simple.Edge{F: simple.Node(nodes[coordinator]), T: simple.Node(nodes[p])})
		}
	}
	order, err := topo.Sort(g)
	if err != nil {
		return nil, errs.New("oplog.lockOrder", errs.InvalidArgument, "participant dependency graph has a cycle")
	}
	byID := make(map[int64]uint64, len(nodes))
	for p, nid := range nodes {
		byID[nid] = p
	}
	out := make([]uint64, 0, len(order))
	for _, n := range order {
		out = append(out, byID[n.ID()])
	}
	return out, nil
}

// Vote records participant's vote on txnID. Once every participant has
// voted Commit, the transaction moves to Committing; any Abort vote moves
// it to Aborting immediately.
func (m *Manager) Vote(txnID, participant uint64, v Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txnID]
	if !ok {
		return errs.New("oplog.Vote", errs.NotFound, "unknown transaction")
	}
	if t.State.terminal() {
		return errs.New("oplog.Vote", errs.InvalidArgument, "transaction already resolved")
	}
	t.Votes[participant] = v
	if v == VoteAbort {
		t.State = Aborting
		return nil
	}
	if t.State == Preparing && allCommitted(t) {
		t.State = Committing
	}
	return nil
}

func allCommitted(t *Transaction) bool {
	for _, p := range t.Participants {
		v, ok := t.Votes[p]
		if !ok || v != VoteCommit {
			return false
		}
	}
	return true
}

// Commit applies mutation by calling apply, and on success transitions the
// transaction to Committed. Commit may only be called once the transaction
// is Committing; on apply failure it force-aborts instead.
func (m *Manager) Commit(txnID uint64, apply func(MetaOp) error) error {
	m.mu.Lock()
	t, ok := m.txns[txnID]
	if !ok {
		m.mu.Unlock()
		return errs.New("oplog.Commit", errs.NotFound, "unknown transaction")
	}
	if t.State != Committing {
		m.mu.Unlock()
		return errs.New("oplog.Commit", errs.InvalidArgument, "transaction not in Committing state")
	}
	op := t.Op
	m.mu.Unlock()

	if err := apply(op); err != nil {
		m.forceAbort(txnID)
		return err
	}

	m.mu.Lock()
	t.State = Committed
	m.mu.Unlock()
	return nil
}

// Abort transitions a transaction already in Aborting to Aborted.
func (m *Manager) Abort(txnID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txnID]
	if !ok {
		return errs.New("oplog.Abort", errs.NotFound, "unknown transaction")
	}
	if t.State != Aborting {
		return errs.New("oplog.Abort", errs.InvalidArgument, "transaction not in Aborting state")
	}
	t.State = Aborted
	return nil
}

func (m *Manager) forceAbort(txnID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txns[txnID]; ok && !t.State.terminal() {
		t.State = Aborted
	}
}

// State returns txnID's current state.
func (m *Manager) State(txnID uint64) (TxnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txnID]
	if !ok {
		return 0, errs.New("oplog.State", errs.NotFound, "unknown transaction")
	}
	return t.State, nil
}

// ExpireDeadlines auto-aborts every non-terminal transaction whose
// deadline has passed as of now.
func (m *Manager) ExpireDeadlines(now time.Time) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []uint64
	for id, t := range m.txns {
		if !t.State.terminal() && now.After(t.Deadline) {
			t.State = Aborted
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	return expired
}
