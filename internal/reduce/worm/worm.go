// Package worm implements a write-once-read-many retention overlay: a
// policy attached to a content hash, monotonic upgrades only, and a GC
// pass that drops expired entries.
package worm

import (
	"sync"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// Mode ranks retention strength; higher values must not be replaced by
// lower ones — stronger policies must not be downgraded once registered.
type Mode int

const (
	None Mode = iota
	Immutable
	LegalHold
)

// Policy is the retention policy attached to one content hash.
type Policy struct {
	Mode        Mode
	RetainUntil uint64 // meaningful only for Immutable
}

func NoneP() Policy                   { return Policy{Mode: None} }
func ImmutableUntil(ts uint64) Policy { return Policy{Mode: Immutable, RetainUntil: ts} }
func LegalHoldP() Policy              { return Policy{Mode: LegalHold} }

// IsExpired reports whether the policy has lapsed as of nowTS.
func (p Policy) IsExpired(nowTS uint64) bool {
	switch p.Mode {
	case None:
		return true
	case LegalHold:
		return false
	case Immutable:
		return nowTS > p.RetainUntil
	default:
		return true
	}
}

type record struct {
	policy Policy
	size   uint64
}

// Overlay is the hash -> (Policy, size) table.
type Overlay struct {
	mu      sync.Mutex
	records map[[32]byte]record
}

func New() *Overlay {
	return &Overlay{records: make(map[[32]byte]record)}
}

// Register attaches policy to hash. If hash already has a policy, the
// transition is only applied when policy.Mode >= the existing mode
// (monotonic upgrade); a downgrade attempt returns errs.InvalidArgument and
// leaves the existing policy untouched.
func (o *Overlay) Register(hash [32]byte, policy Policy, size uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.records[hash]; ok {
		if policy.Mode < existing.policy.Mode {
			return errs.New("worm.Register", errs.InvalidArgument, "cannot downgrade retention policy")
		}
	}
	o.records[hash] = record{policy: policy, size: size}
	return nil
}

// Get returns hash's current policy and size, if registered.
func (o *Overlay) Get(hash [32]byte) (Policy, uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.records[hash]
	return r.policy, r.size, ok
}

// ActiveCount returns the number of entries not expired as of nowTS.
func (o *Overlay) ActiveCount(nowTS uint64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.records {
		if !r.policy.IsExpired(nowTS) {
			n++
		}
	}
	return n
}

// GCExpired removes every entry whose policy has expired as of nowTS,
// returning the number removed.
func (o *Overlay) GCExpired(nowTS uint64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var expired [][32]byte
	for h, r := range o.records {
		if r.policy.IsExpired(nowTS) {
			expired = append(expired, h)
		}
	}
	for _, h := range expired {
		delete(o.records, h)
	}
	return len(expired)
}

// TotalCount returns the number of registered entries, expired or not.
func (o *Overlay) TotalCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.records)
}
