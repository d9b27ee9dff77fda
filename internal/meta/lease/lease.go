// Package lease implements the metadata client-side caching lease
// protocol: read leases coexist, a write lease is exclusive, and
// revocation returns the set of clients to notify.
package lease

import (
	"sync"
	"time"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// Type distinguishes read from write leases.
type Type int

const (
	Read Type = iota
	Write
)

// Lease is a granted metadata lease.
type Lease struct {
	ID         uint64
	Inode      uint64
	Client     uint64
	Type       Type
	GrantedAt  time.Time
	ExpiresAt  time.Time
}

// Manager tracks leases by inode and by client, enforcing read/write
// exclusivity.
type Manager struct {
	mu       sync.Mutex
	duration time.Duration
	nextID   uint64
	byInode  map[uint64][]*Lease
	byClient map[uint64]map[uint64]bool // client -> set of lease IDs
}

// New constructs a Manager granting leases valid for duration.
func New(duration time.Duration) *Manager {
	return &Manager{
		duration: duration,
		nextID:   1,
		byInode:  make(map[uint64][]*Lease),
		byClient: make(map[uint64]map[uint64]bool),
	}
}

// Grant issues client a lease of type t on ino. A write lease is rejected
// (errs.PermissionDenied) if any lease already exists on ino; a read lease
// is rejected if a write lease already exists.
func (m *Manager) Grant(ino, client uint64, t Type, now time.Time) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.byInode[ino]
	if t == Write {
		if len(existing) > 0 {
			return 0, errs.New("lease.Grant", errs.PermissionDenied, "write lease requires no existing leases")
		}
	} else {
		for _, l := range existing {
			if l.Type == Write {
				return 0, errs.New("lease.Grant", errs.PermissionDenied, "cannot grant read lease while write lease is active")
			}
		}
	}

	id := m.nextID
	m.nextID++
	l := &Lease{ID: id, Inode: ino, Client: client, Type: t, GrantedAt: now, ExpiresAt: now.Add(m.duration)}
	m.byInode[ino] = append(m.byInode[ino], l)
	if m.byClient[client] == nil {
		m.byClient[client] = make(map[uint64]bool)
	}
	m.byClient[client][id] = true
	return id, nil
}

// Revoke drops every lease on ino and returns the distinct clients that
// need to be notified.
func (m *Manager) Revoke(ino uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	leases, ok := m.byInode[ino]
	if !ok {
		return nil
	}
	delete(m.byInode, ino)

	seen := make(map[uint64]bool)
	var clients []uint64
	for _, l := range leases {
		if set, ok := m.byClient[l.Client]; ok {
			delete(set, l.ID)
			if len(set) == 0 {
				delete(m.byClient, l.Client)
			}
		}
		if !seen[l.Client] {
			seen[l.Client] = true
			clients = append(clients, l.Client)
		}
	}
	return clients
}

// RevokeLease drops a single lease by ID.
func (m *Manager) RevokeLease(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ino, leases := range m.byInode {
		for i, l := range leases {
			if l.ID != id {
				continue
			}
			m.byInode[ino] = append(leases[:i], leases[i+1:]...)
			if len(m.byInode[ino]) == 0 {
				delete(m.byInode, ino)
			}
			if set, ok := m.byClient[l.Client]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(m.byClient, l.Client)
				}
			}
			return nil
		}
	}
	return errs.New("lease.RevokeLease", errs.NotFound, "unknown lease id")
}

// RevokeClient drops every lease held by client (e.g. on disconnect),
// returning the number revoked.
func (m *Manager) RevokeClient(client uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.byClient[client]
	count := len(ids)
	delete(m.byClient, client)

	for ino, leases := range m.byInode {
		kept := leases[:0]
		for _, l := range leases {
			if l.Client != client {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(m.byInode, ino)
		} else {
			m.byInode[ino] = kept
		}
	}
	_ = ok
	return count
}

// HasValidLease reports whether client holds an unexpired lease on ino.
func (m *Manager) HasValidLease(ino, client uint64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.byInode[ino] {
		if l.Client == client && l.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

// Renew extends id's expiry to now+duration.
func (m *Manager) Renew(id uint64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, leases := range m.byInode {
		for _, l := range leases {
			if l.ID == id {
				l.ExpiresAt = now.Add(m.duration)
				return nil
			}
		}
	}
	return errs.New("lease.Renew", errs.NotFound, "unknown lease id")
}

// SweepExpired removes every lease whose expiry has passed as of now,
// returning the number removed.
func (m *Manager) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for ino, leases := range m.byInode {
		kept := leases[:0]
		for _, l := range leases {
			if l.ExpiresAt.After(now) {
				kept = append(kept, l)
				continue
			}
			removed++
			if set, ok := m.byClient[l.Client]; ok {
				delete(set, l.ID)
				if len(set) == 0 {
					delete(m.byClient, l.Client)
				}
			}
		}
		if len(kept) == 0 {
			delete(m.byInode, ino)
		} else {
			m.byInode[ino] = kept
		}
	}
	return removed
}

// ActiveLeases returns a snapshot of every currently-tracked lease on ino.
func (m *Manager) ActiveLeases(ino uint64) []Lease {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lease, 0, len(m.byInode[ino]))
	for _, l := range m.byInode[ino] {
		out = append(out, *l)
	}
	return out
}
