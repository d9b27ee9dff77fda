// Package watch implements inotify-style subscriptions over metadata
// change events: clients subscribe to an inode, events fan out to every
// matching subscriber's bounded per-client queue, and excess events are
// dropped rather than blocking the publisher.
package watch

import (
	"sync"
	"sync/atomic"
)

// EventKind distinguishes the filesystem change events clients may watch.
type EventKind int

const (
	Create EventKind = iota
	Delete
	Rename
	AttrChange
	DataChange
	XattrChange
	BatchCreate
)

// Event is a single filesystem change notification. Only the fields
// relevant to Kind are meaningful.
type Event struct {
	Kind EventKind

	Parent    uint64
	Name      string
	Ino       uint64
	OldParent uint64
	OldName   string
	NewParent uint64
	NewName   string
	Count     uint32
}

// targetInodes returns the inodes whose watchers should receive ev:
// Create/Delete/BatchCreate notify the parent directory; Rename notifies
// both the old and new parent; attribute/data/xattr changes notify the
// inode itself.
func targetInodes(ev Event) []uint64 {
	switch ev.Kind {
	case Create, Delete, BatchCreate:
		return []uint64{ev.Parent}
	case Rename:
		if ev.OldParent == ev.NewParent {
			return []uint64{ev.OldParent}
		}
		return []uint64{ev.OldParent, ev.NewParent}
	default:
		return []uint64{ev.Ino}
	}
}

// Subscription is an active watch on an inode.
type Subscription struct {
	ID        uint64
	Client    uint64
	Ino       uint64
	Recursive bool
}

// Manager tracks subscriptions and per-client pending event queues.
type Manager struct {
	mu             sync.Mutex
	nextID         uint64
	subs           map[uint64]Subscription
	byInode        map[uint64][]uint64 // ino -> subscription IDs
	pending        map[uint64][]Event  // client -> queued events
	maxPerClient   int
	droppedByClient map[uint64]uint64
}

// New constructs a Manager that retains at most maxPerClient queued events
// per client before dropping further events.
func New(maxPerClient int) *Manager {
	return &Manager{
		subs:            make(map[uint64]Subscription),
		byInode:         make(map[uint64][]uint64),
		pending:         make(map[uint64][]Event),
		maxPerClient:    maxPerClient,
		droppedByClient: make(map[uint64]uint64),
	}
}

var globalID uint64

// nextSubID returns a process-wide unique subscription ID. Kept separate
// from per-Manager state so subscription IDs remain stable even if a
// Manager is replaced.
func nextSubID() uint64 {
	return atomic.AddUint64(&globalID, 1)
}

// AddWatch registers client's interest in ino and returns the new
// subscription's ID.
func (m *Manager) AddWatch(client, ino uint64, recursive bool) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := nextSubID()
	m.subs[id] = Subscription{ID: id, Client: client, Ino: ino, Recursive: recursive}
	m.byInode[ino] = append(m.byInode[ino], id)
	return id
}

// RemoveWatch drops a subscription by ID, reporting whether it existed.
func (m *Manager) RemoveWatch(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeWatchLocked(id)
}

func (m *Manager) removeWatchLocked(id uint64) bool {
	sub, ok := m.subs[id]
	if !ok {
		return false
	}
	delete(m.subs, id)
	ids := m.byInode[sub.Ino]
	for i, sid := range ids {
		if sid == id {
			m.byInode[sub.Ino] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byInode[sub.Ino]) == 0 {
		delete(m.byInode, sub.Ino)
	}
	return true
}

// RemoveClientWatches drops every subscription held by client, returning
// the number removed.
func (m *Manager) RemoveClientWatches(client uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uint64
	for id, sub := range m.subs {
		if sub.Client == client {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.removeWatchLocked(id)
	}
	delete(m.pending, client)
	return len(ids)
}

// Notify fans ev out to every client subscribed to one of its target
// inodes, queuing it onto each client's pending buffer. A client whose
// buffer is already at maxPerClient silently drops the event: this is
// documented loss on a full queue, not backpressure.
func (m *Manager) Notify(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uint64]bool)
	for _, ino := range targetInodes(ev) {
		for _, id := range m.byInode[ino] {
			client := m.subs[id].Client
			if seen[client] {
				continue
			}
			seen[client] = true
			queue := m.pending[client]
			if len(queue) < m.maxPerClient {
				m.pending[client] = append(queue, ev)
			} else {
				m.droppedByClient[client]++
			}
		}
	}
}

// DrainEvents removes and returns all pending events for client.
func (m *Manager) DrainEvents(client uint64) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.pending[client]
	delete(m.pending, client)
	return events
}

// HasPendingEvents reports whether client has any queued events.
func (m *Manager) HasPendingEvents(client uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[client]) > 0
}

// DroppedCount returns the number of events dropped for client due to a
// full queue.
func (m *Manager) DroppedCount(client uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.droppedByClient[client]
}

// WatchCount returns the total number of active subscriptions.
func (m *Manager) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// WatchesOn returns every subscription currently registered on ino.
func (m *Manager) WatchesOn(ino uint64) []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byInode[ino]
	out := make([]Subscription, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.subs[id])
	}
	return out
}
