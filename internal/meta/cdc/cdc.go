// Package cdc implements the change-data-capture event stream: every
// metadata operation is published with a monotonic sequence number into a
// bounded ring buffer, and independent consumers track their own cursor
// position across it.
package cdc

import (
	"sort"
	"sync"
	"time"

	"github.com/dirkpetersen/claudefs/internal/meta/oplog"
)

// Event is one published change, carrying the operation that produced it.
type Event struct {
	Sequence  uint64
	Timestamp time.Time
	Op        oplog.MetaOp
	SiteID    uint64
}

// Cursor is a named consumer's position in the stream.
type Cursor struct {
	ConsumerID   string
	LastSequence uint64
}

// Stream is a monotonic, bounded event log with independent consumer
// cursors.
type Stream struct {
	mu         sync.Mutex
	events     []Event // sorted by Sequence ascending
	cursors    map[string]*Cursor
	nextSeq    uint64
	maxEvents  int
}

// New constructs a Stream retaining at most maxEvents, evicting the oldest
// once exceeded.
func New(maxEvents int) *Stream {
	return &Stream{
		cursors:   make(map[string]*Cursor),
		nextSeq:   1,
		maxEvents: maxEvents,
	}
}

// Publish appends op to the stream and returns its assigned sequence
// number.
func (s *Stream) Publish(op oplog.MetaOp, siteID uint64, now time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq
	s.nextSeq++
	s.events = append(s.events, Event{Sequence: seq, Timestamp: now, Op: op, SiteID: siteID})

	if len(s.events) > s.maxEvents {
		drop := len(s.events) - s.maxEvents
		s.events = append([]Event(nil), s.events[drop:]...)
	}
	return seq
}

// RegisterConsumer creates (or resets) a consumer cursor starting at
// sequence 0, so its first Consume call returns everything currently
// buffered.
func (s *Stream) RegisterConsumer(consumerID string) Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Cursor{ConsumerID: consumerID}
	s.cursors[consumerID] = c
	return *c
}

// UnregisterConsumer drops a consumer's cursor, reporting whether it
// existed.
func (s *Stream) UnregisterConsumer(consumerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cursors[consumerID]; !ok {
		return false
	}
	delete(s.cursors, consumerID)
	return true
}

// indexAfter returns the first index with Sequence > after, via binary
// search over the sorted event slice. Must be called with s.mu held.
func (s *Stream) indexAfter(after uint64) int {
	return sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Sequence > after
	})
}

// Consume returns up to maxCount events after consumerID's cursor and
// advances the cursor past them. Returns nil if the consumer is unknown.
func (s *Stream) Consume(consumerID string, maxCount int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, ok := s.cursors[consumerID]
	if !ok {
		return nil
	}

	start := s.indexAfter(cursor.LastSequence)
	end := start + maxCount
	if end > len(s.events) {
		end = len(s.events)
	}
	result := append([]Event(nil), s.events[start:end]...)
	if len(result) > 0 {
		cursor.LastSequence = result[len(result)-1].Sequence
	}
	return result
}

// Peek returns up to maxCount events after consumerID's cursor without
// advancing it.
func (s *Stream) Peek(consumerID string, maxCount int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, ok := s.cursors[consumerID]
	if !ok {
		return nil
	}
	start := s.indexAfter(cursor.LastSequence)
	end := start + maxCount
	if end > len(s.events) {
		end = len(s.events)
	}
	return append([]Event(nil), s.events[start:end]...)
}

// Seek moves consumerID's cursor directly to sequence, reporting whether
// the consumer exists.
func (s *Stream) Seek(consumerID string, sequence uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[consumerID]
	if !ok {
		return false
	}
	cursor.LastSequence = sequence
	return true
}

// Lag reports how many published events remain unconsumed by consumerID,
// or ok=false if the consumer is unknown.
func (s *Stream) Lag(consumerID string) (lag uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, exists := s.cursors[consumerID]
	if !exists {
		return 0, false
	}
	head := s.nextSeq - 1
	if head < cursor.LastSequence {
		return 0, true
	}
	return head - cursor.LastSequence, true
}

// ConsumerCount returns the number of registered consumers.
func (s *Stream) ConsumerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

// TotalEvents returns the number of events currently buffered.
func (s *Stream) TotalEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// OldestSequence returns the oldest buffered sequence number, or 0 if
// empty.
func (s *Stream) OldestSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0
	}
	return s.events[0].Sequence
}
