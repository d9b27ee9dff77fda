package cdc

import (
	"testing"
	"time"

	"github.com/dirkpetersen/claudefs/internal/meta/oplog"
)

func testOp(ino uint64) oplog.MetaOp {
	return oplog.MetaOp{Kind: oplog.OpCreateInode, Inode: ino}
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	s := New(100)
	now := time.Now()
	seq1 := s.Publish(testOp(1), 1, now)
	seq2 := s.Publish(testOp(2), 1, now)
	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("expected sequences 1,2, got %d,%d", seq1, seq2)
	}
	if s.TotalEvents() != 2 {
		t.Fatalf("expected 2 events, got %d", s.TotalEvents())
	}
}

func TestConsumeAdvancesCursorPeekDoesNot(t *testing.T) {
	s := New(100)
	now := time.Now()
	s.RegisterConsumer("c1")
	s.Publish(testOp(1), 1, now)
	s.Publish(testOp(2), 1, now)

	peeked := s.Peek("c1", 10)
	if len(peeked) != 2 {
		t.Fatalf("expected 2 peeked events, got %d", len(peeked))
	}
	peekedAgain := s.Peek("c1", 10)
	if len(peekedAgain) != 2 {
		t.Fatalf("peek should not advance cursor, got %d", len(peekedAgain))
	}

	consumed := s.Consume("c1", 10)
	if len(consumed) != 2 {
		t.Fatalf("expected 2 consumed events, got %d", len(consumed))
	}
	if len(s.Consume("c1", 10)) != 0 {
		t.Fatalf("expected cursor to have advanced past all events")
	}
}

func TestConsumeRespectsMaxCount(t *testing.T) {
	s := New(100)
	now := time.Now()
	s.RegisterConsumer("c1")
	for i := uint64(1); i <= 10; i++ {
		s.Publish(testOp(i), 1, now)
	}
	events := s.Consume("c1", 3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestSeekRepositionsCursor(t *testing.T) {
	s := New(100)
	now := time.Now()
	s.RegisterConsumer("c1")
	s.Publish(testOp(1), 1, now)
	s.Publish(testOp(2), 1, now)
	s.Publish(testOp(3), 1, now)

	if !s.Seek("c1", 2) {
		t.Fatalf("expected seek to succeed")
	}
	events := s.Consume("c1", 10)
	if len(events) != 1 || events[0].Sequence != 3 {
		t.Fatalf("expected only sequence 3 remaining, got %+v", events)
	}
}

func TestLagTracksDistanceFromHead(t *testing.T) {
	s := New(100)
	now := time.Now()
	s.RegisterConsumer("c1")
	for i := uint64(1); i <= 5; i++ {
		s.Publish(testOp(i), 1, now)
	}
	lag, ok := s.Lag("c1")
	if !ok || lag != 5 {
		t.Fatalf("expected lag 5, got %d ok=%v", lag, ok)
	}
	s.Consume("c1", 3)
	lag, ok = s.Lag("c1")
	if !ok || lag != 2 {
		t.Fatalf("expected lag 2 after consuming 3, got %d", lag)
	}
}

func TestLagUnknownConsumer(t *testing.T) {
	s := New(100)
	if _, ok := s.Lag("nope"); ok {
		t.Fatalf("expected unknown consumer to report ok=false")
	}
}

func TestMaxEventsEviction(t *testing.T) {
	s := New(5)
	now := time.Now()
	for i := uint64(1); i <= 10; i++ {
		s.Publish(testOp(i), 1, now)
	}
	if s.TotalEvents() != 5 {
		t.Fatalf("expected 5 retained events, got %d", s.TotalEvents())
	}
	if s.OldestSequence() != 6 {
		t.Fatalf("expected oldest sequence 6, got %d", s.OldestSequence())
	}
}

func TestMultipleConsumersIndependent(t *testing.T) {
	s := New(100)
	now := time.Now()
	s.RegisterConsumer("c1")
	s.RegisterConsumer("c2")
	s.Publish(testOp(1), 1, now)

	if len(s.Consume("c1", 10)) != 1 {
		t.Fatalf("expected c1 to see 1 event")
	}
	if len(s.Consume("c2", 10)) != 1 {
		t.Fatalf("expected c2 to independently see 1 event")
	}
}

func TestUnregisterConsumer(t *testing.T) {
	s := New(100)
	s.RegisterConsumer("c1")
	if !s.UnregisterConsumer("c1") {
		t.Fatalf("expected unregister to succeed")
	}
	if s.ConsumerCount() != 0 {
		t.Fatalf("expected 0 consumers")
	}
	if s.UnregisterConsumer("c1") {
		t.Fatalf("expected second unregister to fail")
	}
}
