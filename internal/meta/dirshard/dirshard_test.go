package dirshard

import (
	"testing"
	"time"
)

func TestRecordOpTriggersShardingAtThreshold(t *testing.T) {
	cfg := Config{ShardThreshold: 5, UnshardThreshold: 1, NumShards: 4, Window: time.Minute}
	m := New(cfg)
	now := time.Now()
	var triggered uint16
	for i := 0; i < 5; i++ {
		triggered = m.RecordOp(1, now)
	}
	if triggered != 4 {
		t.Fatalf("expected shard trigger with NumShards=4 at threshold, got %d", triggered)
	}
}

func TestHomeShardDeterministic(t *testing.T) {
	names := []string{"a", "bb", "ccc", "dddd"}
	for _, n := range names {
		a := HomeShard(n, 256)
		b := HomeShard(n, 256)
		if a != b {
			t.Fatalf("HomeShard not deterministic for %q: %d vs %d", n, a, b)
		}
	}
}

func TestRouteEntryAfterSharding(t *testing.T) {
	m := New(DefaultConfig())
	nodes := []NodeID{10, 11, 12}
	m.ShardDirectory(1, nodes, time.Now())

	idx, node, ok := m.RouteEntry(1, "somefile")
	if !ok {
		t.Fatalf("expected route after sharding")
	}
	if int(idx) >= len(nodes) || node != nodes[idx] {
		t.Fatalf("inconsistent route: idx=%d node=%d", idx, node)
	}
}

func TestUnshardedDirectoryHasNoRoute(t *testing.T) {
	m := New(DefaultConfig())
	if _, _, ok := m.RouteEntry(1, "x"); ok {
		t.Fatalf("expected no route for unsharded directory")
	}
}

func TestUnshardCandidates(t *testing.T) {
	m := New(Config{ShardThreshold: 1000, UnshardThreshold: 10, NumShards: 4, Window: time.Minute})
	m.ShardDirectory(1, []NodeID{1, 2, 3, 4}, time.Now())
	m.RecordOp(1, time.Now()) // count=1, below UnshardThreshold=10

	candidates := m.UnshardCandidates()
	if len(candidates) != 1 || candidates[0] != 1 {
		t.Fatalf("expected dir 1 as unshard candidate, got %v", candidates)
	}
}
