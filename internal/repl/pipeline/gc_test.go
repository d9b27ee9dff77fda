package pipeline

import "testing"

func candidate(seq, tsUS uint64) GcCandidate {
	return GcCandidate{ShardID: 0, Seq: seq, TimestampUS: tsUS, SizeBytes: 1024}
}

func TestRetainAllCollectsNothing(t *testing.T) {
	s := NewGcScheduler(GcPolicy{Kind: RetainAll}, []uint64{1, 2})
	result := s.RunGC([]GcCandidate{candidate(1, 0), candidate(2, 1000)}, 2000)
	if len(result) != 0 {
		t.Fatalf("expected nothing collected under RetainAll")
	}
}

func TestRetainByAgeCollectsOldEntries(t *testing.T) {
	s := NewGcScheduler(GcPolicy{Kind: RetainByAge, MaxAgeUS: 500}, nil)
	result := s.RunGC([]GcCandidate{candidate(1, 900), candidate(2, 100)}, 1000)
	if len(result) != 1 || result[0].Seq != 2 {
		t.Fatalf("expected only the old entry (seq 2) collected, got %+v", result)
	}
}

func TestRetainByCountKeepsNewest(t *testing.T) {
	s := NewGcScheduler(GcPolicy{Kind: RetainByCount, MaxEntries: 2}, nil)
	result := s.RunGC([]GcCandidate{candidate(1, 0), candidate(2, 0), candidate(3, 0), candidate(4, 0)}, 0)
	if len(result) != 2 {
		t.Fatalf("expected 2 collected, got %d", len(result))
	}
}

func TestGcStatsAccumulate(t *testing.T) {
	s := NewGcScheduler(GcPolicy{Kind: RetainByAge, MaxAgeUS: 1}, nil)
	s.RunGC([]GcCandidate{candidate(1, 0)}, 10000)
	stats := s.Stats()
	if stats.Runs != 1 || stats.EntriesCollected != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGcStateMinAckedSeq(t *testing.T) {
	state := NewGcState(GcPolicy{Kind: RetainByAck})
	state.RecordAck(1, 100, 0)
	state.RecordAck(2, 50, 0)
	min, ok := state.MinAckedSeq([]uint64{1, 2})
	if !ok || min != 50 {
		t.Fatalf("expected min 50, got %d ok=%v", min, ok)
	}
}

func TestGcStateMinAckedSeqMissingSite(t *testing.T) {
	state := NewGcState(GcPolicy{Kind: RetainByAck})
	state.RecordAck(1, 100, 0)
	if _, ok := state.MinAckedSeq([]uint64{1, 2}); ok {
		t.Fatalf("expected missing site to report ok=false")
	}
}

func TestGcStateAllSitesAcked(t *testing.T) {
	state := NewGcState(GcPolicy{Kind: RetainByAck})
	state.RecordAck(1, 100, 0)
	state.RecordAck(2, 30, 0)
	if state.AllSitesAcked(50, []uint64{1, 2}) {
		t.Fatalf("expected site 2's lower ack to block eligibility")
	}
	if !state.AllSitesAcked(50, []uint64{1}) {
		t.Fatalf("expected site 1 alone to satisfy the threshold")
	}
}
