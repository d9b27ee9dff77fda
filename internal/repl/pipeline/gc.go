package pipeline

import (
	"sort"
	"sync"
)

// GcPolicyKind selects how replicated journal entries are retired.
type GcPolicyKind int

const (
	RetainAll GcPolicyKind = iota
	RetainByAge
	RetainByCount
	RetainByAck
)

// GcPolicy configures journal retention for one replication stream.
type GcPolicy struct {
	Kind       GcPolicyKind
	MaxAgeUS   uint64
	MaxEntries int
}

// AckRecord records the highest sequence a site has acknowledged.
type AckRecord struct {
	SiteID         uint64
	AckedThroughSeq uint64
	AckedAtUS      uint64
}

// GcCandidate is one journal entry eligible for collection.
type GcCandidate struct {
	ShardID     uint32
	Seq         uint64
	TimestampUS uint64
	SizeBytes   int
}

// GcState tracks per-site acknowledgments used to decide RetainByAck
// eligibility.
type GcState struct {
	mu     sync.Mutex
	policy GcPolicy
	acks   map[uint64]AckRecord
}

func NewGcState(policy GcPolicy) *GcState {
	return &GcState{policy: policy, acks: make(map[uint64]AckRecord)}
}

func (s *GcState) RecordAck(siteID, ackedThroughSeq, timestampUS uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[siteID] = AckRecord{SiteID: siteID, AckedThroughSeq: ackedThroughSeq, AckedAtUS: timestampUS}
}

func (s *GcState) GetAck(siteID uint64) (AckRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.acks[siteID]
	return a, ok
}

// MinAckedSeq returns the minimum acknowledged sequence across siteIDs, or
// ok=false if any site has no recorded ack.
func (s *GcState) MinAckedSeq(siteIDs []uint64) (min uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := true
	for _, id := range siteIDs {
		a, exists := s.acks[id]
		if !exists {
			return 0, false
		}
		if first || a.AckedThroughSeq < min {
			min = a.AckedThroughSeq
			first = false
		}
	}
	return min, true
}

// AllSitesAcked reports whether every site in siteIDs has acknowledged at
// least seq.
func (s *GcState) AllSitesAcked(seq uint64, siteIDs []uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range siteIDs {
		a, ok := s.acks[id]
		if !ok || a.AckedThroughSeq < seq {
			return false
		}
	}
	return true
}

func (s *GcState) Policy() GcPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

func (s *GcState) SiteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acks)
}

// GcStats tallies the outcome of journal GC runs.
type GcStats struct {
	EntriesCollected uint64
	BytesCollected   uint64
	Runs             uint64
	LastRunUS        uint64
}

// GcScheduler periodically retires replicated journal entries per a
// GcPolicy.
type GcScheduler struct {
	mu         sync.Mutex
	policy     GcPolicy
	knownSites []uint64
	stats      GcStats
}

func NewGcScheduler(policy GcPolicy, knownSites []uint64) *GcScheduler {
	return &GcScheduler{policy: policy, knownSites: append([]uint64(nil), knownSites...)}
}

func (s *GcScheduler) RecordAck(ack AckRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.knownSites {
		if id == ack.SiteID {
			return
		}
	}
	s.knownSites = append(s.knownSites, ack.SiteID)
}

// RunGC evaluates candidates against the configured policy and returns the
// subset eligible for collection, updating running stats.
func (s *GcScheduler) RunGC(candidates []GcCandidate, nowUS uint64) []GcCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []GcCandidate
	switch s.policy.Kind {
	case RetainAll:
		// nothing collected
	case RetainByAge:
		for _, c := range candidates {
			age := nowUS - c.TimestampUS
			if nowUS < c.TimestampUS {
				age = 0
			}
			if age > s.policy.MaxAgeUS {
				result = append(result, c)
			}
		}
	case RetainByCount:
		sorted := append([]GcCandidate(nil), candidates...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq > sorted[j].Seq })
		if s.policy.MaxEntries < len(sorted) {
			result = append(result, sorted[s.policy.MaxEntries:]...)
		}
	case RetainByAck:
		// Collection under RetainByAck is driven by an external GcState;
		// a scheduler with no attached state conservatively retains
		// everything, matching the original's placeholder behavior.
	}

	s.stats.Runs++
	s.stats.LastRunUS = nowUS
	s.stats.EntriesCollected += uint64(len(result))
	for _, c := range result {
		s.stats.BytesCollected += uint64(c.SizeBytes)
	}
	return result
}

func (s *GcScheduler) Stats() GcStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *GcScheduler) TotalGcEntries() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.EntriesCollected
}
