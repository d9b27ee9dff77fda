// Package splitbrain implements cross-site partition detection and
// fencing: a small state machine from Normal through PartitionSuspected,
// Confirmed, Resolving, and back to Normal via Healed, issuing
// monotonically increasing fencing tokens to safely cut off the losing
// site.
package splitbrain

import "sync"

// FencingToken is a monotonically increasing token that fences a site out
// of a resolved split-brain. Any token below the detector's current token
// is stale and must be rejected by the fenced site.
type FencingToken uint64

func (t FencingToken) Next() FencingToken { return t + 1 }
func (t FencingToken) Value() uint64      { return uint64(t) }

// StateKind tags a State variant.
type StateKind int

const (
	Normal StateKind = iota
	PartitionSuspected
	Confirmed
	Resolving
	Healed
)

// State is the detector's current split-brain state. Only the fields
// relevant to Kind are meaningful.
type State struct {
	Kind StateKind

	SinceNS       uint64
	SuspectedSite uint64

	SiteA         uint64
	SiteB         uint64
	DivergedAtSeq uint64

	FencedSite uint64
	ActiveSite uint64
	FenceToken FencingToken

	HealedAtNS uint64
}

// Evidence is collected corroboration that two sites have diverged.
type Evidence struct {
	SiteALastSeq    uint64
	SiteBLastSeq    uint64
	SiteADivergeSeq uint64
	DetectedAtNS    uint64
}

// Stats tallies detector lifecycle events.
type Stats struct {
	PartitionsDetected   uint64
	SplitBrainsConfirmed uint64
	ResolutionsCompleted uint64
	FencingTokensIssued  uint64
}

const initialFenceToken FencingToken = 1

// Detector tracks one local site's view of the split-brain state machine
// against its peers.
type Detector struct {
	mu         sync.Mutex
	localSite  uint64
	state      State
	fenceToken FencingToken
	stats      Stats
}

func New(localSite uint64) *Detector {
	return &Detector{localSite: localSite, state: State{Kind: Normal}, fenceToken: initialFenceToken}
}

// ReportPartition transitions to PartitionSuspected regardless of the
// current state — a fresh partition report always supersedes whatever was
// previously suspected.
func (d *Detector) ReportPartition(remoteSite, atNS uint64) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.PartitionsDetected++
	d.state = State{Kind: PartitionSuspected, SinceNS: atNS, SuspectedSite: remoteSite}
	return d.state
}

// ConfirmSplitBrain transitions PartitionSuspected -> Confirmed. Called
// from any other state, it is a no-op returning the unchanged state.
func (d *Detector) ConfirmSplitBrain(evidence Evidence, siteA, siteB uint64) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Kind != PartitionSuspected {
		return d.state
	}
	d.stats.SplitBrainsConfirmed++
	d.state = State{Kind: Confirmed, SiteA: siteA, SiteB: siteB, DivergedAtSeq: evidence.SiteADivergeSeq}
	return d.state
}

// IssueFence transitions Confirmed -> Resolving, minting a new fencing
// token. Called from any other state, it is a no-op returning the current
// token unchanged.
func (d *Detector) IssueFence(siteToFence, activeSite uint64) FencingToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Kind != Confirmed {
		return d.fenceToken
	}
	d.fenceToken = d.fenceToken.Next()
	d.stats.FencingTokensIssued++
	d.state = State{Kind: Resolving, FencedSite: siteToFence, ActiveSite: activeSite, FenceToken: d.fenceToken}
	return d.fenceToken
}

// ValidateToken reports whether token is still current, i.e. not stale
// relative to the detector's latest issued fence.
func (d *Detector) ValidateToken(token FencingToken) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return token >= d.fenceToken
}

// MarkHealed advances Resolving -> Healed, or Healed -> Normal. Any other
// state is a no-op returning the unchanged state.
func (d *Detector) MarkHealed(atNS uint64) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state.Kind {
	case Resolving:
		d.stats.ResolutionsCompleted++
		d.state = State{Kind: Healed, HealedAtNS: atNS}
	case Healed:
		d.state = State{Kind: Normal}
	}
	return d.state
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) CurrentToken() FencingToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fenceToken
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
