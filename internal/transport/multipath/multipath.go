// Package multipath selects among several concurrent transport paths to
// the same remote node, load-balancing across them and demoting paths
// that show errors.
package multipath

import (
	"sort"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// PathID identifies one path to a remote node.
type PathID uint64

// State is a path's current usability.
type State int

const (
	Active State = iota
	Degraded
	Failed
	Reconnecting
)

// IsUsable reports whether traffic may still be routed over a path in
// this state.
func (s State) IsUsable() bool { return s == Active || s == Degraded }

const DefaultPriority uint8 = 100

const (
	degradedThreshold = 3
	failedThreshold   = 10
	maxPaths          = 16
)

// Metrics tracks a path's recent performance, feeding both least-latency
// selection and automatic degrade/fail transitions.
type Metrics struct {
	LatencyUS       uint64
	ErrorCount      uint64
	BytesSent       uint64
	BytesRecv       uint64
	LastErrorAtSecs uint64
}

func NewMetrics() Metrics {
	return Metrics{LatencyUS: 1000}
}

// RecordSuccess folds latencyUS into an exponential moving average with a
// 7:1 weighting toward the prior value.
func (m *Metrics) RecordSuccess(latencyUS uint64) {
	m.LatencyUS = (7*m.LatencyUS + latencyUS) / 8
}

func (m *Metrics) RecordError(nowSecs uint64) {
	m.ErrorCount++
	m.LastErrorAtSecs = nowSecs
}

// Score ranks a path for least-latency selection: lower is better, with
// each recorded error adding a fixed 1ms-equivalent penalty.
func (m Metrics) Score() uint64 {
	return m.LatencyUS + m.ErrorCount*1000
}

// Info is one registered path's full state.
type Info struct {
	ID         PathID
	State      State
	Priority   uint8
	RemoteAddr string
	Metrics    Metrics
}

func NewInfo(id PathID, remoteAddr string, priority uint8) Info {
	return Info{ID: id, State: Active, Priority: priority, RemoteAddr: remoteAddr, Metrics: NewMetrics()}
}

func (i Info) IsUsable() bool { return i.State.IsUsable() }

// Policy selects how Router.SelectPath picks among usable paths.
type Policy int

const (
	RoundRobin Policy = iota
	LeastLatency
	Primary
)

// Router holds a bounded set of paths to one remote node and selects one
// per call according to its load-balancing Policy.
type Router struct {
	policy          Policy
	paths           []Info
	roundRobinIndex int
}

func NewRouter(policy Policy) *Router {
	return &Router{policy: policy}
}

// AddPath registers a new path. Fails if the ID is already registered or
// the router already holds the maximum of 16 paths.
func (r *Router) AddPath(info Info) error {
	if len(r.paths) >= maxPaths {
		return errs.New("multipath.AddPath", errs.InvalidArgument, "max paths (16) exceeded")
	}
	for _, p := range r.paths {
		if p.ID == info.ID {
			return errs.New("multipath.AddPath", errs.AlreadyExists, "path already registered")
		}
	}
	r.paths = append(r.paths, info)
	return nil
}

func (r *Router) RemovePath(id PathID) error {
	idx := r.indexOf(id)
	if idx < 0 {
		return errs.New("multipath.RemovePath", errs.NotFound, "path not found")
	}
	r.paths = append(r.paths[:idx], r.paths[idx+1:]...)
	if r.roundRobinIndex >= len(r.paths) {
		r.roundRobinIndex = 0
	}
	return nil
}

func (r *Router) indexOf(id PathID) int {
	for i, p := range r.paths {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *Router) usablePaths() []int {
	var idxs []int
	for i, p := range r.paths {
		if p.IsUsable() {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// SelectPath chooses one usable path according to policy, or reports false
// if none is usable.
func (r *Router) SelectPath() (PathID, bool) {
	usable := r.usablePaths()
	if len(usable) == 0 {
		return 0, false
	}

	switch r.policy {
	case RoundRobin:
		count := len(usable)
		idx := r.roundRobinIndex % count
		selected := r.paths[usable[idx]].ID
		r.roundRobinIndex = (r.roundRobinIndex + 1) % count
		return selected, true

	case LeastLatency:
		best := usable[0]
		for _, idx := range usable[1:] {
			if r.paths[idx].Metrics.Score() < r.paths[best].Metrics.Score() {
				best = idx
			}
		}
		return r.paths[best].ID, true

	case Primary:
		sorted := append([]int(nil), usable...)
		sort.SliceStable(sorted, func(a, b int) bool {
			pa, pb := r.paths[sorted[a]], r.paths[sorted[b]]
			if pa.Priority != pb.Priority {
				return pa.Priority > pb.Priority
			}
			return pa.Metrics.Score() < pb.Metrics.Score()
		})
		return r.paths[sorted[0]].ID, true

	default:
		return 0, false
	}
}

func (r *Router) RecordSuccess(id PathID, latencyUS uint64) error {
	idx := r.indexOf(id)
	if idx < 0 {
		return errs.New("multipath.RecordSuccess", errs.NotFound, "path not found")
	}
	r.paths[idx].Metrics.RecordSuccess(latencyUS)
	return nil
}

// RecordError folds in a failure and auto-demotes the path's state once
// its error count crosses the degraded or failed thresholds.
func (r *Router) RecordError(id PathID, nowSecs uint64) error {
	idx := r.indexOf(id)
	if idx < 0 {
		return errs.New("multipath.RecordError", errs.NotFound, "path not found")
	}
	p := &r.paths[idx]
	p.Metrics.RecordError(nowSecs)

	switch {
	case p.Metrics.ErrorCount >= failedThreshold:
		p.State = Failed
	case p.Metrics.ErrorCount >= degradedThreshold:
		p.State = Degraded
	}
	return nil
}

func (r *Router) MarkReconnecting(id PathID) error {
	idx := r.indexOf(id)
	if idx < 0 {
		return errs.New("multipath.MarkReconnecting", errs.NotFound, "path not found")
	}
	r.paths[idx].State = Reconnecting
	return nil
}

// MarkActive restores a path to Active and clears its error count, as
// after a successful reconnect.
func (r *Router) MarkActive(id PathID) error {
	idx := r.indexOf(id)
	if idx < 0 {
		return errs.New("multipath.MarkActive", errs.NotFound, "path not found")
	}
	r.paths[idx].State = Active
	r.paths[idx].Metrics.ErrorCount = 0
	return nil
}

func (r *Router) PathCount() int { return len(r.paths) }

func (r *Router) UsablePathCount() int { return len(r.usablePaths()) }

func (r *Router) AllPathsFailed() bool {
	if len(r.paths) == 0 {
		return false
	}
	for _, p := range r.paths {
		if p.State != Failed {
			return false
		}
	}
	return true
}
