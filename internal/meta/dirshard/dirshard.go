// Package dirshard implements rate-triggered auto-sharding of hot
// directories: a sliding per-directory operation-rate window that
// triggers a split once a threshold is crossed, and FNV-1a name-based
// entry routing once sharded.
package dirshard

import (
	"sync"
	"time"
)

// NodeID identifies a cluster node a shard is assigned to.
type NodeID uint64

// Config enumerates dirshard tunables, mirroring the original's
// DirShardConfig.
type Config struct {
	ShardThreshold   uint64
	UnshardThreshold uint64
	NumShards        uint16
	Window           time.Duration
}

func DefaultConfig() Config {
	return Config{ShardThreshold: 1000, UnshardThreshold: 100, NumShards: 16, Window: 60 * time.Second}
}

// fnv1a hashes name the way the directory sharder's entry routing does,
// deliberately distinct from the top-level inode shard router's plain
// modulo.
func fnv1a(name string) uint64 {
	const (
		offset uint64 = 0xcbf29ce484222325
		prime  uint64 = 0x100000001b3
	)
	h := offset
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= prime
	}
	return h
}

// HomeShard returns name's home shard index under numShards shards.
func HomeShard(name string, numShards uint16) uint16 {
	return uint16(fnv1a(name) % uint64(numShards))
}

// State is a directory's sharding state.
type State struct {
	Sharded   bool
	ShardMap  []NodeID
	NumShards uint16
	ShardedAt time.Time
}

type opCounter struct {
	count       uint64
	windowStart time.Time
}

// Manager tracks per-directory operation rates and sharding state.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	counts map[uint64]*opCounter
	states map[uint64]State
}

func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, counts: make(map[uint64]*opCounter), states: make(map[uint64]State)}
}

// RecordOp records one operation on dir, resetting the window if it has
// elapsed. Returns the configured NumShards whenever the window count is
// at or above the shard threshold and dir is not yet sharded (so every
// further op repeats the signal until ShardDirectory is called), else 0.
func (m *Manager) RecordOp(dir uint64, now time.Time) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counts[dir]
	if !ok {
		c = &opCounter{windowStart: now}
		m.counts[dir] = c
	}
	if now.Sub(c.windowStart) >= m.cfg.Window {
		c.count = 0
		c.windowStart = now
	}
	c.count++

	if c.count >= m.cfg.ShardThreshold && !m.states[dir].Sharded {
		return m.cfg.NumShards
	}
	return 0
}

// RouteEntry returns name's shard index and assigned node within dir, or
// ok=false if dir is not currently sharded.
func (m *Manager) RouteEntry(dir uint64, name string) (shardIdx uint16, node NodeID, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, exists := m.states[dir]
	if !exists || !st.Sharded {
		return 0, 0, false
	}
	idx := HomeShard(name, st.NumShards)
	if int(idx) >= len(st.ShardMap) {
		return 0, 0, false
	}
	return idx, st.ShardMap[idx], true
}

// ShardDirectory splits dir across nodes, recording the shard map and the
// current time as ShardedAt.
func (m *Manager) ShardDirectory(dir uint64, nodes []NodeID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shardMap := make([]NodeID, len(nodes))
	copy(shardMap, nodes)
	m.states[dir] = State{Sharded: true, ShardMap: shardMap, NumShards: uint16(len(nodes)), ShardedAt: now}
}

// UnshardDirectory merges dir back to a single node.
func (m *Manager) UnshardDirectory(dir uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[dir] = State{Sharded: false}
}

// IsSharded reports whether dir is currently sharded.
func (m *Manager) IsSharded(dir uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[dir].Sharded
}

// GetState returns dir's current sharding state.
func (m *Manager) GetState(dir uint64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[dir]
}

// OpCount returns dir's current window op count.
func (m *Manager) OpCount(dir uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counts[dir]; ok {
		return c.count
	}
	return 0
}

// ShardedDirectories returns every directory currently sharded.
func (m *Manager) ShardedDirectories() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for dir, st := range m.states {
		if st.Sharded {
			out = append(out, dir)
		}
	}
	return out
}

// UnshardCandidates returns sharded directories whose window count has
// fallen below UnshardThreshold — candidates for merging back down.
func (m *Manager) UnshardCandidates() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for dir, st := range m.states {
		if !st.Sharded {
			continue
		}
		c, ok := m.counts[dir]
		if !ok || c.count < m.cfg.UnshardThreshold {
			out = append(out, dir)
		}
	}
	return out
}
