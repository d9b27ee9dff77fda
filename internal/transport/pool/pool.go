// Package pool implements a health-aware, load-balanced connection pool
// across cluster endpoints, tracking per-endpoint idle connections,
// health, and circuit-breaker state.
package pool

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirkpetersen/claudefs/internal/errs"
	"github.com/dirkpetersen/claudefs/internal/transport/health"
)

// Conn is a pooled connection. *grpc.ClientConn satisfies this directly,
// since it already exposes Close() error.
type Conn io.Closer

// Config controls pool sizing and health-check cadence.
type Config struct {
	MaxConnectionsPerEndpoint int
	MinIdlePerEndpoint        int
	IdleTimeout               time.Duration
	HealthCheckInterval       time.Duration
	MaxTotalConnections       int
}

func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerEndpoint: 4,
		MinIdlePerEndpoint:        1,
		IdleTimeout:               5 * time.Minute,
		HealthCheckInterval:       30 * time.Second,
		MaxTotalConnections:       256,
	}
}

// Stats summarizes the pool's current occupancy and endpoint health.
type Stats struct {
	TotalConnections int
	TotalIdle        int
	TotalActive      int
	Endpoints        int
	HealthyEndpoints int
}

type pooledConn struct {
	conn      Conn
	createdAt time.Time
	lastUsed  time.Time
}

type endpointState struct {
	connections []pooledConn
	health      *health.ConnectionHealth
	breaker     *health.CircuitBreaker
	activeCount int
}

// Pool manages connections to multiple endpoints, tracking health and
// load-balancing checkouts away from failing ones.
type Pool struct {
	cfg              Config
	mu               sync.Mutex
	endpoints        map[string]*endpointState
	totalConnections int64
}

func New(cfg Config) *Pool {
	return &Pool{cfg: cfg, endpoints: make(map[string]*endpointState)}
}

// AddEndpoint pre-registers addr so the pool tracks its health even before
// any connection to it exists. A no-op if already registered.
func (p *Pool) AddEndpoint(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[addr]; ok {
		return
	}
	p.endpoints[addr] = &endpointState{
		health:  health.NewConnectionHealth(),
		breaker: health.NewCircuitBreaker(health.DefaultCircuitBreakerConfig()),
	}
}

// RemoveEndpoint drops addr and returns the number of connections that were
// discarded with it (idle plus checked out).
func (p *Pool) RemoveEndpoint(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.endpoints[addr]
	if !ok {
		return 0
	}
	delete(p.endpoints, addr)
	dropped := len(state.connections) + state.activeCount
	atomic.AddInt64(&p.totalConnections, -int64(dropped))
	return dropped
}

// EndpointHealth returns addr's health status, or false if unregistered.
func (p *Pool) EndpointHealth(addr string) (health.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.endpoints[addr]
	if !ok {
		return health.Unknown, false
	}
	return state.health.Status(), true
}

func (p *Pool) RecordSuccess(addr string, latency time.Duration) {
	p.mu.Lock()
	state, ok := p.endpoints[addr]
	p.mu.Unlock()
	if !ok {
		return
	}
	state.health.RecordSuccess(latency)
	state.breaker.RecordSuccess()
}

// ProbeEndpoint runs an HTTP/2 keepalive PING over rw and feeds the result
// into addr's health and breaker state, the same as RecordSuccess/
// RecordFailure would from a real RPC. Callers invoke this every
// HealthCheckInterval against idle connections so a silently-dead endpoint
// is detected before the next real request hits it.
func (p *Pool) ProbeEndpoint(ctx context.Context, addr string, rw io.ReadWriter) error {
	p.mu.Lock()
	state, ok := p.endpoints[addr]
	p.mu.Unlock()
	if !ok {
		return errs.New("pool.ProbeEndpoint", errs.NotFound, "unknown endpoint")
	}
	prober := health.NewKeepAliveProber(rw)
	if err := prober.Probe(ctx, state.health); err != nil {
		state.breaker.RecordFailure()
		return err
	}
	state.breaker.RecordSuccess()
	return nil
}

func (p *Pool) RecordFailure(addr string) {
	p.mu.Lock()
	state, ok := p.endpoints[addr]
	p.mu.Unlock()
	if !ok {
		return
	}
	state.health.RecordFailure()
	state.breaker.RecordFailure()
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{
		TotalConnections: int(atomic.LoadInt64(&p.totalConnections)),
		Endpoints:        len(p.endpoints),
	}
	for _, state := range p.endpoints {
		stats.TotalIdle += len(state.connections)
		stats.TotalActive += state.activeCount
		if state.health.Status() == health.Healthy {
			stats.HealthyEndpoints++
		}
	}
	return stats
}

func (p *Pool) TotalConnections() int {
	return int(atomic.LoadInt64(&p.totalConnections))
}

// SelectEndpoint picks the healthiest of candidates: it filters out
// endpoints whose circuit breaker is open, then prefers the lowest
// cumulative failure count. Returns false if none qualify.
func (p *Pool) SelectEndpoint(candidates []string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best string
	var bestFailures uint64
	found := false

	for _, addr := range candidates {
		state, ok := p.endpoints[addr]
		if !ok || !state.breaker.CanExecute() {
			continue
		}
		failures := state.health.FailureCount()
		if !found || failures < bestFailures {
			best = addr
			bestFailures = failures
			found = true
		}
	}
	return best, found
}

// ReturnConnection returns conn to addr's idle pool, or drops it (and the
// connection itself must be closed by the caller) if the endpoint is gone
// or already at its per-endpoint limit.
func (p *Pool) ReturnConnection(addr string, conn Conn) (kept bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.endpoints[addr]
	if !ok {
		atomic.AddInt64(&p.totalConnections, -1)
		return false
	}
	if len(state.connections) >= p.cfg.MaxConnectionsPerEndpoint {
		atomic.AddInt64(&p.totalConnections, -1)
		return false
	}
	now := time.Now()
	state.connections = append(state.connections, pooledConn{conn: conn, createdAt: now, lastUsed: now})
	if state.activeCount > 0 {
		state.activeCount--
	}
	return true
}

// TakeIdleConnection checks out an idle connection for addr, if any.
func (p *Pool) TakeIdleConnection(addr string) (Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.endpoints[addr]
	if !ok || len(state.connections) == 0 {
		return nil, false
	}
	last := len(state.connections) - 1
	pc := state.connections[last]
	state.connections = state.connections[:last]
	state.activeCount++
	return pc.conn, true
}

// AdoptNewConnection registers a freshly dialed connection as checked out
// for addr, growing the pool's total count. Use when TakeIdleConnection
// found nothing and a new connection had to be dialed.
func (p *Pool) AdoptNewConnection(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.endpoints[addr]
	if !ok {
		return false
	}
	if int(atomic.LoadInt64(&p.totalConnections)) >= p.cfg.MaxTotalConnections {
		return false
	}
	state.activeCount++
	atomic.AddInt64(&p.totalConnections, 1)
	return true
}
