package pipeline

import "sync"

// ThrottleConfig bounds the rate at which journal entries are sent to one
// remote site, so replication never saturates the WAN link.
type ThrottleConfig struct {
	MaxBytesPerSec   uint64
	MaxEntriesPerSec uint64
	BurstFactor      float64
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxBytesPerSec:   100 * 1024 * 1024,
		MaxEntriesPerSec: 10000,
		BurstFactor:      1.5,
	}
}

// tokenBucket is a classic token bucket keyed in microsecond ticks, to
// match the microsecond timestamps the replication journal already uses.
type tokenBucket struct {
	capacity      uint64
	tokens        float64
	refillPerUSec float64
	lastRefillUS  uint64
}

func newTokenBucket(capacity uint64, ratePerSec float64) *tokenBucket {
	return &tokenBucket{
		capacity:      capacity,
		tokens:        float64(capacity),
		refillPerUSec: ratePerSec / 1_000_000.0,
	}
}

func (b *tokenBucket) refill(nowUS uint64) {
	if nowUS <= b.lastRefillUS {
		return
	}
	elapsed := nowUS - b.lastRefillUS
	added := float64(elapsed) * b.refillPerUSec
	b.tokens += added
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.lastRefillUS = nowUS
}

func (b *tokenBucket) tryConsume(amount, nowUS uint64) bool {
	b.refill(nowUS)
	if b.tokens >= float64(amount) {
		b.tokens -= float64(amount)
		return true
	}
	return false
}

func (b *tokenBucket) available(nowUS uint64) uint64 {
	snapshot := *b
	snapshot.refill(nowUS)
	return uint64(snapshot.tokens)
}

// SiteThrottle combines independent byte-rate and entry-rate token buckets
// for one remote site.
type SiteThrottle struct {
	mu     sync.Mutex
	cfg    ThrottleConfig
	bytes  *tokenBucket
	entries *tokenBucket
}

func burstCapacity(rate uint64, burst float64) uint64 {
	if rate == 0 {
		return ^uint64(0)
	}
	cap := uint64(float64(rate) * burst)
	if cap < rate {
		cap = rate
	}
	return cap
}

func NewSiteThrottle(cfg ThrottleConfig) *SiteThrottle {
	return &SiteThrottle{
		cfg:     cfg,
		bytes:   newTokenBucket(burstCapacity(cfg.MaxBytesPerSec, cfg.BurstFactor), float64(cfg.MaxBytesPerSec)),
		entries: newTokenBucket(burstCapacity(cfg.MaxEntriesPerSec, cfg.BurstFactor), float64(cfg.MaxEntriesPerSec)),
	}
}

// TrySend attempts to reserve capacity for byteCount bytes and entryCount
// entries, returning whether both dimensions admitted the send. A zero
// configured rate means that dimension is unlimited.
func (t *SiteThrottle) TrySend(byteCount, entryCount, nowUS uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	byteOK := t.cfg.MaxBytesPerSec == 0 || t.bytes.tryConsume(byteCount, nowUS)
	entryOK := t.cfg.MaxEntriesPerSec == 0 || t.entries.tryConsume(entryCount, nowUS)
	return byteOK && entryOK
}

func (t *SiteThrottle) MaxBytesPerSec() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.MaxBytesPerSec
}

func (t *SiteThrottle) UpdateConfig(cfg ThrottleConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	t.bytes = newTokenBucket(burstCapacity(cfg.MaxBytesPerSec, cfg.BurstFactor), float64(cfg.MaxBytesPerSec))
	t.entries = newTokenBucket(burstCapacity(cfg.MaxEntriesPerSec, cfg.BurstFactor), float64(cfg.MaxEntriesPerSec))
}

// AvailableBytes reports how many bytes of budget remain, capped at the
// configured rate.
func (t *SiteThrottle) AvailableBytes(nowUS uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.MaxBytesPerSec == 0 {
		return ^uint64(0)
	}
	avail := t.bytes.available(nowUS)
	if avail > t.cfg.MaxBytesPerSec {
		return t.cfg.MaxBytesPerSec
	}
	return avail
}

// ThrottleManager owns a SiteThrottle per remote site.
type ThrottleManager struct {
	mu         sync.Mutex
	perSite    map[uint64]*SiteThrottle
	defaultCfg ThrottleConfig
}

func NewThrottleManager(defaultCfg ThrottleConfig) *ThrottleManager {
	return &ThrottleManager{perSite: make(map[uint64]*SiteThrottle), defaultCfg: defaultCfg}
}

func (m *ThrottleManager) RegisterSite(siteID uint64, cfg ThrottleConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perSite[siteID] = NewSiteThrottle(cfg)
}

func (m *ThrottleManager) RegisterSiteDefault(siteID uint64) {
	m.RegisterSite(siteID, m.defaultCfg)
}

func (m *ThrottleManager) RemoveSite(siteID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perSite, siteID)
}

// TrySend is a no-op allow when siteID has no registered throttle.
func (m *ThrottleManager) TrySend(siteID, byteCount, entryCount, nowUS uint64) bool {
	m.mu.Lock()
	t, ok := m.perSite[siteID]
	m.mu.Unlock()
	if !ok {
		return true
	}
	return t.TrySend(byteCount, entryCount, nowUS)
}

func (m *ThrottleManager) UpdateSiteConfig(siteID uint64, cfg ThrottleConfig) {
	m.mu.Lock()
	t, ok := m.perSite[siteID]
	m.mu.Unlock()
	if ok {
		t.UpdateConfig(cfg)
	}
}

func (m *ThrottleManager) AvailableBytes(siteID, nowUS uint64) uint64 {
	m.mu.Lock()
	t, ok := m.perSite[siteID]
	m.mu.Unlock()
	if !ok {
		return ^uint64(0)
	}
	return t.AvailableBytes(nowUS)
}
