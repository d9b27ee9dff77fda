package pipeline

import "testing"

func TestSiteThrottleTrySendSucceeds(t *testing.T) {
	th := NewSiteThrottle(DefaultThrottleConfig())
	if !th.TrySend(1000, 10, 0) {
		t.Fatalf("expected send within default limits to succeed")
	}
}

func TestSiteThrottleFailsOnBytes(t *testing.T) {
	cfg := ThrottleConfig{MaxBytesPerSec: 3, MaxEntriesPerSec: 10000, BurstFactor: 1.0}
	th := NewSiteThrottle(cfg)
	if !th.TrySend(2, 1, 0) {
		t.Fatalf("expected first small send to succeed")
	}
	if th.TrySend(2, 1, 0) {
		t.Fatalf("expected second send to exceed byte budget at same instant")
	}
}

func TestSiteThrottleFailsOnEntries(t *testing.T) {
	cfg := ThrottleConfig{MaxBytesPerSec: 100 * 1024 * 1024, MaxEntriesPerSec: 3, BurstFactor: 1.0}
	th := NewSiteThrottle(cfg)
	if !th.TrySend(1, 2, 0) {
		t.Fatalf("expected first send to succeed")
	}
	if th.TrySend(1, 2, 0) {
		t.Fatalf("expected second send to exceed entry budget")
	}
}

func TestSiteThrottleZeroMeansUnlimited(t *testing.T) {
	cfg := ThrottleConfig{MaxBytesPerSec: 0, MaxEntriesPerSec: 0, BurstFactor: 1.0}
	th := NewSiteThrottle(cfg)
	if !th.TrySend(^uint64(0), ^uint64(0), 0) {
		t.Fatalf("expected unlimited throttle to allow any send")
	}
}

func TestSiteThrottleRefillsOverTime(t *testing.T) {
	cfg := ThrottleConfig{MaxBytesPerSec: 1_000_000, MaxEntriesPerSec: 1_000_000, BurstFactor: 1.0}
	th := NewSiteThrottle(cfg)
	if !th.TrySend(1_000_000, 1, 0) {
		t.Fatalf("expected full-budget send to succeed")
	}
	if th.TrySend(1, 1, 0) {
		t.Fatalf("expected budget to be exhausted")
	}
	if !th.TrySend(1, 1, 1_000_000) {
		t.Fatalf("expected budget to refill after one second")
	}
}

func TestThrottleManagerUnregisteredSiteAllowsSend(t *testing.T) {
	m := NewThrottleManager(DefaultThrottleConfig())
	if !m.TrySend(999, 1000, 10, 0) {
		t.Fatalf("expected unregistered site to be unthrottled")
	}
}

func TestThrottleManagerRegisterAndUpdate(t *testing.T) {
	m := NewThrottleManager(DefaultThrottleConfig())
	m.RegisterSiteDefault(1)
	cfg := DefaultThrottleConfig()
	cfg.MaxBytesPerSec = 50 * 1024 * 1024
	m.UpdateSiteConfig(1, cfg)
	if m.AvailableBytes(1, 0) > 50*1024*1024 {
		t.Fatalf("expected updated limit to apply")
	}
}

func TestThrottleManagerRemoveSite(t *testing.T) {
	m := NewThrottleManager(DefaultThrottleConfig())
	m.RegisterSiteDefault(1)
	m.RemoveSite(1)
	if !m.TrySend(1, 1000, 10, 0) {
		t.Fatalf("expected removed site to be unthrottled again")
	}
}
