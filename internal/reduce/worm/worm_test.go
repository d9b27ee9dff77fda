package worm

import "testing"

func hashOf(n byte) [32]byte {
	var h [32]byte
	h[0] = n
	return h
}

func TestRetentionImmutableExpiry(t *testing.T) {
	o := New()
	h := hashOf(1)
	if err := o.Register(h, ImmutableUntil(1000), 100); err != nil {
		t.Fatalf("register: %v", err)
	}
	if o.ActiveCount(500) != 1 {
		t.Fatalf("expected active at 500")
	}
	if o.ActiveCount(1001) != 0 {
		t.Fatalf("expected expired at 1001")
	}
}

func TestLegalHoldNeverExpires(t *testing.T) {
	o := New()
	h := hashOf(2)
	if err := o.Register(h, LegalHoldP(), 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if o.ActiveCount(^uint64(0)) != 1 {
		t.Fatalf("legal hold should remain active at max timestamp")
	}
}

func TestMonotonicUpgradeOnly(t *testing.T) {
	o := New()
	h := hashOf(3)
	if err := o.Register(h, ImmutableUntil(100), 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := o.Register(h, LegalHoldP(), 0); err != nil {
		t.Fatalf("upgrade to legal hold should succeed: %v", err)
	}
	if err := o.Register(h, ImmutableUntil(999999), 0); err == nil {
		t.Fatalf("expected downgrade from LegalHold to be rejected")
	}
	p, _, _ := o.Get(h)
	if p.Mode != LegalHold {
		t.Fatalf("expected policy to remain LegalHold, got %v", p.Mode)
	}
}

func TestGCExpiredRemovesOnlyExpired(t *testing.T) {
	o := New()
	o.Register(hashOf(1), NoneP(), 0)
	o.Register(hashOf(2), ImmutableUntil(500), 0)
	o.Register(hashOf(3), LegalHoldP(), 0)

	removed := o.GCExpired(600)
	if removed != 2 { // None is always expired, Immutable(500) expired at 600
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if o.TotalCount() != 1 {
		t.Fatalf("expected 1 remaining (LegalHold), got %d", o.TotalCount())
	}
}
