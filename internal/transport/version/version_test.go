package version

import "testing"

func TestVersionNew(t *testing.T) {
	v := New(1, 2, 3)
	if v.Major != 1 || v.Minor != 2 || v.Patch != 3 {
		t.Fatalf("unexpected version: %+v", v)
	}
}

func TestVersionCurrent(t *testing.T) {
	v := Current()
	if v.Major != 1 || v.Minor != 0 || v.Patch != 0 {
		t.Fatalf("unexpected current version: %+v", v)
	}
}

func TestVersionString(t *testing.T) {
	v := New(1, 0, 0)
	if v.String() != "1.0.0" {
		t.Fatalf("unexpected string: %s", v.String())
	}
}

func TestVersionParse(t *testing.T) {
	v, err := Parse("1.0.0")
	if err != nil || v.Major != 1 || v.Minor != 0 || v.Patch != 0 {
		t.Fatalf("parse failed: %v %+v", err, v)
	}
}

func TestVersionParseInvalid(t *testing.T) {
	if _, err := Parse("1.0"); err == nil {
		t.Fatalf("expected error for malformed version")
	}
	if _, err := Parse("invalid"); err == nil {
		t.Fatalf("expected error for non-numeric version")
	}
}

func TestVersionEncodeDecode(t *testing.T) {
	original := New(1, 2, 3)
	encoded := original.Encode()
	decoded := Decode(encoded)
	if decoded != original {
		t.Fatalf("expected round trip, got %+v", decoded)
	}
}

func TestVersionCompatibility(t *testing.T) {
	v1 := New(1, 0, 0)
	v2 := New(1, 2, 0)
	v3 := New(1, 5, 0)
	if !v1.IsCompatibleWith(v2) || !v2.IsCompatibleWith(v3) || !v1.IsCompatibleWith(v3) {
		t.Fatalf("expected same-major versions compatible")
	}
}

func TestVersionIncompatible(t *testing.T) {
	v1 := New(1, 0, 0)
	v2 := New(2, 0, 0)
	if v1.IsCompatibleWith(v2) || v2.IsCompatibleWith(v1) {
		t.Fatalf("expected different-major versions incompatible")
	}
}

func TestVersionOrdering(t *testing.T) {
	v1, v2, v3, v4 := New(1, 0, 0), New(1, 1, 0), New(1, 1, 1), New(2, 0, 0)
	if !v1.Less(v2) || !v2.Less(v3) || !v3.Less(v4) {
		t.Fatalf("expected strictly increasing ordering")
	}
	if v1.Less(v1) {
		t.Fatalf("expected version not less than itself")
	}
}

func TestRangeContains(t *testing.T) {
	r := NewRange(New(1, 0, 0), New(1, 5, 0))
	if !r.Contains(New(1, 0, 0)) || !r.Contains(New(1, 2, 3)) || !r.Contains(New(1, 5, 0)) {
		t.Fatalf("expected in-range versions to be contained")
	}
	if r.Contains(New(1, 6, 0)) || r.Contains(New(2, 0, 0)) {
		t.Fatalf("expected out-of-range versions excluded")
	}
}

func TestRangeIntersect(t *testing.T) {
	r1 := NewRange(New(1, 0, 0), New(1, 5, 0))
	r2 := NewRange(New(1, 3, 0), New(1, 8, 0))
	intersection, ok := r1.Intersect(r2)
	if !ok || intersection.Min != New(1, 3, 0) || intersection.Max != New(1, 5, 0) {
		t.Fatalf("unexpected intersection: %+v ok=%v", intersection, ok)
	}
}

func TestRangeNoIntersect(t *testing.T) {
	r1 := NewRange(New(1, 0, 0), New(1, 2, 0))
	r2 := NewRange(New(1, 5, 0), New(1, 8, 0))
	if _, ok := r1.Intersect(r2); ok {
		t.Fatalf("expected no intersection for disjoint minor ranges")
	}

	r3 := NewRange(New(1, 0, 0), New(1, 2, 0))
	r4 := NewRange(New(2, 0, 0), New(2, 5, 0))
	if _, ok := r3.Intersect(r4); ok {
		t.Fatalf("expected no intersection across major versions")
	}
}

func TestNegotiatorSuccess(t *testing.T) {
	n := NewNegotiator(NewRange(New(1, 0, 0), New(1, 5, 0)))
	result, err := n.Negotiate(NewRange(New(1, 2, 0), New(1, 8, 0)))
	if err != nil || result != New(1, 5, 0) {
		t.Fatalf("unexpected negotiation result: %+v err=%v", result, err)
	}
}

func TestNegotiatorIncompatible(t *testing.T) {
	n := NewNegotiator(NewRange(New(1, 0, 0), New(1, 2, 0)))
	if _, err := n.Negotiate(NewRange(New(2, 0, 0), New(2, 5, 0))); err == nil {
		t.Fatalf("expected negotiation across major versions to fail")
	}
}

func TestHandshakeEncodeDecode(t *testing.T) {
	r := NewRange(New(1, 0, 0), New(1, 5, 0))
	h := NewHandshake(r, []string{FeatureCompression, FeatureEncryption})

	encoded, err := h.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeHandshake(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SupportedMin.Major != 1 || decoded.SupportedMax.Major != 1 {
		t.Fatalf("unexpected decoded range: %+v", decoded)
	}
	if decoded.Preferred != New(1, 5, 0) {
		t.Fatalf("unexpected preferred version: %+v", decoded.Preferred)
	}
	if len(decoded.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(decoded.Features))
	}
}

func TestFeatureConstants(t *testing.T) {
	if FeatureCompression != "compression" || FeatureEncryption != "encryption" ||
		FeatureMultiplexing != "multiplexing" || FeatureZeroCopy != "zero_copy" ||
		FeatureBatchRPC != "batch_rpc" {
		t.Fatalf("unexpected feature constants")
	}
}
