// Package version implements protocol version negotiation for the
// transport layer, letting nodes on different builds agree on a
// mutually supported wire version during connection setup so the
// cluster can be upgraded one node at a time.
package version

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-msgpack/codec"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// Feature flag names advertised during a handshake.
const (
	FeatureCompression  = "compression"
	FeatureEncryption   = "encryption"
	FeatureMultiplexing = "multiplexing"
	FeatureZeroCopy     = "zero_copy"
	FeatureBatchRPC     = "batch_rpc"
)

// Version is a semantic protocol version: Major changes are incompatible,
// Minor additions are backward compatible, Patch is bugfix-only.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

func New(major, minor, patch uint16) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Current is the protocol version this build speaks.
func Current() Version {
	return New(1, 0, 0)
}

// IsCompatibleWith reports whether v and other share a major version.
func (v Version) IsCompatibleWith(other Version) bool {
	return v.Major == other.Major
}

func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Encode packs v into 6 big-endian bytes.
func (v Version) Encode() [6]byte {
	var out [6]byte
	out[0] = byte(v.Major >> 8)
	out[1] = byte(v.Major)
	out[2] = byte(v.Minor >> 8)
	out[3] = byte(v.Minor)
	out[4] = byte(v.Patch >> 8)
	out[5] = byte(v.Patch)
	return out
}

func Decode(b [6]byte) Version {
	return Version{
		Major: uint16(b[0])<<8 | uint16(b[1]),
		Minor: uint16(b[2])<<8 | uint16(b[3]),
		Patch: uint16(b[4])<<8 | uint16(b[5]),
	}
}

// Parse reads a "major.minor.patch" string.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, errs.New("version.Parse", errs.InvalidArgument, "expected major.minor.patch: "+s)
	}
	nums := make([]uint64, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Version{}, errs.New("version.Parse", errs.InvalidArgument, "invalid version string: "+s)
		}
		nums[i] = n
	}
	return New(uint16(nums[0]), uint16(nums[1]), uint16(nums[2])), nil
}

// Range is an inclusive range of compatible versions, [Min, Max], both
// required to share a major version.
type Range struct {
	Min Version
	Max Version
}

func NewRange(min, max Version) Range {
	return Range{Min: min, Max: max}
}

func (r Range) Contains(v Version) bool {
	return v.Major == r.Min.Major && v.Major == r.Max.Major &&
		v.Minor >= r.Min.Minor && v.Minor <= r.Max.Minor
}

// Intersect returns the overlap between r and other, or false if their
// major versions differ or their minor ranges don't overlap.
func (r Range) Intersect(other Range) (Range, bool) {
	if r.Min.Major != other.Min.Major || r.Max.Major != other.Max.Major {
		return Range{}, false
	}
	min := r.Min
	if other.Min.Minor > min.Minor {
		min = other.Min
	}
	max := r.Max
	if other.Max.Minor < max.Minor {
		max = other.Max
	}
	if min.Minor > max.Minor {
		return Range{}, false
	}
	return Range{Min: min, Max: max}, true
}

func (r Range) Highest() Version { return r.Max }

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", r.Min, r.Max)
}

// Negotiator picks a mutually supported version against a remote's
// advertised range.
type Negotiator struct {
	supported Range
}

func NewNegotiator(supported Range) *Negotiator {
	return &Negotiator{supported: supported}
}

// Negotiate returns the highest version both sides support.
func (n *Negotiator) Negotiate(remote Range) (Version, error) {
	intersection, ok := n.supported.Intersect(remote)
	if !ok {
		return Version{}, errs.New("version.Negotiate", errs.InvalidVersion,
			fmt.Sprintf("incompatible versions: local %s, remote %s", n.supported, remote))
	}
	return intersection.Highest(), nil
}

func (n *Negotiator) IsSupported(v Version) bool {
	return n.supported.Contains(v)
}

// Handshake is the initial message exchanged to begin negotiation.
type Handshake struct {
	SupportedMin Version
	SupportedMax Version
	Preferred    Version
	Features     []string
}

func NewHandshake(supported Range, features []string) Handshake {
	return Handshake{SupportedMin: supported.Min, SupportedMax: supported.Max, Preferred: supported.Max, Features: features}
}

var msgpackHandle codec.MsgpackHandle

// Encode serializes the handshake for the wire.
func (h Handshake) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &msgpackHandle)
	if err := enc.Encode(h); err != nil {
		return nil, errs.New("version.Handshake.Encode", errs.InvalidArgument, err.Error())
	}
	return buf.Bytes(), nil
}

// DecodeHandshake parses a handshake previously produced by Encode.
func DecodeHandshake(data []byte) (Handshake, error) {
	var h Handshake
	dec := codec.NewDecoder(bytes.NewReader(data), &msgpackHandle)
	if err := dec.Decode(&h); err != nil {
		return Handshake{}, errs.New("version.DecodeHandshake", errs.InvalidVersion, "invalid handshake encoding: "+err.Error())
	}
	return h, nil
}
