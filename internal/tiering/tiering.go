// Package tiering implements the claudefs.tier xattr policy: per-inode
// hints controlling flash/object-store placement, with an
// eviction-scoring cache bounded to a maximum entry count.
package tiering

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

const (
	XattrTieringPolicy   = "claudefs.tier"
	XattrTieringPriority = "claudefs.tier.priority"
)

// PolicyKind tags a Policy variant.
type PolicyKind int

const (
	Auto PolicyKind = iota
	Flash
	S3
	Custom
)

// Policy controls where an inode's data is placed. Only EvictAfterSecs
// and MinCopies are meaningful when Kind == Custom.
type Policy struct {
	Kind           PolicyKind
	EvictAfterSecs uint64
	MinCopies      uint8
}

// ParsePolicy decodes a claudefs.tier xattr value.
func ParsePolicy(value []byte) (Policy, error) {
	s := string(value)
	switch s {
	case "auto":
		return Policy{Kind: Auto}, nil
	case "flash":
		return Policy{Kind: Flash}, nil
	case "s3":
		return Policy{Kind: S3}, nil
	}

	rest, ok := strings.CutPrefix(s, "custom:")
	if !ok {
		return Policy{}, errs.New("tiering.ParsePolicy", errs.InvalidArgument, "invalid tiering policy value")
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return Policy{}, errs.New("tiering.ParsePolicy", errs.InvalidArgument, "invalid tiering policy value")
	}
	evictAfter, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Policy{}, errs.New("tiering.ParsePolicy", errs.InvalidArgument, "invalid tiering policy value")
	}
	minCopies, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return Policy{}, errs.New("tiering.ParsePolicy", errs.InvalidArgument, "invalid tiering policy value")
	}
	return Policy{Kind: Custom, EvictAfterSecs: evictAfter, MinCopies: uint8(minCopies)}, nil
}

// Encode produces the claudefs.tier xattr value for p.
func (p Policy) Encode() []byte {
	switch p.Kind {
	case Flash:
		return []byte("flash")
	case S3:
		return []byte("s3")
	case Custom:
		return []byte(fmt.Sprintf("custom:%d:%d", p.EvictAfterSecs, p.MinCopies))
	default:
		return []byte("auto")
	}
}

// IsPinned reports whether p forces data to stay on flash.
func (p Policy) IsPinned() bool { return p.Kind == Flash }

// IsForcedCold reports whether p forces data straight to cold storage.
func (p Policy) IsForcedCold() bool { return p.Kind == S3 }

// Priority is a tiering priority hint in [0, 255]; higher survives
// eviction pressure longer.
type Priority uint8

const (
	PriorityMin     Priority = 0
	PriorityMax     Priority = 255
	PriorityDefault Priority = 128
)

func ParsePriority(value []byte) (Priority, error) {
	n, err := strconv.ParseUint(string(value), 10, 8)
	if err != nil {
		return 0, errs.New("tiering.ParsePriority", errs.InvalidArgument, "invalid tiering priority value")
	}
	return Priority(n), nil
}

func (p Priority) Encode() []byte {
	return []byte(strconv.FormatUint(uint64(p), 10))
}

// Hint is one inode's tiering state.
type Hint struct {
	Ino         uint64
	Policy      Policy
	Priority    Priority
	IsDirectory bool
	SetAtSecs   uint64
}

func NewHint(ino uint64, policy Policy, isDirectory bool, nowSecs uint64) Hint {
	return Hint{Ino: ino, Policy: policy, Priority: PriorityDefault, IsDirectory: isDirectory, SetAtSecs: nowSecs}
}

func (h Hint) WithPriority(priority Priority) Hint {
	h.Priority = priority
	return h
}

// EvictScore ranks an inode for eviction: 0 means never evict (pinned),
// MaxUint64 means always evict first (forced cold), otherwise age*size.
func (h Hint) EvictScore(lastAccessAgeSecs, sizeBytes uint64) uint64 {
	if h.Policy.IsPinned() {
		return 0
	}
	if h.Policy.IsForcedCold() {
		return ^uint64(0)
	}
	return saturatingMul(lastAccessAgeSecs, sizeBytes)
}

// saturatingMul multiplies a*b, clamping to MaxUint64 on overflow instead
// of wrapping, matching the Rust original's saturating_mul.
func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	product := a * b
	if product/a != b {
		return ^uint64(0)
	}
	return product
}

const trimBatchSize = 10

// Cache holds a bounded set of tiering hints plus a directory-inheritance
// map, so a file with no explicit policy can inherit its parent
// directory's.
type Cache struct {
	hints       map[uint64]Hint
	parentHints map[uint64]uint64
	maxEntries  int
}

func NewCache(maxEntries int) *Cache {
	return &Cache{hints: make(map[uint64]Hint), parentHints: make(map[uint64]uint64), maxEntries: maxEntries}
}

// Insert adds or replaces a hint, first calling Trim if the cache is
// already at capacity; which entries that removes is unspecified.
func (c *Cache) Insert(hint Hint) {
	if len(c.hints) >= c.maxEntries {
		c.Trim()
	}
	c.hints[hint.Ino] = hint
}

func (c *Cache) Get(ino uint64) (Hint, bool) {
	h, ok := c.hints[ino]
	return h, ok
}

func (c *Cache) Remove(ino uint64) (Hint, bool) {
	h, ok := c.hints[ino]
	if ok {
		delete(c.hints, ino)
	}
	return h, ok
}

func (c *Cache) Len() int { return len(c.hints) }

func (c *Cache) IsEmpty() bool { return len(c.hints) == 0 }

func (c *Cache) SetParent(ino, parentIno uint64) {
	c.parentHints[ino] = parentIno
}

// EffectivePolicy returns ino's own policy if set, else walks up the
// parent chain for the nearest directory with an explicit policy, else
// Auto.
func (c *Cache) EffectivePolicy(ino uint64) Policy {
	if hint, ok := c.hints[ino]; ok {
		return hint.Policy
	}
	current := ino
	for {
		parentIno, ok := c.parentHints[current]
		if !ok {
			break
		}
		if hint, ok := c.hints[parentIno]; ok && hint.IsDirectory {
			return hint.Policy
		}
		current = parentIno
	}
	return Policy{Kind: Auto}
}

// Candidate is an eviction candidate: an inode and its eviction score.
type Candidate struct {
	Ino   uint64
	Score uint64
}

// EvictionCandidates scores every cached hint against the given access
// ages and sizes, returning those scoring in [minScore, MaxUint64) sorted
// highest score first. Pinned (score 0) and forced-cold (score MaxUint64)
// entries are excluded — the latter belongs in forced eviction, not
// score-ranked eviction.
func (c *Cache) EvictionCandidates(accessAges, sizes map[uint64]uint64, minScore uint64) []Candidate {
	var candidates []Candidate
	for ino, hint := range c.hints {
		age := accessAges[ino]
		size := sizes[ino]
		score := hint.EvictScore(age, size)
		if score > 0 && score >= minScore && score < ^uint64(0) {
			candidates = append(candidates, Candidate{Ino: ino, Score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates
}

// Trim drops up to trimBatchSize entries once the cache is at or above
// capacity. Map iteration order is unspecified, so which entries survive
// a trim is unspecified too — callers needing LRU semantics should track
// access order separately.
func (c *Cache) Trim() {
	if len(c.hints) < c.maxEntries {
		return
	}
	removed := 0
	for ino := range c.hints {
		if removed >= trimBatchSize {
			break
		}
		delete(c.hints, ino)
		removed++
	}
}
