// Package chunk implements content-defined chunking: a FastCDC-style
// rolling hash picks chunk boundaries so that small edits to a file only
// shift the chunks touching the edit, not the whole stream.
package chunk

import "github.com/dirkpetersen/claudefs/internal/errs"

// Config bounds chunk sizes.
type Config struct {
	MinSize    int
	TargetSize int
	MaxSize    int
}

// DefaultConfig mirrors common FastCDC defaults: 2 KiB floor, 8 KiB target
// (average), 64 KiB ceiling.
func DefaultConfig() Config {
	return Config{MinSize: 2 << 10, TargetSize: 8 << 10, MaxSize: 64 << 10}
}

func (c Config) validate() error {
	if c.MinSize <= 0 || c.TargetSize <= c.MinSize || c.MaxSize <= c.TargetSize {
		return errs.New("chunk.Config.validate", errs.InvalidArgument, "min < target < max required")
	}
	return nil
}

// maskBits picks a mask width so that, for random data, the expected run
// length between hash matches is close to cfg.TargetSize: with a uniform
// rolling hash, P(match) = 1/2^bits, so bits = log2(target).
func maskBits(target int) uint {
	bits := uint(0)
	for (1 << bits) < target {
		bits++
	}
	return bits
}

const (
	// gearPrime mixes each input byte into the rolling hash; any odd
	// constant with good bit dispersion works for a gear-style hash.
	gearPrime uint64 = 0x9E3779B97F4A7C15
)

// Chunker splits data into boundaries using a gear-hash rolling window: at
// each byte, hash = (hash << 1) + gearPrime*b, and a boundary is declared
// when the low maskBits bits of hash are zero, subject to min/max
// bounds — no chunk is smaller than MinSize except possibly the last.
type Chunker struct {
	cfg  Config
	mask uint64
}

// New constructs a Chunker, returning errs.InvalidArgument if cfg does not
// satisfy 0 < MinSize < TargetSize < MaxSize.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	bits := maskBits(cfg.TargetSize)
	return &Chunker{cfg: cfg, mask: (uint64(1) << bits) - 1}, nil
}

// Split returns the boundary offsets (exclusive end of each chunk) for data.
func (c *Chunker) Split(data []byte) []int {
	if len(data) == 0 {
		return nil
	}
	var bounds []int
	start := 0
	var hash uint64
	for i := 0; i < len(data); i++ {
		hash = (hash << 1) + gearPrime*uint64(data[i])
		size := i - start + 1
		if size < c.cfg.MinSize {
			continue
		}
		if size >= c.cfg.MaxSize || (hash&c.mask) == 0 {
			bounds = append(bounds, i+1)
			start = i + 1
			hash = 0
		}
	}
	if start < len(data) {
		bounds = append(bounds, len(data))
	}
	return bounds
}

// Chunks splits data and returns the actual byte slices (views into data).
func (c *Chunker) Chunks(data []byte) [][]byte {
	bounds := c.Split(data)
	out := make([][]byte, 0, len(bounds))
	start := 0
	for _, b := range bounds {
		out = append(out, data[start:b])
		start = b
	}
	return out
}
