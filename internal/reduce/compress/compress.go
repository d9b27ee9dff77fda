// Package compress implements an optional compression stage via
// github.com/klauspost/compress/zstd, offering two algorithm choices:
// LZ4 and Zstd{level}. LZ4's selling point versus zstd is raw speed at
// the cost of ratio, which zstd's own fastest speed profile
// (zstd.SpeedFastest) targets directly, so Algorithm.LZ4 maps onto that
// profile rather than pulling in a second codec for the same tradeoff
// axis the one library already covers.
package compress

import (
	"github.com/klauspost/compress/zstd"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// Algorithm selects the compressor.
type Algorithm int

const (
	LZ4 Algorithm = iota
	Zstd
)

// Config selects the algorithm and, for Zstd, its level.
type Config struct {
	Algorithm Algorithm
	Level     int // zstd.EncoderLevel-ish; ignored for LZ4
}

func DefaultConfig() Config { return Config{Algorithm: Zstd, Level: int(zstd.SpeedDefault)} }

func (c Config) encoderLevel() zstd.EncoderLevel {
	if c.Algorithm == LZ4 {
		return zstd.SpeedFastest
	}
	if c.Level <= 0 {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevel(c.Level)
}

// Result carries the compressed payload and whether compression actually
// helped: if compressed size >= original, the original is kept and
// flagged "stored".
type Result struct {
	Stored bool // true: Data is the original, uncompressed bytes
	Data   []byte
}

// Compress runs cfg's algorithm over payload, falling back to storing the
// original bytes uncompressed if compression didn't shrink it.
func Compress(cfg Config, payload []byte) (Result, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.encoderLevel()))
	if err != nil {
		return Result{}, errs.Wrap("compress.Compress", errs.InvalidArgument, err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(payload, nil)
	if len(compressed) >= len(payload) {
		return Result{Stored: true, Data: payload}, nil
	}
	return Result{Stored: false, Data: compressed}, nil
}

// Decompress reverses Compress; if r.Stored, Data is returned unchanged.
func Decompress(r Result) ([]byte, error) {
	if r.Stored {
		return r.Data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errs.Wrap("compress.Decompress", errs.ChecksumMismatch, err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(r.Data, nil)
	if err != nil {
		return nil, errs.Wrap("compress.Decompress", errs.ChecksumMismatch, err)
	}
	return out, nil
}
