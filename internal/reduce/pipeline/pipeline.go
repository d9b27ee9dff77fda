// Package pipeline orchestrates the data-reduction write path: chunk ->
// dedup -> compress -> encrypt -> pack, plus the WORM overlay and
// per-write statistics.
package pipeline

import (
	"github.com/dirkpetersen/claudefs/internal/reduce/chunk"
	"github.com/dirkpetersen/claudefs/internal/reduce/compress"
	"github.com/dirkpetersen/claudefs/internal/reduce/dedup"
	"github.com/dirkpetersen/claudefs/internal/reduce/encrypt"
	"github.com/dirkpetersen/claudefs/internal/reduce/pack"
)

// Config bundles per-stage configuration, any stage of which may be
// disabled.
type Config struct {
	Chunk             chunk.Config
	EnableCompression bool
	Compress          compress.Config
	EnableEncryption  bool
	EncryptAlgorithm  encrypt.Algorithm
	MasterKey         []byte
	SegmentAlignSize  int
}

func DefaultConfig() Config {
	return Config{
		Chunk:             chunk.DefaultConfig(),
		EnableCompression: true,
		Compress:          compress.DefaultConfig(),
		EnableEncryption:  false,
		EncryptAlgorithm:  encrypt.AES256GCM,
		SegmentAlignSize:  64 << 10,
	}
}

// Stats reports pipeline-wide counters for one write.
type Stats struct {
	InputBytes            int
	ChunksTotal           int
	ChunksDeduplicated    int
	BytesAfterDedup       int
	BytesAfterCompression int
	BytesAfterEncryption  int
}

// CompressionRatio returns BytesAfterDedup / BytesAfterCompression, or 1 if
// either side is zero.
func (s Stats) CompressionRatio() float64 {
	if s.BytesAfterCompression == 0 || s.BytesAfterDedup == 0 {
		return 1
	}
	return float64(s.BytesAfterDedup) / float64(s.BytesAfterCompression)
}

// ReducedChunk is one chunk's output after every enabled stage.
type ReducedChunk struct {
	Fingerprint  dedup.Fingerprint
	Deduplicated bool
	Stored       bool // compression "stored" (uncompressed) flag
	Encrypted    bool
	Payload      []byte // final bytes to pack (post-compress/encrypt); nil for a dedup hit
}

// Pipeline drives the stages over one logical write, sharing a Chunker and
// dedup Store across calls.
type Pipeline struct {
	cfg     Config
	chunker *chunk.Chunker
	store   *dedup.Store
	packer  *pack.Packer
}

// New constructs a Pipeline. Returns an error if cfg.Chunk is invalid.
func New(cfg Config, store *dedup.Store) (*Pipeline, error) {
	c, err := chunk.New(cfg.Chunk)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, chunker: c, store: store, packer: pack.NewPacker(cfg.SegmentAlignSize)}, nil
}

// Write runs data through every stage. A chunk is registered (or, on a
// dedup hit, referenced) only after its own stages have succeeded; on any
// stage error, Write releases every registration and reference it already
// made for earlier chunks of this call and returns, so a failed write
// leaves the fingerprint store unchanged. Records of earlier chunks that
// were already handed to the packer are not withdrawn.
func (p *Pipeline) Write(data []byte) ([]ReducedChunk, []*pack.Segment, Stats, error) {
	stats := Stats{InputBytes: len(data)}
	var reduced []ReducedChunk
	var segments []*pack.Segment
	var touched []dedup.Fingerprint
	fail := func(err error) ([]ReducedChunk, []*pack.Segment, Stats, error) {
		for _, fp := range touched {
			_, _ = p.store.Release(fp)
		}
		return nil, nil, stats, err
	}

	for _, raw := range p.chunker.Chunks(data) {
		stats.ChunksTotal++
		result := dedup.Process(p.store, raw)
		if result.Deduplicated {
			stats.ChunksDeduplicated++
			stats.BytesAfterDedup += 0 // a dedup hit contributes no new bytes
			if _, err := p.store.Reference(result.Ref.Fingerprint); err != nil {
				return fail(err)
			}
			touched = append(touched, result.Ref.Fingerprint)
			reduced = append(reduced, ReducedChunk{Fingerprint: result.Ref.Fingerprint, Deduplicated: true})
			continue
		}

		payload := result.Chunk.Payload
		stats.BytesAfterDedup += len(payload)

		stored := true
		if p.cfg.EnableCompression {
			cr, err := compress.Compress(p.cfg.Compress, payload)
			if err != nil {
				return fail(err)
			}
			payload = cr.Data
			stored = cr.Stored
		}
		stats.BytesAfterCompression += len(payload)

		encrypted := false
		if p.cfg.EnableEncryption {
			sealed, err := encrypt.Encrypt(p.cfg.EncryptAlgorithm, p.cfg.MasterKey, result.Chunk.Fingerprint[:], payload)
			if err != nil {
				return fail(err)
			}
			payload = sealed.Wire()
			encrypted = true
		}
		stats.BytesAfterEncryption += len(payload)

		if err := p.store.Register(result.Chunk.Fingerprint, result.Chunk.OriginalSize, nil); err != nil {
			return fail(err)
		}
		touched = append(touched, result.Chunk.Fingerprint)

		rc := ReducedChunk{
			Fingerprint: result.Chunk.Fingerprint,
			Stored:      stored,
			Encrypted:   encrypted,
			Payload:     payload,
		}
		reduced = append(reduced, rc)

		if seg := p.packer.Add(pack.Record{Name: hexName(result.Chunk.Fingerprint), Size: int64(len(payload)), Payload: payload}); seg != nil {
			segments = append(segments, seg)
		}
	}

	if !p.cfg.EnableEncryption {
		stats.BytesAfterEncryption = stats.BytesAfterCompression
	}
	if !p.cfg.EnableCompression {
		stats.BytesAfterCompression = stats.BytesAfterDedup
	}

	return reduced, segments, stats, nil
}

// Flush returns any segment still buffered below the alignment threshold.
func (p *Pipeline) Flush() *pack.Segment {
	return p.packer.Flush()
}

func hexName(fp dedup.Fingerprint) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(fp)*2)
	for i, b := range fp {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xF]
	}
	return string(out)
}
