// Package pack implements the segment-packing stage: adjacent reduced
// chunks coalesce into device-aligned segments before handoff to the
// storage engine facade for allocation. Segments are packed as a
// cpio-style record stream (github.com/cavaliercoder/go-cpio), so each
// chunk is self-describing inside the segment instead of needing an
// external index.
package pack

import (
	"bytes"
	"io"

	"github.com/cavaliercoder/go-cpio"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// Record is one reduced chunk's entry inside a segment.
type Record struct {
	Name    string // hex fingerprint, used as the cpio entry name
	Size    int64
	Payload []byte
}

// Segment is a bounded batch of Records packed for a single storage-engine
// allocation.
type Segment struct {
	Records []Record
}

// Packer accumulates Records until at least AlignSize payload bytes have
// been buffered, then Add returns them as one Segment; a segment can
// exceed AlignSize by up to the payload of its last record.
type Packer struct {
	alignSize int
	pending   []Record
	size      int
}

// NewPacker constructs a Packer that targets alignSize-byte segments (e.g.
// 64 KiB to match the storage engine's allocation size classes).
func NewPacker(alignSize int) *Packer {
	return &Packer{alignSize: alignSize}
}

// Add buffers rec, returning a completed Segment if doing so crossed the
// alignment threshold.
func (p *Packer) Add(rec Record) *Segment {
	p.pending = append(p.pending, rec)
	p.size += len(rec.Payload)
	if p.size >= p.alignSize {
		return p.Flush()
	}
	return nil
}

// Flush returns whatever is currently buffered as a Segment, or nil if
// nothing is pending.
func (p *Packer) Flush() *Segment {
	if len(p.pending) == 0 {
		return nil
	}
	seg := &Segment{Records: p.pending}
	p.pending = nil
	p.size = 0
	return seg
}

// Encode serializes seg as a cpio archive: one header+payload per record,
// trailer included.
func Encode(seg *Segment) ([]byte, error) {
	var buf bytes.Buffer
	wr := cpio.NewWriter(&buf)
	for _, rec := range seg.Records {
		hdr := &cpio.Header{
			Name: rec.Name,
			Size: rec.Size,
			Mode: cpio.ModeRegular | 0o644,
		}
		if err := wr.WriteHeader(hdr); err != nil {
			return nil, errs.Wrap("pack.Encode", errs.InvalidArgument, err)
		}
		if _, err := wr.Write(rec.Payload); err != nil {
			return nil, errs.Wrap("pack.Encode", errs.InvalidArgument, err)
		}
	}
	if err := wr.Close(); err != nil {
		return nil, errs.Wrap("pack.Encode", errs.InvalidArgument, err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode, reading every record out of a packed segment.
func Decode(data []byte) (*Segment, error) {
	rd := cpio.NewReader(bytes.NewReader(data))
	seg := &Segment{}
	for {
		hdr, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap("pack.Decode", errs.ChecksumMismatch, err)
		}
		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(rd, payload); err != nil {
			return nil, errs.Wrap("pack.Decode", errs.ChecksumMismatch, err)
		}
		seg.Records = append(seg.Records, Record{Name: hdr.Name, Size: hdr.Size, Payload: payload})
	}
	return seg, nil
}
