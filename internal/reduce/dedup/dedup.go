// Package dedup implements fingerprinting and the dedup lookup: a
// BLAKE3-class 32-byte digest keys a fingerprint store; a hit emits a
// reference, a miss passes the chunk through for storage.
package dedup

import (
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// Fingerprint is the 32-byte content digest identifying a Chunk.
// Unkeyed blake2b-256 is used here: fixed 32-byte width,
// collision-resistant, and deterministic.
type Fingerprint [32]byte

// Sum computes the Fingerprint of payload.
func Sum(payload []byte) Fingerprint {
	return blake2b.Sum256(payload)
}

// Chunk is the dedup unit.
type Chunk struct {
	Fingerprint  Fingerprint
	OriginalSize int
	Payload      []byte
}

// Ref is emitted on a dedup hit: a pointer to previously-stored content
// instead of a second copy.
type Ref struct {
	Fingerprint Fingerprint
	Size        int
}

// Store is the fingerprint -> location table. Location is left as a
// caller-defined opaque value (in production, a BlockRef) so this package
// has no dependency on the storage engine.
type Store struct {
	mu    sync.RWMutex
	index map[Fingerprint]entry
}

type entry struct {
	size     int
	refCount int
	location interface{}
}

// NewStore constructs an empty fingerprint store.
func NewStore() *Store {
	return &Store{index: make(map[Fingerprint]entry)}
}

// Lookup reports whether fp is already known, and if so its size.
func (s *Store) Lookup(fp Fingerprint) (size int, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[fp]
	return e.size, ok
}

// Register records a newly-written chunk's location and initial refcount 1.
// Returns errs.AlreadyExists if fp is already registered (callers should
// Lookup first and only Register on miss).
func (s *Store) Register(fp Fingerprint, size int, location interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[fp]; ok {
		return errs.New("dedup.Register", errs.AlreadyExists, "fingerprint already registered")
	}
	s.index[fp] = entry{size: size, refCount: 1, location: location}
	return nil
}

// Reference increments fp's refcount on a dedup hit, returning its location.
func (s *Store) Reference(fp Fingerprint) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[fp]
	if !ok {
		return nil, errs.New("dedup.Reference", errs.NotFound, "fingerprint not found")
	}
	e.refCount++
	s.index[fp] = e
	return e.location, nil
}

// Release decrements fp's refcount, removing the entry once it reaches
// zero. Returns the resulting refcount.
func (s *Store) Release(fp Fingerprint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[fp]
	if !ok {
		return 0, errs.New("dedup.Release", errs.NotFound, "fingerprint not found")
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(s.index, fp)
		return 0, nil
	}
	s.index[fp] = e
	return e.refCount, nil
}

// Len returns the number of registered fingerprints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Result is what Process returns for one chunk: either a Ref (dedup hit) or
// the original Chunk (miss, pass-through for storage).
type Result struct {
	Deduplicated bool
	Ref          Ref
	Chunk        Chunk
}

// Process fingerprints payload and looks it up in store, without mutating
// the store — callers register or reference once the chunk's later
// stages have succeeded, and release those again if the write as a whole
// fails, so a failed write leaves the fingerprint store unchanged.
func Process(store *Store, payload []byte) Result {
	fp := Sum(payload)
	if size, ok := store.Lookup(fp); ok {
		return Result{Deduplicated: true, Ref: Ref{Fingerprint: fp, Size: size}}
	}
	return Result{Deduplicated: false, Chunk: Chunk{Fingerprint: fp, OriginalSize: len(payload), Payload: payload}}
}
