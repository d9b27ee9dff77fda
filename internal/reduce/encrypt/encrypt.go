// Package encrypt implements an optional per-chunk authenticated
// encryption stage: AES-256-GCM or ChaCha20-Poly1305, keyed by
// HKDF(master_key, "claudefs-chunk-key" || chunk_hash), with a random
// nonce per encryption and wire form (nonce || ciphertext || tag).
package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// Algorithm selects the AEAD.
type Algorithm int

const (
	AES256GCM Algorithm = iota
	ChaCha20Poly1305
)

const hkdfInfoPrefix = "claudefs-chunk-key"

// DeriveChunkKey derives a per-chunk key from a 32-byte masterKey and
// chunkHash via HKDF-SHA256, returning errs.InvalidArgument for a master
// key of any other length.
func DeriveChunkKey(masterKey []byte, chunkHash []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, errs.New("encrypt.DeriveChunkKey", errs.InvalidArgument, "master key must be 32 bytes")
	}
	info := append([]byte(hkdfInfoPrefix), chunkHash...)
	r := hkdf.New(sha256.New, masterKey, nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errs.Wrap("encrypt.DeriveChunkKey", errs.InvalidArgument, err)
	}
	return key, nil
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errs.Wrap("encrypt.newAEAD", errs.InvalidArgument, err)
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, errs.New("encrypt.newAEAD", errs.InvalidArgument, "unknown algorithm")
	}
}

// Sealed is the wire form of an encrypted chunk: nonce || ciphertext || tag,
// with ciphertext and tag already concatenated by the AEAD's Seal.
type Sealed struct {
	Algorithm Algorithm
	Nonce     []byte
	CipherTag []byte
}

// Encrypt seals plaintext under a key derived from masterKey and chunkHash,
// with a fresh random nonce.
func Encrypt(alg Algorithm, masterKey, chunkHash, plaintext []byte) (Sealed, error) {
	key, err := DeriveChunkKey(masterKey, chunkHash)
	if err != nil {
		return Sealed{}, err
	}
	aead, err := newAEAD(alg, key)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, errs.Wrap("encrypt.Encrypt", errs.InvalidArgument, err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return Sealed{Algorithm: alg, Nonce: nonce, CipherTag: ct}, nil
}

// Decrypt reverses Encrypt given the same masterKey and chunkHash.
func Decrypt(masterKey, chunkHash []byte, s Sealed) ([]byte, error) {
	key, err := DeriveChunkKey(masterKey, chunkHash)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(s.Algorithm, key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, s.Nonce, s.CipherTag, nil)
	if err != nil {
		return nil, errs.Wrap("encrypt.Decrypt", errs.ChecksumMismatch, err)
	}
	return pt, nil
}

// Wire encodes s as nonce || ciphertext-and-tag.
func (s Sealed) Wire() []byte {
	out := make([]byte, 0, len(s.Nonce)+len(s.CipherTag))
	out = append(out, s.Nonce...)
	out = append(out, s.CipherTag...)
	return out
}
