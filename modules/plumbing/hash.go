// Package plumbing contains the low-level, dependency-free types shared
// across the object store, revision parser and rewrite engine: object
// identifiers and reference names.
package plumbing

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// HashAlgo selects the width (and the underlying digest) of every OID in a
// repository. A repository is created with exactly one algorithm; mixing
// widths within one object store is not supported.
type HashAlgo uint8

const (
	// SHA1 is the legacy 20-byte object id, kept for repositories created
	// before the wider digest became the default.
	SHA1 HashAlgo = iota
	// BLAKE3 is the 32-byte object id used by new repositories.
	BLAKE3
)

func (a HashAlgo) Size() int {
	if a == SHA1 {
		return 20
	}
	return 32
}

func (a HashAlgo) New() hash.Hash {
	if a == SHA1 {
		return sha1.New()
	}
	return blake3.New()
}

func (a HashAlgo) String() string {
	if a == SHA1 {
		return "sha1"
	}
	return "blake3"
}

const maxHashSize = 32

// Hash is a fixed-width content identifier. Repositories using the 20-byte
// legacy algorithm leave the trailing 12 bytes zeroed; Size records how many
// leading bytes are significant so a 20-byte and a 32-byte hash whose first
// 20 bytes happen to collide are never treated as equal.
type Hash struct {
	Size int
	b    [maxHashSize]byte
}

// ZeroHash is the Hash zero value; IsZero reports whether a Hash was never
// assigned rather than whether its bytes happen to be zero.
var ZeroHash Hash

func (h Hash) IsZero() bool {
	return h.Size == 0
}

func (h Hash) Bytes() []byte {
	return h.b[:h.Size]
}

func (h Hash) String() string {
	return hex.EncodeToString(h.Bytes())
}

// Equal compares two hashes by size and content; a SHA1 and a BLAKE3 hash
// are never equal even if their trailing bytes coincide.
func (h Hash) Equal(o Hash) bool {
	return h.Size == o.Size && bytes.Equal(h.b[:h.Size], o.b[:o.Size])
}

func (h Hash) Compare(o Hash) int {
	if h.Size != o.Size {
		if h.Size < o.Size {
			return -1
		}
		return 1
	}
	return bytes.Compare(h.b[:h.Size], o.b[:o.Size])
}

// NewHash decodes a hex string into a Hash, inferring the algorithm from its
// length (40 hex chars -> SHA1, 64 -> BLAKE3). Malformed input yields ZeroHash.
func NewHash(s string) Hash {
	b, err := hex.DecodeString(s)
	if err != nil || (len(b) != 20 && len(b) != 32) {
		return ZeroHash
	}
	var h Hash
	h.Size = len(b)
	copy(h.b[:], b)
	return h
}

// NewHashFromBytes wraps raw digest bytes (20 or 32 of them) as a Hash.
func NewHashFromBytes(b []byte) (Hash, error) {
	if len(b) != 20 && len(b) != 32 {
		return ZeroHash, fmt.Errorf("plumbing: invalid hash length %d", len(b))
	}
	var h Hash
	h.Size = len(b)
	copy(h.b[:], b)
	return h, nil
}

// ValidateHashHex reports whether s could plausibly be a full OID, as
// opposed to an abbreviation or a revision expression.
func ValidateHashHex(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ValidateAbbrevHex reports whether s is a plausible hex prefix abbreviation:
// non-empty, even-length is not required, just hex digits shorter than a
// full OID.
func ValidateAbbrevHex(s string) bool {
	if len(s) == 0 || len(s) >= 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

type HashSlice []Hash

func (p HashSlice) Len() int           { return len(p) }
func (p HashSlice) Less(i, j int) bool { return p[i].Compare(p[j]) < 0 }
func (p HashSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
