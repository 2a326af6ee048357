// Package objfmt implements the object codec: parsing and canonical
// serialization of the four object kinds, and the content hashing that
// derives their object identifiers.
//
// The wire format mirrors the VCS this engine targets: each object is
// compressed with zlib and, once inflated, begins with a header of the form
// "<kind> <len>\0" followed by the kind-specific body. The object id is the
// repository's configured hash over the header+body bytes. Every kind must
// round-trip: parse(serialize(x)) == x and serialize(parse(b)) == b.
package objfmt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/mystor/git-revise/modules/plumbing"
)

// ObjectType tags the four closed variants; callers needing kind-specific
// behavior switch on it rather than relying on open polymorphism.
type ObjectType uint8

const (
	InvalidObject ObjectType = iota
	BlobObject
	TreeObject
	CommitObject
	TagObject
)

func (t ObjectType) String() string {
	switch t {
	case BlobObject:
		return "blob"
	case TreeObject:
		return "tree"
	case CommitObject:
		return "commit"
	case TagObject:
		return "tag"
	default:
		return "invalid"
	}
}

func ParseObjectType(s string) (ObjectType, error) {
	switch s {
	case "blob":
		return BlobObject, nil
	case "tree":
		return TreeObject, nil
	case "commit":
		return CommitObject, nil
	case "tag":
		return TagObject, nil
	default:
		return InvalidObject, &ErrCorruptObject{Reason: fmt.Sprintf("unknown object kind %q", s)}
	}
}

// ErrCorruptObject covers malformed-object failures: bad header, truncated
// body, tree entries violating the wire grammar.
type ErrCorruptObject struct {
	Reason string
}

func (e *ErrCorruptObject) Error() string { return "corrupt object: " + e.Reason }

// Object is implemented by Blob, Tree, Commit and Tag.
type Object interface {
	Type() ObjectType
	// Body writes the kind-specific serialized body (without the
	// "<kind> <len>\0" header) in canonical form.
	Body(w io.Writer) error
}

// Encode writes the canonical "<kind> <len>\0" + body form of obj, and
// returns the bytes that were hashed to produce its OID (the caller hashes
// them with the repository's configured algorithm).
func Encode(obj Object) ([]byte, error) {
	var body bytes.Buffer
	if err := obj.Body(&body); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "%s %d\x00", obj.Type(), body.Len())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Hash computes the OID of obj under the given algorithm without needing a
// backing store; used before insertion into the object cache.
func Hash(algo plumbing.HashAlgo, obj Object) (plumbing.Hash, []byte, error) {
	raw, err := Encode(obj)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	h := algo.New()
	_, _ = h.Write(raw)
	oid, err := plumbing.NewHashFromBytes(h.Sum(nil))
	return oid, raw, err
}

// SplitHeader parses the "<kind> <len>\0" prefix off an inflated object
// buffer, returning the kind, declared length, and the remaining body bytes.
func SplitHeader(raw []byte) (ObjectType, int, []byte, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return InvalidObject, 0, nil, &ErrCorruptObject{Reason: "missing NUL after header"}
	}
	header := raw[:nul]
	sp := bytes.IndexByte(header, ' ')
	if sp < 0 {
		return InvalidObject, 0, nil, &ErrCorruptObject{Reason: "missing space in header"}
	}
	kind, err := ParseObjectType(string(header[:sp]))
	if err != nil {
		return InvalidObject, 0, nil, err
	}
	var length int
	if _, err := fmt.Sscanf(string(header[sp+1:]), "%d", &length); err != nil {
		return InvalidObject, 0, nil, &ErrCorruptObject{Reason: "malformed length in header"}
	}
	body := raw[nul+1:]
	if len(body) != length {
		return InvalidObject, 0, nil, &ErrCorruptObject{Reason: "truncated body"}
	}
	return kind, length, body, nil
}

// Parse decodes an inflated (header+body) buffer into one of the four
// variants, validating the header against the body length. algo tells the
// tree decoder how wide the child OIDs are, since the width is not otherwise
// recoverable from the bytes alone.
func Parse(algo plumbing.HashAlgo, raw []byte) (Object, error) {
	kind, _, body, err := SplitHeader(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case BlobObject:
		return &Blob{Contents: append([]byte(nil), body...)}, nil
	case TreeObject:
		t := &Tree{}
		if err := t.decode(algo, body); err != nil {
			return nil, err
		}
		return t, nil
	case CommitObject:
		c := &Commit{}
		if err := c.decode(body); err != nil {
			return nil, err
		}
		return c, nil
	case TagObject:
		t := &Tag{}
		if err := t.decode(body); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, &ErrCorruptObject{Reason: "unknown object kind"}
	}
}

// Inflate decompresses a loose-object byte stream.
func Inflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &ErrCorruptObject{Reason: "bad zlib stream: " + err.Error()}
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Deflate compresses raw (header+body) object bytes for loose-object storage.
func Deflate(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
