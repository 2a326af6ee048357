package plumbing

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ReferencePrefix = "refs/"
	refHeadPrefix   = ReferencePrefix + "heads/"
	refTagPrefix    = ReferencePrefix + "tags/"
	refRemotePrefix = ReferencePrefix + "remotes/"
	symrefPrefix    = "ref: "
)

var ErrReferenceNotFound = errors.New("reference does not exist")

type ReferenceType int8

const (
	InvalidReference ReferenceType = iota
	HashReference
	SymbolicReference
)

// ReferenceName is a fully qualified ref, e.g. "refs/heads/main".
type ReferenceName string

const HEAD ReferenceName = "HEAD"

func NewBranchReferenceName(name string) ReferenceName {
	return ReferenceName(refHeadPrefix + name)
}

func NewTagReferenceName(name string) ReferenceName {
	return ReferenceName(refTagPrefix + name)
}

func NewRemoteReferenceName(remote, name string) ReferenceName {
	return ReferenceName(fmt.Sprintf("%s%s/%s", refRemotePrefix, remote, name))
}

func (r ReferenceName) IsBranch() bool { return strings.HasPrefix(string(r), refHeadPrefix) }
func (r ReferenceName) IsTag() bool    { return strings.HasPrefix(string(r), refTagPrefix) }
func (r ReferenceName) IsRemote() bool { return strings.HasPrefix(string(r), refRemotePrefix) }

func (r ReferenceName) BranchName() string { return strings.TrimPrefix(string(r), refHeadPrefix) }
func (r ReferenceName) TagName() string    { return strings.TrimPrefix(string(r), refTagPrefix) }

func (r ReferenceName) String() string { return string(r) }

// Short returns the shortest unambiguous rendering used in messages; callers
// that need the shorten_unambiguous_ref semantics consult the refdb instead.
func (r ReferenceName) Short() string {
	switch {
	case r.IsBranch():
		return r.BranchName()
	case r.IsTag():
		return r.TagName()
	case strings.HasPrefix(string(r), refRemotePrefix):
		return strings.TrimPrefix(string(r), refRemotePrefix)
	default:
		return string(r)
	}
}

// Reference is either a direct pointer at an OID or a symbolic pointer at
// another reference name (only HEAD is ever symbolic in this engine).
type Reference struct {
	t      ReferenceType
	n      ReferenceName
	h      Hash
	target ReferenceName
}

func NewHashReference(n ReferenceName, h Hash) *Reference {
	return &Reference{t: HashReference, n: n, h: h}
}

func NewSymbolicReference(n, target ReferenceName) *Reference {
	return &Reference{t: SymbolicReference, n: n, target: target}
}

func NewReferenceFromStrings(name, target string) *Reference {
	n := ReferenceName(name)
	if strings.HasPrefix(target, symrefPrefix) {
		return NewSymbolicReference(n, ReferenceName(target[len(symrefPrefix):]))
	}
	return NewHashReference(n, NewHash(target))
}

func (r *Reference) Type() ReferenceType { return r.t }
func (r *Reference) Name() ReferenceName { return r.n }
func (r *Reference) Hash() Hash          { return r.h }
func (r *Reference) Target() ReferenceName {
	return r.target
}

func (r *Reference) String() string {
	switch r.t {
	case HashReference:
		return fmt.Sprintf("%s %s", r.h, r.n)
	case SymbolicReference:
		return fmt.Sprintf("%s%s %s", symrefPrefix, r.target, r.n)
	default:
		return ""
	}
}
