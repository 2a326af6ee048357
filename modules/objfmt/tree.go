package objfmt

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/mystor/git-revise/modules/plumbing"
)

// FileMode is the permission/kind bits stored alongside each tree entry.
type FileMode uint32

const (
	ModeRegular    FileMode = 0o100644
	ModeExecutable FileMode = 0o100755
	ModeSymlink    FileMode = 0o120000
	ModeGitlink    FileMode = 0o160000
	ModeDir        FileMode = 0o040000
)

func (m FileMode) IsDir() bool { return m == ModeDir }

// TreeEntry is one (name, mode, child OID) triple.
type TreeEntry struct {
	Name string
	Mode FileMode
	Hash plumbing.Hash
}

// Equal compares by name, mode and OID; used throughout the merge engine to
// decide "unchanged" versus "differs from base".
func (e *TreeEntry) Equal(o *TreeEntry) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Name == o.Name && e.Mode == o.Mode && e.Hash.Equal(o.Hash)
}

// Tree is a sorted directory listing; entries must never contain a name with
// '/' or NUL, and names within one tree must be unique.
type Tree struct {
	Hash    plumbing.Hash
	Entries []TreeEntry
}

func (t *Tree) Type() ObjectType { return TreeObject }

// sortKey implements the VCS's canonical tree ordering: directories sort as
// though their name had a trailing "/", so "foo" (a file) sorts before
// "foo.c" sorts before "foo/" (a directory) only if plain byte comparison
// would otherwise place "foo" (dir, treated as "foo/") after "foo.c". This
// matches git's base_name_compare.
func sortKey(name string, mode FileMode) string {
	if mode.IsDir() {
		return name + "/"
	}
	return name
}

func (t *Tree) sortEntries() {
	sort.Slice(t.Entries, func(i, j int) bool {
		return sortKey(t.Entries[i].Name, t.Entries[i].Mode) < sortKey(t.Entries[j].Name, t.Entries[j].Mode)
	})
}

// Body writes entries in canonical order regardless of the order they were
// constructed or parsed in.
func (t *Tree) Body(w io.Writer) error {
	t.sortEntries()
	seen := make(map[string]struct{}, len(t.Entries))
	for _, e := range t.Entries {
		if len(e.Name) == 0 || bytes.ContainsAny([]byte(e.Name), "/\x00") {
			return &ErrCorruptObject{Reason: fmt.Sprintf("invalid tree entry name %q", e.Name)}
		}
		if _, dup := seen[e.Name]; dup {
			return &ErrCorruptObject{Reason: fmt.Sprintf("duplicate tree entry name %q", e.Name)}
		}
		seen[e.Name] = struct{}{}
		if _, err := fmt.Fprintf(w, "%o %s\x00", e.Mode, e.Name); err != nil {
			return err
		}
		if _, err := w.Write(e.Hash.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// decode accepts entries in whatever order the file has them (some
// historical repos violate sort order) but canonical re-serialization always
// re-sorts via Body. Every entry in one tree uses
// the store's configured hash width (algo); this engine does not support
// mixed-width trees.
func (t *Tree) decode(algo plumbing.HashAlgo, body []byte) error {
	hashSize := algo.Size()
	for len(body) > 0 {
		sp := bytes.IndexByte(body, ' ')
		if sp < 0 {
			return &ErrCorruptObject{Reason: "tree entry missing mode separator"}
		}
		mode, err := strconv.ParseUint(string(body[:sp]), 8, 32)
		if err != nil {
			return &ErrCorruptObject{Reason: "tree entry has non-octal mode"}
		}
		rest := body[sp+1:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return &ErrCorruptObject{Reason: "tree entry missing name terminator"}
		}
		name := string(rest[:nul])
		oidBytes := rest[nul+1:]
		if len(oidBytes) < hashSize {
			return &ErrCorruptObject{Reason: "tree entry truncated oid"}
		}
		oid, err := plumbing.NewHashFromBytes(oidBytes[:hashSize])
		if err != nil {
			return &ErrCorruptObject{Reason: err.Error()}
		}
		t.Entries = append(t.Entries, TreeEntry{Name: name, Mode: FileMode(mode), Hash: oid})
		body = oidBytes[hashSize:]
	}
	return nil
}

// Find looks up a direct child entry by name.
func (t *Tree) Find(name string) (*TreeEntry, bool) {
	for i := range t.Entries {
		if t.Entries[i].Name == name {
			return &t.Entries[i], true
		}
	}
	return nil, false
}
