// Package merge implements the three-way tree merge the rewrite engine uses
// to replay a commit onto a new parent: recurse path by path, diffing each
// side against the merge base, and only fall to a real content merge where
// both sides touched the same blob. There is no rename detection; a file
// moved on one side and edited on the other surfaces as a delete/modify
// conflict rather than being reunited.
package merge

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/odb"
)

// Side identifies which branch of a three-way merge a conflict entry came
// from, used to name the "<path>~ours" / "<path>~theirs" conflict files.
type Side int

const (
	Ours Side = iota
	Theirs
)

func (s Side) String() string {
	if s == Ours {
		return "ours"
	}
	return "theirs"
}

// Conflict describes one path git-revise could not merge automatically.
// Exactly one of the three entries may be absent (zero Mode) to represent a
// delete on that side.
type Conflict struct {
	Path   string
	Base   objfmt.TreeEntry
	HasOur bool
	Our    objfmt.TreeEntry
	HasHis bool
	His    objfmt.TreeEntry
	Reason string
}

// BlobMerger performs a three-way content merge of a single file, returning
// the merged bytes and whether conflict markers were left in them. It is
// supplied by the caller so the merge engine stays agnostic to whether the
// driver is an external "merge-file" binary, diff3, or something else.
type BlobMerger func(ctx context.Context, base, ours, theirs []byte, labelBase, labelOurs, labelTheirs string) (merged []byte, conflict bool, err error)

// Options configures one tree merge.
type Options struct {
	Store       *odb.Store
	BlobMerge   BlobMerger
	LabelBase   string
	LabelOurs   string
	LabelTheirs string
}

// Result is the outcome of merging one tree triple.
type Result struct {
	Tree      plumbing.Hash
	Conflicts []Conflict
}

// MergeTrees recursively three-way merges base/ours/theirs, writing any
// newly constructed subtrees into opts.Store (uninserted into the loose
// store until the caller flushes). A path untouched on one side always
// wins with the other side's version; a path touched identically on both
// sides collapses to that version; anything else is handed to BlobMerge or
// reported as a Conflict.
func MergeTrees(ctx context.Context, opts *Options, base, ours, theirs plumbing.Hash) (*Result, error) {
	m := &merger{opts: opts}
	tree, err := m.mergeTrees(ctx, "", base, ours, theirs)
	if err != nil {
		return nil, err
	}
	return &Result{Tree: tree, Conflicts: m.conflicts}, nil
}

type merger struct {
	opts      *Options
	conflicts []Conflict
}

type named struct {
	name string
	e    objfmt.TreeEntry
	ok   bool // false means this name doesn't exist on this side
}

func (m *merger) loadTree(oid plumbing.Hash) (*objfmt.Tree, error) {
	if oid.IsZero() {
		return &objfmt.Tree{}, nil
	}
	obj, err := m.opts.Store.Get(oid)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*objfmt.Tree)
	if !ok {
		return nil, fmt.Errorf("merge: %s is not a tree", oid)
	}
	return t, nil
}

func unionNames(trees ...*objfmt.Tree) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, t := range trees {
		for _, e := range t.Entries {
			if _, ok := seen[e.Name]; !ok {
				seen[e.Name] = struct{}{}
				names = append(names, e.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func lookup(t *objfmt.Tree, name string) (objfmt.TreeEntry, bool) {
	e, ok := t.Find(name)
	if !ok {
		return objfmt.TreeEntry{}, false
	}
	return *e, true
}

func (m *merger) mergeTrees(ctx context.Context, dir string, baseOid, ourOid, theirOid plumbing.Hash) (plumbing.Hash, error) {
	if baseOid.Equal(ourOid) {
		return theirOid, nil
	}
	if baseOid.Equal(theirOid) {
		return ourOid, nil
	}
	if ourOid.Equal(theirOid) {
		return ourOid, nil
	}

	baseTree, err := m.loadTree(baseOid)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	ourTree, err := m.loadTree(ourOid)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	theirTree, err := m.loadTree(theirOid)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	var entries []objfmt.TreeEntry
	for _, name := range unionNames(baseTree, ourTree, theirTree) {
		b, hasB := lookup(baseTree, name)
		o, hasO := lookup(ourTree, name)
		t, hasT := lookup(theirTree, name)
		fullPath := path.Join(dir, name)

		entry, keep, err := m.mergeEntry(ctx, fullPath, name, b, hasB, o, hasO, t, hasT)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if keep {
			entries = append(entries, entry)
		}
	}

	tree := &objfmt.Tree{Entries: entries}
	oid, err := m.opts.Store.Insert(tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return oid, nil
}

// mergeEntry resolves one path's three-way state. keep reports whether the
// path survives into the merged tree at all (false for a clean double
// delete).
func (m *merger) mergeEntry(ctx context.Context, fullPath, name string, b objfmt.TreeEntry, hasB bool, o objfmt.TreeEntry, hasO bool, t objfmt.TreeEntry, hasT bool) (objfmt.TreeEntry, bool, error) {
	ourChanged := hasB != hasO || (hasB && !b.Equal(&o))
	theirChanged := hasB != hasT || (hasB && !b.Equal(&t))

	switch {
	case !ourChanged && !theirChanged:
		return b, hasB, nil
	case !ourChanged:
		return t, hasT, nil
	case !theirChanged:
		return o, hasO, nil
	}

	// Both sides changed this path relative to base.
	if hasO == hasT && (!hasO || o.Equal(&t)) {
		// Identical change on both sides, including a double delete.
		return o, hasO, nil
	}
	if hasO && hasT && o.Mode.IsDir() && t.Mode.IsDir() {
		sub, err := m.mergeTrees(ctx, fullPath, b.Hash, o.Hash, t.Hash)
		if err != nil {
			return objfmt.TreeEntry{}, false, err
		}
		return objfmt.TreeEntry{Name: name, Mode: objfmt.ModeDir, Hash: sub}, true, nil
	}

	if hasO && hasT && o.Mode == t.Mode && !o.Mode.IsDir() {
		merged, conflict, err := m.mergeBlobs(ctx, fullPath, b, hasB, o, t)
		if err != nil {
			return objfmt.TreeEntry{}, false, err
		}
		if !conflict {
			return merged, true, nil
		}
		m.conflicts = append(m.conflicts, Conflict{
			Path: fullPath, Base: b, HasOur: hasO, Our: o, HasHis: hasT, His: t,
			Reason: "content",
		})
		return merged, true, nil
	}

	reason := "distinct modes"
	switch {
	case !hasO || !hasT:
		reason = "modify/delete"
	case o.Mode.IsDir() != t.Mode.IsDir():
		reason = "file/directory"
	}
	m.conflicts = append(m.conflicts, Conflict{
		Path: fullPath, Base: b, HasOur: hasO, Our: o, HasHis: hasT, His: t, Reason: reason,
	})
	// Preserve our side in the synthesized tree so the working tree stays
	// non-empty at this path; the caller is responsible for writing out
	// ~ours/~theirs conflict files from the Conflict record.
	if hasO {
		return o, true, nil
	}
	if hasT {
		return t, true, nil
	}
	return objfmt.TreeEntry{}, false, nil
}

func (m *merger) mergeBlobs(ctx context.Context, fullPath string, base objfmt.TreeEntry, hasBase bool, our, their objfmt.TreeEntry) (objfmt.TreeEntry, bool, error) {
	baseBytes, err := m.blobBytes(base.Hash, hasBase)
	if err != nil {
		return objfmt.TreeEntry{}, false, err
	}
	ourBytes, err := m.blobBytes(our.Hash, true)
	if err != nil {
		return objfmt.TreeEntry{}, false, err
	}
	theirBytes, err := m.blobBytes(their.Hash, true)
	if err != nil {
		return objfmt.TreeEntry{}, false, err
	}

	merged, conflict, err := m.opts.BlobMerge(ctx, baseBytes, ourBytes, theirBytes, m.opts.LabelBase, m.opts.LabelOurs, m.opts.LabelTheirs)
	if err != nil {
		return objfmt.TreeEntry{}, false, err
	}
	oid, err := m.opts.Store.Insert(&objfmt.Blob{Contents: merged})
	if err != nil {
		return objfmt.TreeEntry{}, false, err
	}
	mode := our.Mode
	return objfmt.TreeEntry{Name: our.Name, Mode: mode, Hash: oid}, conflict, nil
}

func (m *merger) blobBytes(oid plumbing.Hash, exists bool) ([]byte, error) {
	if !exists || oid.IsZero() {
		return nil, nil
	}
	obj, err := m.opts.Store.Get(oid)
	if err != nil {
		return nil, err
	}
	blob, ok := obj.(*objfmt.Blob)
	if !ok {
		return nil, fmt.Errorf("merge: %s is not a blob", oid)
	}
	return blob.Contents, nil
}
