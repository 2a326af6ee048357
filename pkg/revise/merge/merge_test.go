package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/odb"
)

func newStore(t *testing.T) *odb.Store {
	t.Helper()
	return odb.NewStore(t.TempDir(), plumbing.SHA1)
}

func blob(t *testing.T, s *odb.Store, contents string) objfmt.TreeEntry {
	t.Helper()
	oid, err := s.Insert(&objfmt.Blob{Contents: []byte(contents)})
	require.NoError(t, err)
	return objfmt.TreeEntry{Mode: objfmt.ModeRegular, Hash: oid}
}

func tree(t *testing.T, s *odb.Store, entries map[string]objfmt.TreeEntry) plumbing.Hash {
	t.Helper()
	var te []objfmt.TreeEntry
	for name, e := range entries {
		e.Name = name
		te = append(te, e)
	}
	oid, err := s.Insert(&objfmt.Tree{Entries: te})
	require.NoError(t, err)
	return oid
}

// concatMerger is a trivial BlobMerger stand-in: it "conflicts" whenever
// ours and theirs both differ from base and from each other.
func concatMerger(ctx context.Context, base, ours, theirs []byte, labelBase, labelOurs, labelTheirs string) ([]byte, bool, error) {
	return ours, true, nil
}

func TestMergeTreesUnchangedSideWins(t *testing.T) {
	s := newStore(t)
	a := blob(t, s, "a")
	b := blob(t, s, "b")

	base := tree(t, s, map[string]objfmt.TreeEntry{"file": a})
	ours := base // unchanged on our side
	theirs := tree(t, s, map[string]objfmt.TreeEntry{"file": b})

	result, err := MergeTrees(context.Background(), &Options{Store: s, BlobMerge: concatMerger}, base, ours, theirs)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)
	assert.True(t, result.Tree.Equal(theirs))
}

func TestMergeTreesBothSidesAddSamePathCollapses(t *testing.T) {
	s := newStore(t)
	base := tree(t, s, map[string]objfmt.TreeEntry{})
	a := blob(t, s, "same")
	ours := tree(t, s, map[string]objfmt.TreeEntry{"new": a})
	theirs := tree(t, s, map[string]objfmt.TreeEntry{"new": a})

	result, err := MergeTrees(context.Background(), &Options{Store: s, BlobMerge: concatMerger}, base, ours, theirs)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)
	assert.True(t, result.Tree.Equal(ours))
}

func TestMergeTreesConflictingEditReportsConflict(t *testing.T) {
	s := newStore(t)
	base := tree(t, s, map[string]objfmt.TreeEntry{"file": blob(t, s, "base")})
	ours := tree(t, s, map[string]objfmt.TreeEntry{"file": blob(t, s, "ours")})
	theirs := tree(t, s, map[string]objfmt.TreeEntry{"file": blob(t, s, "theirs")})

	result, err := MergeTrees(context.Background(), &Options{Store: s, BlobMerge: concatMerger}, base, ours, theirs)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "file", result.Conflicts[0].Path)
	assert.Equal(t, "content", result.Conflicts[0].Reason)
}

func TestMergeTreesModifyDeleteConflict(t *testing.T) {
	s := newStore(t)
	base := tree(t, s, map[string]objfmt.TreeEntry{"file": blob(t, s, "base")})
	ours := tree(t, s, map[string]objfmt.TreeEntry{"file": blob(t, s, "ours")})
	theirs := tree(t, s, map[string]objfmt.TreeEntry{}) // deleted on their side

	result, err := MergeTrees(context.Background(), &Options{Store: s, BlobMerge: concatMerger}, base, ours, theirs)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "modify/delete", result.Conflicts[0].Reason)
	assert.True(t, result.Conflicts[0].HasOur)
	assert.False(t, result.Conflicts[0].HasHis)
}

func TestMergeTreesKeepsOurSubdirectoryChangeWhenTheirsUnchanged(t *testing.T) {
	s := newStore(t)
	sub := tree(t, s, map[string]objfmt.TreeEntry{"nested": blob(t, s, "x")})
	base := tree(t, s, map[string]objfmt.TreeEntry{"dir": {Mode: objfmt.ModeDir, Hash: sub}})

	newSub := tree(t, s, map[string]objfmt.TreeEntry{"nested": blob(t, s, "x"), "added": blob(t, s, "y")})
	ours := tree(t, s, map[string]objfmt.TreeEntry{"dir": {Mode: objfmt.ModeDir, Hash: newSub}})
	theirs := base

	result, err := MergeTrees(context.Background(), &Options{Store: s, BlobMerge: concatMerger}, base, ours, theirs)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)
	assert.True(t, result.Tree.Equal(ours))
}
