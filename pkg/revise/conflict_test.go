package revise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/merge"
)

func TestSplitPathSplitsOnSlash(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitPath("a/b/c"))
	assert.Equal(t, []string{"file"}, splitPath("file"))
}

func TestSetPathReplacesEntryInNestedTree(t *testing.T) {
	repo := newFakeRepo(t, "")
	store := repo.Store()

	leafOid, err := store.Insert(&objfmt.Blob{Contents: []byte("old")})
	require.NoError(t, err)
	innerOid, err := store.Insert(&objfmt.Tree{Entries: []objfmt.TreeEntry{{Name: "file", Mode: objfmt.ModeRegular, Hash: leafOid}}})
	require.NoError(t, err)
	rootOid, err := store.Insert(&objfmt.Tree{Entries: []objfmt.TreeEntry{{Name: "dir", Mode: objfmt.ModeDir, Hash: innerOid}}})
	require.NoError(t, err)

	newLeaf, err := store.Insert(&objfmt.Blob{Contents: []byte("new")})
	require.NoError(t, err)
	newEntry := &objfmt.TreeEntry{Name: "file", Mode: objfmt.ModeRegular, Hash: newLeaf}

	newRoot, err := setPath(store, rootOid, splitPath("dir/file"), newEntry)
	require.NoError(t, err)

	tree, err := store.GetTree(newRoot)
	require.NoError(t, err)
	dirEntry, ok := tree.Find("dir")
	require.True(t, ok)

	inner, err := store.GetTree(dirEntry.Hash)
	require.NoError(t, err)
	fileEntry, ok := inner.Find("file")
	require.True(t, ok)

	blob, err := store.GetBlob(fileEntry.Hash)
	require.NoError(t, err)
	assert.Equal(t, "new", string(blob.Contents))
}

func TestSetPathRemovesEntryWhenNil(t *testing.T) {
	repo := newFakeRepo(t, "")
	store := repo.Store()

	leafOid, err := store.Insert(&objfmt.Blob{Contents: []byte("keep")})
	require.NoError(t, err)
	otherOid, err := store.Insert(&objfmt.Blob{Contents: []byte("drop")})
	require.NoError(t, err)
	rootOid, err := store.Insert(&objfmt.Tree{Entries: []objfmt.TreeEntry{
		{Name: "keep", Mode: objfmt.ModeRegular, Hash: leafOid},
		{Name: "drop", Mode: objfmt.ModeRegular, Hash: otherOid},
	}})
	require.NoError(t, err)

	newRoot, err := setPath(store, rootOid, splitPath("drop"), nil)
	require.NoError(t, err)

	tree, err := store.GetTree(newRoot)
	require.NoError(t, err)
	_, ok := tree.Find("drop")
	assert.False(t, ok)
	_, ok = tree.Find("keep")
	assert.True(t, ok)
}

func TestSetPathCreatesMissingIntermediateDirectories(t *testing.T) {
	repo := newFakeRepo(t, "")
	store := repo.Store()

	emptyRoot, err := store.Insert(&objfmt.Tree{})
	require.NoError(t, err)

	leafOid, err := store.Insert(&objfmt.Blob{Contents: []byte("content")})
	require.NoError(t, err)
	entry := &objfmt.TreeEntry{Name: "file", Mode: objfmt.ModeRegular, Hash: leafOid}

	newRoot, err := setPath(store, emptyRoot, splitPath("a/b/file"), entry)
	require.NoError(t, err)

	tree, err := store.GetTree(newRoot)
	require.NoError(t, err)
	aEntry, ok := tree.Find("a")
	require.True(t, ok)
	assert.True(t, aEntry.Mode.IsDir())

	bTree, err := store.GetTree(aEntry.Hash)
	require.NoError(t, err)
	bEntry, ok := bTree.Find("b")
	require.True(t, ok)

	fileTree, err := store.GetTree(bEntry.Hash)
	require.NoError(t, err)
	fileEntry, ok := fileTree.Find("file")
	require.True(t, ok)
	assert.True(t, fileEntry.Hash.Equal(leafOid))
}

func TestBlobBytesOrEmptyHandlesZeroAndDirEntries(t *testing.T) {
	repo := newFakeRepo(t, "")

	b, err := blobBytesOrEmpty(repo, objfmt.TreeEntry{})
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = blobBytesOrEmpty(repo, objfmt.TreeEntry{Mode: objfmt.ModeDir, Hash: plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")})
	require.NoError(t, err)
	assert.Nil(t, b)

	oid, err := repo.Store().Insert(&objfmt.Blob{Contents: []byte("hi")})
	require.NoError(t, err)
	b, err = blobBytesOrEmpty(repo, objfmt.TreeEntry{Mode: objfmt.ModeRegular, Hash: oid})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))
}

func TestCurrentConflictBytesPrefersOurSide(t *testing.T) {
	repo := newFakeRepo(t, "")
	ourOid, err := repo.Store().Insert(&objfmt.Blob{Contents: []byte("ours")})
	require.NoError(t, err)
	theirOid, err := repo.Store().Insert(&objfmt.Blob{Contents: []byte("theirs")})
	require.NoError(t, err)

	b, err := currentConflictBytes(repo, merge.Conflict{
		HasOur: true, Our: objfmt.TreeEntry{Mode: objfmt.ModeRegular, Hash: ourOid},
		HasHis: true, His: objfmt.TreeEntry{Mode: objfmt.ModeRegular, Hash: theirOid},
	})
	require.NoError(t, err)
	assert.Equal(t, "ours", string(b))

	b, err = currentConflictBytes(repo, merge.Conflict{
		HasHis: true, His: objfmt.TreeEntry{Mode: objfmt.ModeRegular, Hash: theirOid},
	})
	require.NoError(t, err)
	assert.Equal(t, "theirs", string(b))
}
