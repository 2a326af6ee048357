package odb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
)

type fakeRefs struct {
	head plumbing.Hash
	refs map[string]plumbing.Hash
}

func (f *fakeRefs) HeadHash() (plumbing.Hash, error) { return f.head, nil }
func (f *fakeRefs) ResolveRef(name string) (plumbing.Hash, bool) {
	oid, ok := f.refs[name]
	return oid, ok
}

// buildChain inserts a linear chain of n commits, each an empty tree, and
// returns their OIDs oldest-first.
func buildChain(t *testing.T, s *Store, n int) []plumbing.Hash {
	t.Helper()
	emptyTree, err := s.Insert(&objfmt.Tree{})
	require.NoError(t, err)

	var parent plumbing.Hash
	var chain []plumbing.Hash
	for i := 0; i < n; i++ {
		c := &objfmt.Commit{Tree: emptyTree, Message: "commit\n"}
		if !parent.IsZero() {
			c.Parents = []plumbing.Hash{parent}
		}
		oid, err := s.Insert(c)
		require.NoError(t, err)
		chain = append(chain, oid)
		parent = oid
	}
	return chain
}

func TestResolveRevisionHeadAndRefs(t *testing.T) {
	s := newTestStore(t)
	chain := buildChain(t, s, 2)
	refs := &fakeRefs{head: chain[1], refs: map[string]plumbing.Hash{"refs/heads/main": chain[0]}}

	got, err := s.ResolveRevision("HEAD", refs)
	require.NoError(t, err)
	assert.True(t, got.Equal(chain[1]))

	got, err = s.ResolveRevision("refs/heads/main", refs)
	require.NoError(t, err)
	assert.True(t, got.Equal(chain[0]))
}

func TestResolveRevisionCaretAndTilde(t *testing.T) {
	s := newTestStore(t)
	chain := buildChain(t, s, 3)
	refs := &fakeRefs{head: chain[2]}

	got, err := s.ResolveRevision("HEAD^", refs)
	require.NoError(t, err)
	assert.True(t, got.Equal(chain[1]))

	got, err = s.ResolveRevision("HEAD~2", refs)
	require.NoError(t, err)
	assert.True(t, got.Equal(chain[0]))

	got, err = s.ResolveRevision("HEAD^1", refs)
	require.NoError(t, err)
	assert.True(t, got.Equal(chain[1]))
}

func TestResolveRevisionRejectsMissingParent(t *testing.T) {
	s := newTestStore(t)
	chain := buildChain(t, s, 1)
	refs := &fakeRefs{head: chain[0]}

	_, err := s.ResolveRevision("HEAD^", refs)
	require.Error(t, err)
	assert.True(t, IsErrBadRevision(err))
}

func TestIsAncestorAndMergeBase(t *testing.T) {
	s := newTestStore(t)
	chain := buildChain(t, s, 4)

	ok, err := s.IsAncestor(chain[0], chain[3])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsAncestor(chain[3], chain[0])
	require.NoError(t, err)
	assert.False(t, ok)

	base, err := s.MergeBase(chain[1], chain[3])
	require.NoError(t, err)
	assert.True(t, base.Equal(chain[1]))
}

func TestGetTreeAndGetBlobTypeCheck(t *testing.T) {
	s := newTestStore(t)
	blobOid, err := s.Insert(&objfmt.Blob{Contents: []byte("x")})
	require.NoError(t, err)

	_, err = s.GetTree(blobOid)
	require.Error(t, err)
	assert.True(t, IsErrBadRevision(err))

	_, err = s.GetBlob(blobOid)
	require.NoError(t, err)

	emptyTree, err := s.GetTree(plumbing.ZeroHash)
	require.NoError(t, err)
	assert.Empty(t, emptyTree.Entries)
}
