package odb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), plumbing.SHA1)
}

func TestStoreInsertIsVisibleBeforeFlush(t *testing.T) {
	s := newTestStore(t)
	blob := &objfmt.Blob{Contents: []byte("hello")}

	oid, err := s.Insert(blob)
	require.NoError(t, err)
	assert.True(t, s.Exists(oid))

	got, err := s.Get(oid)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestStoreFlushPersistsToLooseAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, plumbing.SHA1)
	blob := &objfmt.Blob{Contents: []byte("persisted")}

	oid, err := s.Insert(blob)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	fresh := NewStore(dir, plumbing.SHA1)
	got, err := fresh.Get(oid)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestStoreInsertDeduplicatesIdenticalContent(t *testing.T) {
	s := newTestStore(t)
	oid1, err := s.Insert(&objfmt.Blob{Contents: []byte("same")})
	require.NoError(t, err)
	oid2, err := s.Insert(&objfmt.Blob{Contents: []byte("same")})
	require.NoError(t, err)
	assert.True(t, oid1.Equal(oid2))
}

func TestStoreGetMissingObject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	require.Error(t, err)
	assert.True(t, IsErrMissingObject(err))
}

func TestStoreGetAbbrevResolvesUniquePrefix(t *testing.T) {
	s := newTestStore(t)
	oid, err := s.Insert(&objfmt.Blob{Contents: []byte("abbrev-me")})
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	resolved, err := s.GetAbbrev(oid.String()[:8])
	require.NoError(t, err)
	assert.True(t, resolved.Equal(oid))
}

func TestStoreGetAbbrevUnmatchedPrefix(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAbbrev("deadbeef")
	require.Error(t, err)
	assert.True(t, IsErrMissingObject(err))
}
