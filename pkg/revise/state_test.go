package revise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/todo"
)

func TestHasInProgressRewriteReflectsStateFile(t *testing.T) {
	repo := newFakeRepo(t, "")
	assert.False(t, HasInProgressRewrite(repo))

	ref := "refs/heads/main"
	onto := plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	old := plumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	steps := []todo.Step{{Action: todo.Pick, OID: plumbing.NewHash("cccccccccccccccccccccccccccccccccccccccc"), Subject: "subject"}}

	require.NoError(t, saveState(repo, ref, old, onto, true, steps))
	assert.True(t, HasInProgressRewrite(repo))

	sf, loaded, err := loadState(repo)
	require.NoError(t, err)
	assert.Equal(t, ref, sf.Ref)
	assert.Equal(t, old.String(), sf.ExpectedOld)
	assert.Equal(t, onto.String(), sf.Onto)
	assert.True(t, sf.Reauthor)
	require.Len(t, loaded, 1)
	assert.Equal(t, todo.Pick, loaded[0].Action)
	assert.True(t, loaded[0].OID.Equal(steps[0].OID))
	assert.Equal(t, "subject", loaded[0].Subject)

	require.NoError(t, clearState(repo))
	assert.False(t, HasInProgressRewrite(repo))
}

func TestAbortClearsStateWithoutTouchingRefs(t *testing.T) {
	repo := newFakeRepo(t, "")
	require.NoError(t, saveState(repo, "refs/heads/main", plumbing.ZeroHash, plumbing.ZeroHash, false, nil))
	require.True(t, HasInProgressRewrite(repo))

	require.NoError(t, Abort(repo))
	assert.False(t, HasInProgressRewrite(repo))

	oid, ok := repo.ResolveRef("refs/heads/main")
	require.True(t, ok)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", oid.String())
}

func TestContinueWithNoSavedStateFails(t *testing.T) {
	repo := newFakeRepo(t, "")
	err := Continue(nil, repo)
	require.Error(t, err)
}

func TestSkipWithNoSavedStateFails(t *testing.T) {
	repo := newFakeRepo(t, "")
	err := Skip(nil, repo)
	require.Error(t, err)
}
