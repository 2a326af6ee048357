package revise

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystor/git-revise/modules/plumbing"
)

// newFakeRepo lays out a minimal .git directory by hand (HEAD, refs/heads,
// config) so Repository.Open can be exercised without an actual VCS binary.
func newFakeRepo(t *testing.T, configBody string) *Repository {
	t.Helper()
	workDir := t.TempDir()
	gitDir := filepath.Join(workDir, ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	if configBody != "" {
		require.NoError(t, os.WriteFile(filepath.Join(gitDir, "config"), []byte(configBody), 0o644))
	}

	oid := plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "refs", "heads", "main"), []byte(oid.String()+"\n"), 0o644))

	t.Setenv("HOME", t.TempDir())
	repo, err := Open(workDir)
	require.NoError(t, err)
	return repo
}

func TestOpenDiscoversGitDirFromSubdirectory(t *testing.T) {
	repo := newFakeRepo(t, "")
	sub := filepath.Join(repo.WorkDir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	nested, err := Open(sub)
	require.NoError(t, err)
	assert.Equal(t, repo.GitDir, nested.GitDir)
	assert.Equal(t, repo.WorkDir, nested.WorkDir)
}

func TestHeadHashFollowsSymbolicRef(t *testing.T) {
	repo := newFakeRepo(t, "")
	oid, err := repo.HeadHash()
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", oid.String())
}

func TestCurrentBranchReportsSymbolicTarget(t *testing.T) {
	repo := newFakeRepo(t, "")
	target, ok, err := repo.CurrentBranch()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "refs/heads/main", target)
}

func TestResolveRefTriesShortNameVariants(t *testing.T) {
	repo := newFakeRepo(t, "")
	oid, ok := repo.ResolveRef("main")
	require.True(t, ok)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", oid.String())
}

func TestUpdateRefRejectsStaleExpectedValue(t *testing.T) {
	repo := newFakeRepo(t, "")
	wrongOld := plumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	newOid := plumbing.NewHash("cccccccccccccccccccccccccccccccccccccccc")

	err := repo.UpdateRef("refs/heads/main", wrongOld, newOid, "test")
	require.Error(t, err)
	assert.True(t, IsErrRefUpdateFailed(err))
}

func TestUpdateRefSucceedsAndAppendsReflog(t *testing.T) {
	repo := newFakeRepo(t, "")
	oldOid := plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	newOid := plumbing.NewHash("cccccccccccccccccccccccccccccccccccccccc")

	require.NoError(t, repo.UpdateRef("refs/heads/main", oldOid, newOid, "revise: test"))

	got, ok := repo.ResolveRef("refs/heads/main")
	require.True(t, ok)
	assert.True(t, got.Equal(newOid))

	reflog, err := os.ReadFile(filepath.Join(repo.GitDir, "logs", "refs", "heads", "main"))
	require.NoError(t, err)
	assert.Contains(t, string(reflog), "revise: test")
}

func TestCommentCharDefaultsAndHonorsConfig(t *testing.T) {
	repo := newFakeRepo(t, "[core]\n\tcommentchar = auto\n")
	assert.Equal(t, byte('#'), repo.CommentChar())

	repo2 := newFakeRepo(t, "[core]\n\tcommentchar = \";\"\n")
	assert.Equal(t, byte(';'), repo2.CommentChar())
}

func TestAutoSquashFallsBackToRebaseKey(t *testing.T) {
	repo := newFakeRepo(t, "[rebase]\n\tautosquash = true\n")
	assert.True(t, repo.AutoSquash())
}

func TestGPGSignReadsCommitConfig(t *testing.T) {
	repo := newFakeRepo(t, "[commit]\n\tgpgsign = true\n")
	assert.True(t, repo.GPGSign())
}

func TestRunCommitMsgHooksDefaultsOff(t *testing.T) {
	repo := newFakeRepo(t, "")
	assert.False(t, repo.RunCommitMsgHooks())
}

func TestCommitMsgHookNoHookIsNoOp(t *testing.T) {
	repo := newFakeRepo(t, "")
	out, err := repo.CommitMsgHook(context.Background(), "original message\n")
	require.NoError(t, err)
	assert.Equal(t, "original message\n", out)
}

func TestCommitMsgHookRunsExecutableHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook script requires a POSIX shell")
	}
	repo := newFakeRepo(t, "")
	hooksDir := filepath.Join(repo.GitDir, "hooks")
	require.NoError(t, os.MkdirAll(hooksDir, 0o755))
	hookPath := filepath.Join(hooksDir, "commit-msg")
	script := "#!/bin/sh\necho 'Signed-off-by: Test <test@example.com>' >> \"$1\"\n"
	require.NoError(t, os.WriteFile(hookPath, []byte(script), 0o755))

	out, err := repo.CommitMsgHook(context.Background(), "subject\n")
	require.NoError(t, err)
	assert.Contains(t, out, "subject")
	assert.Contains(t, out, "Signed-off-by: Test")
}
