package merge

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mystor/git-revise/internal/gitproc"
)

// ExternalDriver builds a BlobMerger backed by the VCS binary's own
// "merge-file" subcommand: three temp files, one invocation, conflict
// markers on a non-zero (but non-error) exit. This is the fast path; a
// rerere lookup or interactive editor only comes into play once MergeTrees
// has reported the path as a Conflict.
func ExternalDriver(vcsBinary string) BlobMerger {
	return func(ctx context.Context, base, ours, theirs []byte, labelBase, labelOurs, labelTheirs string) ([]byte, bool, error) {
		dir, err := os.MkdirTemp("", "revise-merge-file-*")
		if err != nil {
			return nil, false, err
		}
		defer os.RemoveAll(dir)

		oursPath := filepath.Join(dir, "ours")
		basePath := filepath.Join(dir, "base")
		theirsPath := filepath.Join(dir, "theirs")
		if err := os.WriteFile(oursPath, ours, 0o644); err != nil {
			return nil, false, err
		}
		if err := os.WriteFile(basePath, base, 0o644); err != nil {
			return nil, false, err
		}
		if err := os.WriteFile(theirsPath, theirs, 0o644); err != nil {
			return nil, false, err
		}

		args := []string{
			"merge-file", "-p",
			"-L", labelOurs, "-L", labelBase, "-L", labelTheirs,
			oursPath, basePath, theirsPath,
		}
		out, err := gitproc.Run(ctx, vcsBinary, args, nil)
		if err == nil {
			return out, false, nil
		}
		var vcsErr *gitproc.ErrVcsFailed
		if !asErrVcsFailed(err, &vcsErr) {
			return nil, false, err
		}
		// merge-file exits 1 with the conflicted content still on stdout
		// when there were conflicts, and only exits >1 on a real failure.
		if exitCode(vcsErr) > 1 {
			return nil, false, err
		}
		return out, true, nil
	}
}

func asErrVcsFailed(err error, target **gitproc.ErrVcsFailed) bool {
	e, ok := err.(*gitproc.ErrVcsFailed)
	if !ok {
		return false
	}
	*target = e
	return true
}

func exitCode(e *gitproc.ErrVcsFailed) int {
	type exitStatus interface{ ExitCode() int }
	if es, ok := e.Err.(exitStatus); ok {
		return es.ExitCode()
	}
	return 2
}
