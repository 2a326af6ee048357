package revise

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/todo"
)

// stateFile is the scratch-state record of an in-progress rewrite that
// stopped partway through (a conflict the interactive resolver couldn't
// clear, an aborted editor, a failed VCS invocation): everything Execute
// needs to pick back up is the parent the next step builds on and the
// steps still to run, so that is exactly what gets persisted. Mirrors the
// teacher's own RebaseMD scratch file (pkg/zeta/worktree_rebase.go), one
// TOML document under the zeta-dir instead of a directory of small files.
type stateFile struct {
	Ref         string      `toml:"ref"`
	ExpectedOld string      `toml:"expected_old"`
	Onto        string      `toml:"onto"`
	Reauthor    bool        `toml:"reauthor"`
	Steps       []stepState `toml:"step"`
}

type stepState struct {
	Action  string `toml:"action"`
	OID     string `toml:"oid"`
	Subject string `toml:"subject,omitempty"`
}

func statePath(repo *Repository) string {
	return filepath.Join(repo.GitDir, "revise", "REVISE-TODO.toml")
}

// HasInProgressRewrite reports whether a previous invocation left resumable
// state behind, the way `git rebase --continue` first checks for
// .git/rebase-merge before doing anything else.
func HasInProgressRewrite(repo *Repository) bool {
	_, err := os.Stat(statePath(repo))
	return err == nil
}

func saveState(repo *Repository, ref string, expectedOld, onto plumbing.Hash, reauthor bool, steps []todo.Step) error {
	path := statePath(repo)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	sf := stateFile{
		Ref:         ref,
		ExpectedOld: expectedOld.String(),
		Onto:        onto.String(),
		Reauthor:    reauthor,
	}
	for _, s := range steps {
		sf.Steps = append(sf.Steps, stepState{Action: s.Action.String(), OID: s.OID.String(), Subject: s.Subject})
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-revise-todo-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(sf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func clearState(repo *Repository) error {
	err := os.Remove(statePath(repo))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.RemoveAll(filepath.Dir(statePath(repo)))
}

// loadState reads back a previously saved rewrite, resolving each step's
// action/OID text the same way the todo parser does.
func loadState(repo *Repository) (*stateFile, []todo.Step, error) {
	path := statePath(repo)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var sf stateFile
	if _, err := toml.Decode(string(raw), &sf); err != nil {
		return nil, nil, fmt.Errorf("revise: corrupt %s: %w", path, err)
	}
	steps := make([]todo.Step, len(sf.Steps))
	for i, s := range sf.Steps {
		action, ok := todo.ParseAction(s.Action)
		if !ok {
			return nil, nil, fmt.Errorf("revise: %s: unknown step action %q", path, s.Action)
		}
		oid := plumbing.NewHash(s.OID)
		if oid.IsZero() && s.OID != "" {
			return nil, nil, fmt.Errorf("revise: %s: malformed oid %q", path, s.OID)
		}
		steps[i] = todo.Step{Action: action, OID: oid, Subject: s.Subject}
	}
	return &sf, steps, nil
}

// Continue resumes a rewrite previously interrupted mid-replay: it reloads
// the saved todo tail and parent, replays it exactly like a fresh
// RunCommand would, and atomically swaps the ref on success. There is
// nothing to resolve on the caller's side beyond what ResolveConflict
// already does during Execute; --continue exists for the case where the
// interruption was outside the engine's control (the user canceled the
// conflict editor, or a later VCS invocation failed) and the fix is to
// simply retry from where it stopped.
func Continue(ctx context.Context, repo *Repository) error {
	sf, steps, err := loadState(repo)
	if err != nil {
		return fmt.Errorf("revise: no rewrite in progress: %w", err)
	}
	if len(steps) == 0 {
		if err := clearState(repo); err != nil {
			return err
		}
		return nil
	}
	return resumeAndReplay(ctx, repo, sf, steps)
}

// Skip drops the step that stopped the rewrite (the first one in the saved
// tail) and resumes with the rest, the way `git rebase --skip` discards the
// commit that couldn't be applied.
func Skip(ctx context.Context, repo *Repository) error {
	sf, steps, err := loadState(repo)
	if err != nil {
		return fmt.Errorf("revise: no rewrite in progress: %w", err)
	}
	if len(steps) == 0 {
		return clearState(repo)
	}
	return resumeAndReplay(ctx, repo, sf, steps[1:])
}

// Abort discards the in-progress rewrite's saved state. Nothing else needs
// undoing: the engine never touches the target ref until the very last
// step succeeds, so an aborted rewrite leaves HEAD exactly where it was
// (only unreferenced loose objects and any rerere entries recorded along
// the way remain, matching spec.md §9's documented on-disk difference).
func Abort(repo *Repository) error {
	return clearState(repo)
}

func resumeAndReplay(ctx context.Context, repo *Repository, sf *stateFile, steps []todo.Step) error {
	onto := plumbing.NewHash(sf.Onto)
	expectedOld := plumbing.NewHash(sf.ExpectedOld)

	r := NewReviser(repo)
	r.Reauthor = sf.Reauthor
	r.ResolveConflict = resolveConflictsInteractively(repo)
	r.EditMessage = func(ctx context.Context, original string) (string, error) {
		return editMessageInteractively(repo, original)
	}
	wireResumeProgress(r, repo, sf)

	newTip, err := r.Execute(ctx, steps, onto)
	if err != nil {
		return err
	}
	if err := repo.Store().Flush(); err != nil {
		return err
	}
	if err := repo.UpdateRef(sf.Ref, expectedOld, newTip, "revise: rewrite"); err != nil {
		return err
	}
	if !r.FinalIndexTree.IsZero() {
		if err := writeIndexFromTree(ctx, repo, r.FinalIndexTree); err != nil {
			return err
		}
	}
	return clearState(repo)
}

func wireResumeProgress(r *Reviser, repo *Repository, sf *stateFile) {
	r.OnStep = func(remaining []todo.Step, onto plumbing.Hash) {
		if len(remaining) == 0 {
			return
		}
		_ = saveState(repo, sf.Ref, plumbing.NewHash(sf.ExpectedOld), onto, sf.Reauthor, remaining)
	}
}
