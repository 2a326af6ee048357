package revise

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mystor/git-revise/internal/gitproc"
	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/todo"
)

// CommandOptions mirrors the flags of the single `revise` entry point.
type CommandOptions struct {
	All          bool
	Patch        bool
	NoIndex      bool
	Reauthor     bool
	Ref          string
	Interactive  bool
	Autosquash   bool
	NoAutosquash bool
	Cut          bool
	Edit         bool
	Messages     []string
	Target       string

	// Continue, Abort and Skip resume, discard, or step past a rewrite
	// that a previous invocation left interrupted (see pkg/revise/state.go).
	// They are mutually exclusive with every other flag and with Target.
	Continue bool
	Abort    bool
	Skip     bool
}

// ErrRewriteInProgress is returned when a fresh rewrite is requested while
// a previous one is still interrupted; the caller must run --continue,
// --skip or --abort first, the same gate `git rebase` applies.
type ErrRewriteInProgress struct{}

func (ErrRewriteInProgress) Error() string {
	return "a revise is already in progress; run with --continue, --skip, or --abort"
}

func IsErrRewriteInProgress(err error) bool {
	_, ok := err.(ErrRewriteInProgress)
	return ok
}

func IsUserAbort(err error) bool {
	return err == gitproc.ErrUserAbort
}

func IsVcsFailed(err error) bool {
	_, ok := err.(*gitproc.ErrVcsFailed)
	return ok
}

// RunCommand executes one invocation of revise end to end: resolve the
// target range, build (or let the user edit) the todo list, replay it, and
// atomically swap the ref, all guarded by a compare-and-swap so a branch
// that moved out from under the rewrite is detected rather than clobbered.
func RunCommand(ctx context.Context, repo *Repository, opts *CommandOptions) error {
	switch {
	case opts.Continue:
		return Continue(ctx, repo)
	case opts.Skip:
		return Skip(ctx, repo)
	case opts.Abort:
		return Abort(repo)
	}

	if HasInProgressRewrite(repo) {
		return ErrRewriteInProgress{}
	}

	tipOid, err := repo.Store().ResolveRevision(opts.Ref, repo)
	if err != nil {
		return &ErrBadTarget{Expr: opts.Ref, Err: err}
	}

	if opts.Interactive {
		return runInteractive(ctx, repo, opts, tipOid)
	}
	return runSingle(ctx, repo, opts, tipOid)
}

// ErrBadTarget wraps a revision expression the repository couldn't
// resolve, whether that's the ref being rewritten or the commit named on
// the command line.
type ErrBadTarget struct {
	Expr string
	Err  error
}

func (e *ErrBadTarget) Error() string { return fmt.Sprintf("%s: %v", e.Expr, e.Err) }
func (e *ErrBadTarget) Unwrap() error { return e.Err }

// runSingle implements the non-interactive default: rewrite exactly the
// named target commit (defaulting to HEAD), folding in the current index
// unless --no-index was given, then replay every later commit unchanged on
// top of it.
func runSingle(ctx context.Context, repo *Repository, opts *CommandOptions, tipOid plumbing.Hash) error {
	targetExpr := opts.Target
	if targetExpr == "" {
		targetExpr = "HEAD"
	}
	target, err := repo.Store().ResolveRevision(targetExpr, repo)
	if err != nil {
		return &ErrBadTarget{Expr: targetExpr, Err: err}
	}
	targetCommit, err := repo.Store().GetCommit(target)
	if err != nil {
		return err
	}
	var since plumbing.Hash
	if len(targetCommit.Parents) > 0 {
		since = targetCommit.Parents[0]
	}

	r := NewReviser(repo)
	r.Reauthor = opts.Reauthor
	r.ResolveConflict = resolveConflictsInteractively(repo)

	commits, err := r.Range(since, tipOid)
	if err != nil {
		return err
	}

	steps, err := r.DefaultTodo(commits, wantAutosquash(repo, opts))
	if err != nil {
		return err
	}

	if err := stageWorkingTree(ctx, repo, opts); err != nil {
		return err
	}

	if !opts.NoIndex {
		indexTree, ok, err := writeIndexTree(ctx, repo)
		if err != nil {
			return err
		}
		if ok && !indexTree.Equal(targetCommit.Tree) {
			steps = applyIndexFold(steps, target, indexTree)
		}
	}

	message, err := resolveMessage(ctx, repo, opts, targetCommit.Message)
	if err != nil {
		return err
	}
	if message != "" {
		steps = markReword(steps, target)
		r.EditMessage = func(context.Context, string) (string, error) { return message, nil }
	} else if opts.Edit {
		steps = markReword(steps, target)
		r.EditMessage = func(ctx context.Context, original string) (string, error) {
			return editMessageInteractively(repo, original)
		}
	}

	return replayAndUpdate(ctx, repo, r, steps, since, opts.Ref, tipOid)
}

func runInteractive(ctx context.Context, repo *Repository, opts *CommandOptions, tipOid plumbing.Hash) error {
	targetExpr := opts.Target
	if targetExpr == "" {
		targetExpr = "HEAD~1"
	}
	since, err := repo.Store().ResolveRevision(targetExpr, repo)
	if err != nil {
		return &ErrBadTarget{Expr: targetExpr, Err: err}
	}

	r := NewReviser(repo)
	r.Reauthor = opts.Reauthor
	r.EditMessage = func(ctx context.Context, original string) (string, error) {
		return editMessageInteractively(repo, original)
	}
	r.ResolveConflict = resolveConflictsInteractively(repo)

	commits, err := r.Range(since, tipOid)
	if err != nil {
		return err
	}
	steps, err := r.DefaultTodo(commits, wantAutosquash(repo, opts))
	if err != nil {
		return err
	}

	edited, err := editTodoInteractively(repo, steps)
	if err != nil {
		return err
	}

	return replayAndUpdate(ctx, repo, r, edited, since, opts.Ref, tipOid)
}

func wantAutosquash(repo *Repository, opts *CommandOptions) bool {
	if opts.NoAutosquash {
		return false
	}
	return opts.Autosquash || repo.AutoSquash()
}

// replayAndUpdate runs the replay loop and, on success, flushes and swaps
// the ref. Progress is checkpointed to scratch state after every step so
// that a failure partway through (a conflict the resolver gave up on, a
// canceled editor, a failed VCS call) can be retried with `revise
// --continue` or dropped with `revise --skip` instead of losing the whole
// rewrite; a clean finish removes that state again.
func replayAndUpdate(ctx context.Context, repo *Repository, r *Reviser, steps []todo.Step, since plumbing.Hash, ref string, expectedOld plumbing.Hash) error {
	if err := saveState(repo, ref, expectedOld, since, r.Reauthor, steps); err != nil {
		return err
	}
	r.OnStep = func(remaining []todo.Step, onto plumbing.Hash) {
		if len(remaining) == 0 {
			return
		}
		_ = saveState(repo, ref, expectedOld, onto, r.Reauthor, remaining)
	}

	newTip, err := r.Execute(ctx, steps, since)
	if err != nil {
		return err
	}
	if err := repo.Store().Flush(); err != nil {
		return err
	}
	if err := repo.UpdateRef(ref, expectedOld, newTip, "revise: rewrite"); err != nil {
		return err
	}
	if !r.FinalIndexTree.IsZero() {
		if err := writeIndexFromTree(ctx, repo, r.FinalIndexTree); err != nil {
			return err
		}
	}
	return clearState(repo)
}

// applyIndexFold marks the target pick so its merge folds indexTree into
// the commit directly (see Reviser.mergeStep), rather than inserting a
// separate todo step: the non-interactive default's index fold is a
// property of the target's own merge, not the tail-only "leave this tree
// staged" todo command interactive mode exposes.
func applyIndexFold(steps []todo.Step, target, indexTree plumbing.Hash) []todo.Step {
	for i := range steps {
		if steps[i].OID.Equal(target) && steps[i].Action == todo.Pick {
			steps[i].IndexFold = indexTree
			break
		}
	}
	return steps
}

// writeIndexFromTree populates the VCS index from tree via read-tree,
// the counterpart to writeIndexTree's write-tree: used both for the
// "index" todo command's tail tree and any future caller that needs to
// hand a computed tree back to the on-disk staging area.
func writeIndexFromTree(ctx context.Context, repo *Repository, tree plumbing.Hash) error {
	_, err := repo.RunVcs(ctx, []string{"read-tree", tree.String()})
	return err
}

func markReword(steps []todo.Step, target plumbing.Hash) []todo.Step {
	for i := range steps {
		if steps[i].OID.Equal(target) && steps[i].Action == todo.Pick {
			steps[i].Action = todo.Reword
		}
	}
	return steps
}

func resolveMessage(ctx context.Context, repo *Repository, opts *CommandOptions, fallback string) (string, error) {
	if len(opts.Messages) == 0 {
		return "", nil
	}
	message := strings.Join(opts.Messages, "\n\n") + "\n"
	return runCommitMsgHookIfEnabled(repo, message)
}

// stageWorkingTree applies --all/--patch by delegating to the VCS binary's
// own index-staging commands before the index tree is captured; revise
// never reimplements the working-tree diff/patch machinery itself.
func stageWorkingTree(ctx context.Context, repo *Repository, opts *CommandOptions) error {
	if opts.Patch {
		return repo.runInteractiveVcs(ctx, []string{"add", "--patch"})
	}
	if opts.All {
		_, err := repo.RunVcs(ctx, []string{"add", "--update"})
		return err
	}
	return nil
}

// writeIndexTree captures the current index as a tree object via the VCS
// binary's write-tree, the same trick git-revise's own implementation uses
// to fold staged changes into an arbitrary ancestor commit. ok is true
// whenever write-tree succeeds; comparing the tree against the target
// commit's original tree is left to the caller.
func writeIndexTree(ctx context.Context, repo *Repository) (plumbing.Hash, bool, error) {
	out, err := repo.RunVcs(ctx, []string{"write-tree"})
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	hex := strings.TrimSpace(string(out))
	if !plumbing.ValidateHashHex(hex) {
		return plumbing.ZeroHash, false, fmt.Errorf("revise: write-tree returned malformed id %q", hex)
	}
	return plumbing.NewHash(hex), true, nil
}

func (r *Repository) runInteractiveVcs(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.VcsBinary, args...)
	cmd.Dir = r.WorkDir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return &gitproc.ErrVcsFailed{Cmd: r.VcsBinary, Args: args, Err: err}
	}
	return nil
}

// editMessageInteractively writes original to a temp file, opens the
// configured editor on it, and reads back the trimmed, comment-stripped
// result.
func editMessageInteractively(repo *Repository, original string) (string, error) {
	f, err := os.CreateTemp("", "revise-message-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	defer os.Remove(path)

	commentChar := repo.CommentChar()
	if _, err := f.WriteString(original); err != nil {
		f.Close()
		return "", err
	}
	fmt.Fprintf(f, "%c Please enter the commit message for your changes. Lines starting\n%c with '%c' will be ignored.\n", commentChar, commentChar, commentChar)
	if err := f.Close(); err != nil {
		return "", err
	}

	if err := gitproc.Launch(context.Background(), repo.EditorCommand(), path); err != nil {
		return "", err
	}
	message, err := gitproc.ReadMessageFile(path, commentChar)
	if err != nil {
		return "", err
	}
	return runCommitMsgHookIfEnabled(repo, message)
}

// runCommitMsgHookIfEnabled applies .git/hooks/commit-msg to an edited
// message when revise.run-hooks.commit-msg opts in, matching a normal
// commit's hook contract: the hook may rewrite the message in place, and a
// non-zero exit aborts the edit the same way an editor cancel would.
func runCommitMsgHookIfEnabled(repo *Repository, message string) (string, error) {
	if !repo.RunCommitMsgHooks() {
		return message, nil
	}
	out, err := repo.CommitMsgHook(context.Background(), message)
	if err != nil {
		return "", err
	}
	return out, nil
}

// editTodoInteractively writes the rendered todo list, opens the editor,
// and parses the result back, resolving each token against the object
// store so a typo or truncated abbreviation surfaces as ErrTodoInvalid.
func editTodoInteractively(repo *Repository, steps []todo.Step) ([]todo.Step, error) {
	f, err := os.CreateTemp("", "revise-todo-*")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	defer os.Remove(path)

	commentChar := repo.CommentChar()
	if _, err := f.WriteString(todo.Render(steps, commentChar)); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	if err := gitproc.Launch(context.Background(), repo.EditorCommand(), path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	resolve := func(token string) (plumbing.Hash, error) {
		return repo.Store().ResolveRevision(token, repo)
	}
	edited, err := todo.Parse(string(raw), resolve)
	if err != nil {
		return nil, &ErrTodoInvalid{Err: err}
	}
	if len(edited) == 0 {
		return nil, gitproc.ErrUserAbort
	}
	return edited, nil
}
