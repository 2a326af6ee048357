package revise

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/mystor/git-revise/internal/gitproc"
	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/merge"
	"github.com/mystor/git-revise/pkg/revise/rerere"
	"github.com/mystor/git-revise/pkg/revise/todo"
)

// Reviser walks a linear commit range and replays it according to a todo
// list, producing a new tip without ever mutating the original commits: a
// rewrite always builds new objects and only swaps the branch ref once the
// whole range has replayed cleanly.
type Reviser struct {
	Repo *Repository

	// Reauthor, when set, stamps every replayed commit with the current
	// user identity as author (not just committer), the way `revise
	// --reauthor` does.
	Reauthor bool
	// EditMessage is invoked for reword and squash steps to let the caller
	// open an editor on the message.
	EditMessage func(ctx context.Context, original string) (string, error)
	// ResolveConflict is invoked when a cherry-pick leaves conflicts that
	// neither the external merge driver nor rerere could clear; it gets a
	// chance to launch an interactive resolution (an editor on conflicted
	// files) and must return the resolved tree.
	ResolveConflict func(ctx context.Context, commit *objfmt.Commit, conflicts []merge.Conflict, conflictTree plumbing.Hash) (plumbing.Hash, error)

	// SignKey, when non-nil, detached-signs every replayed commit the way
	// commit.gpgSign does for a normal commit. NewReviser resolves it from
	// the repository's config automatically; callers only need to set this
	// directly to override that (e.g. to force signing off).
	SignKey *openpgp.Entity

	// OnStep, when set, is called after each step finishes successfully
	// with the steps still to run and the parent the next one will build
	// on; callers use this to persist resumable progress (see
	// pkg/revise/state.go) so a rewrite interrupted by a conflict can pick
	// up again with --continue/--skip instead of starting over.
	OnStep func(remaining []todo.Step, onto plumbing.Hash)

	// FinalIndexTree is set by Execute when the todo ends with a tail
	// "index" step: the tree that step named, which the caller writes back
	// to the VCS index via read-tree once the ref update succeeds. Zero
	// means no index step ran.
	FinalIndexTree plumbing.Hash

	blobMerge merge.BlobMerger
}

func NewReviser(repo *Repository) *Reviser {
	r := &Reviser{Repo: repo, blobMerge: merge.ExternalDriver(repo.VcsBinary)}
	if repo.GPGSign() {
		if key, err := repo.SigningKey(); err == nil {
			r.SignKey = key
		}
	}
	return r
}

// Range returns the commits strictly after `since` up to and including
// `until`, oldest first, as would be listed by walking first-parent links.
// A merge commit anywhere in the range is rejected: replaying it would
// require re-deciding how each of its parents merges, which is left to the
// user rather than guessed at silently.
func (r *Reviser) Range(since, until plumbing.Hash) ([]*objfmt.Commit, error) {
	var commits []*objfmt.Commit
	cur := until
	for !cur.Equal(since) {
		c, err := r.Repo.Store().GetCommit(cur)
		if err != nil {
			return nil, err
		}
		if len(c.Parents) > 1 {
			return nil, &ErrMergeInRange{Commit: c.Hash.String()}
		}
		commits = append(commits, c)
		if len(c.Parents) == 0 {
			if !since.IsZero() {
				return nil, fmt.Errorf("revise: %s is not an ancestor of %s", since, until)
			}
			break
		}
		cur = c.Parents[0]
	}
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// DefaultTodo builds the identity todo list for a commit range: one "pick"
// per commit, in order, optionally reordered by autosquash.
func (r *Reviser) DefaultTodo(commits []*objfmt.Commit, autosquash bool) ([]todo.Step, error) {
	steps := make([]todo.Step, len(commits))
	for i, c := range commits {
		steps[i] = todo.Step{Action: todo.Pick, OID: c.Hash, Subject: c.Subject()}
	}
	if !autosquash {
		return steps, nil
	}
	return todo.Autosquash(steps, r.Repo.Store().GetCommit)
}

// state threads through Execute: just the parent the next replayed commit
// builds on top of.
type state struct {
	parent plumbing.Hash
}

// Execute replays steps onto onto, returning the new tip. Nothing touches
// any ref; the caller flushes the object store and calls UpdateRef once
// this returns successfully.
//
// A tail "index" step (guaranteed by todo.Parse to be the last one, if
// present) emits no commit at all: its tree is recorded in
// r.FinalIndexTree for the caller to write back to the VCS index via
// read-tree once the ref update succeeds.
func (r *Reviser) Execute(ctx context.Context, steps []todo.Step, onto plumbing.Hash) (plumbing.Hash, error) {
	st := &state{parent: onto}
	var lastReal *objfmt.Commit
	// A resumed Execute call (via --continue/--skip) starts partway through
	// a fold chain: if the next step is a fixup/squash, it needs the commit
	// at onto as "the previous real commit" to fold into, exactly as if
	// this call had replayed every earlier step itself.
	if !onto.IsZero() {
		lastReal, _ = r.Repo.Store().GetCommit(onto)
	}

	for i, step := range steps {
		switch step.Action {
		case todo.Index:
			r.FinalIndexTree = step.OID
			continue
		case todo.Cut:
			// A cut step is handled exactly like pick: the commit is
			// replayed whole and is not split into two commits.
			fallthrough
		case todo.Pick, todo.Reword, todo.Fixup, todo.Squash:
			c, err := r.Repo.Store().GetCommit(step.OID)
			if err != nil {
				return plumbing.ZeroHash, &ErrTodoInvalid{Err: err}
			}

			mergedTree, err := r.mergeStep(ctx, st, step, c)
			if err != nil {
				return plumbing.ZeroHash, err
			}

			message := c.Message
			if step.Action == todo.Fixup {
				message = lastReal.Message
			} else if step.Action == todo.Squash {
				message = combineMessages(lastReal.Message, c.Message)
			}
			if (step.Action == todo.Reword || step.Action == todo.Squash) && r.EditMessage != nil {
				message, err = r.EditMessage(ctx, message)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				message = stripCommentLines(message, r.Repo.CommentChar())
			}

			isFoldedContinuation := step.Action == todo.Fixup || step.Action == todo.Squash
			origForHeaders := c
			if isFoldedContinuation {
				// A fold keeps replacing the same commit in place, so the
				// extra headers that survive are the ones already carried
				// by the commit being replaced, not the folded-in one.
				origForHeaders = lastReal
			}
			newCommit := r.buildCommit(origForHeaders, st.parent, mergedTree, message)

			if isFoldedContinuation {
				// Replace the previous commit in place: same parent, new
				// tree/message, so a chain of fixups collapses to one node.
				newCommit.Parents = lastReal.Parents
			}

			if r.SignKey != nil {
				signed, err := signCommit(newCommit, r.SignKey)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				newCommit = signed
			}

			oid, err := r.Repo.Store().Insert(newCommit)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			newCommit.Hash = oid
			st.parent = oid
			lastReal = newCommit
		default:
			return plumbing.ZeroHash, &ErrTodoInvalid{Err: fmt.Errorf("unsupported step action %v", step.Action)}
		}
		if r.OnStep != nil {
			r.OnStep(steps[i+1:], st.parent)
		}
	}
	return st.parent, nil
}

// mergeStep computes the tree the replayed commit should have. In the
// common case this is a three-way merge of the original commit's own
// change against the new parent: base = parent(c)'s tree, ours = the new
// parent's tree, theirs = c's tree.
//
// When step.IndexFold names a staged tree (the non-interactive default
// fold's way of splicing uncommitted changes into the target commit), the
// merge instead reconciles c's own original tree against that staged
// tree, both relative to c's own parent: base = parent(c)'s tree, ours =
// c's own tree, theirs = the staged tree. That yields exactly the
// "original commit plus the staged diff" result, independent of whatever
// the replay chain's running parent happens to be — unlike the common
// case, where ours comes from the running parent instead of from c.
func (r *Reviser) mergeStep(ctx context.Context, st *state, step todo.Step, c *objfmt.Commit) (plumbing.Hash, error) {
	var base plumbing.Hash
	if len(c.Parents) > 0 {
		parentCommit, err := r.Repo.Store().GetCommit(c.Parents[0])
		if err != nil {
			return plumbing.ZeroHash, err
		}
		base = parentCommit.Tree
	}

	var ours, theirs plumbing.Hash
	labelOurs, labelTheirs := "updated upstream", c.Subject()
	if !step.IndexFold.IsZero() {
		ours, theirs = c.Tree, step.IndexFold
		labelOurs, labelTheirs = c.Subject(), "staged changes"
	} else {
		theirs = c.Tree
		if !st.parent.IsZero() {
			parentCommit, err := r.Repo.Store().GetCommit(st.parent)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			ours = parentCommit.Tree
		}
	}

	result, err := merge.MergeTrees(ctx, &merge.Options{
		Store:       r.Repo.Store(),
		BlobMerge:   r.resolvingBlobMerge(ctx),
		LabelBase:   "merged common ancestors",
		LabelOurs:   labelOurs,
		LabelTheirs: labelTheirs,
	}, base, ours, theirs)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	if len(result.Conflicts) == 0 {
		return result.Tree, nil
	}
	if r.ResolveConflict != nil {
		return r.ResolveConflict(ctx, c, result.Conflicts, result.Tree)
	}
	var paths []string
	for _, cf := range result.Conflicts {
		paths = append(paths, cf.Path)
	}
	return plumbing.ZeroHash, &ErrUnresolvedConflict{Commit: c.Hash.String(), Paths: paths}
}

// stripCommentLines removes comment-char-prefixed lines from an edited
// message, the same way the editor round-trip does for every other
// message, so a squash's "# This is a combination of ..." scaffolding
// never survives into the final commit if the caller's EditMessage
// doesn't already strip it.
func stripCommentLines(message string, commentChar byte) string {
	stripped, err := gitproc.ReadMessage(strings.NewReader(message), commentChar)
	if err != nil {
		return message
	}
	return stripped
}

// resolvingBlobMerge wraps the configured driver with a rerere lookup: when
// the driver reports a conflict whose fingerprint was seen and resolved
// before, that recorded resolution replaces the conflicted result, so the
// user is not asked again.
func (r *Reviser) resolvingBlobMerge(ctx context.Context) merge.BlobMerger {
	return func(ctx context.Context, base, ours, theirs []byte, labelBase, labelOurs, labelTheirs string) ([]byte, bool, error) {
		merged, conflict, err := r.blobMerge(ctx, base, ours, theirs, labelBase, labelOurs, labelTheirs)
		if err != nil || !conflict {
			return merged, conflict, err
		}
		if !r.Repo.Rerere().Enabled() {
			return merged, conflict, nil
		}
		fp := rerere.Fingerprint(merged)
		if resolved, ok := r.Repo.Rerere().Lookup(fp); ok {
			return resolved, false, nil
		}
		return merged, conflict, nil
	}
}

func combineMessages(onto, fold string) string {
	ontoTrim := strings.TrimRight(onto, "\n")
	foldTrim := strings.TrimRight(fold, "\n")
	return ontoTrim + "\n\n# This is a combination of 2 commits.\n# The first commit's message is:\n" + ontoTrim +
		"\n\n# The commit message after fixup/squash is the one you see here; edit as\n# needed.\n\n" + foldTrim + "\n"
}

// buildCommit constructs the replayed commit object: same author identity
// as `orig` unless overridden, the given tree, new parent, new message,
// and a committer stamp taken at replay time. Extra headers (encoding,
// mergetag, ...) are carried over verbatim so untouched fields round-trip
// unchanged; --reauthor drops them along with the original author, since a
// reauthored commit is no longer "the same commit with a new parent" in the
// sense those headers were attached to. gpgsig is never copied here:
// signCommit strips and recomputes it afterward so the signature covers the
// new canonical form.
func (r *Reviser) buildCommit(orig *objfmt.Commit, parent, tree plumbing.Hash, message string) *objfmt.Commit {
	name, email := r.Repo.committerIdentity()
	committer := objfmt.Signature{Name: name, Email: email, When: time.Now()}

	author := orig.Author
	var extraHeaders []objfmt.ExtraHeader
	if r.Reauthor {
		author = objfmt.Signature{Name: name, Email: email, When: time.Now()}
	} else {
		for _, h := range orig.ExtraHeaders {
			if h.K == "gpgsig" {
				continue
			}
			extraHeaders = append(extraHeaders, h)
		}
	}

	var parents []plumbing.Hash
	if !parent.IsZero() {
		parents = []plumbing.Hash{parent}
	}

	return &objfmt.Commit{
		Tree:         tree,
		Parents:      parents,
		Author:       author,
		Committer:    committer,
		ExtraHeaders: extraHeaders,
		Message:      message,
	}
}
