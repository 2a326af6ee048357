package revise

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/merge"
	"github.com/mystor/git-revise/pkg/revise/rerere"

	"github.com/mystor/git-revise/internal/gitproc"
)

// resolveConflictsInteractively builds the Reviser.ResolveConflict callback
// the CLI wires up: for each leftover conflict it tries rerere first, then
// falls back to a scratch-directory editor round-trip, and finally splices
// the resolved bytes back into the conflicted tree. It never touches the
// caller's working tree or index.
func resolveConflictsInteractively(repo *Repository) func(ctx context.Context, commit *objfmt.Commit, conflicts []merge.Conflict, conflictTree plumbing.Hash) (plumbing.Hash, error) {
	return func(ctx context.Context, commit *objfmt.Commit, conflicts []merge.Conflict, conflictTree plumbing.Hash) (plumbing.Hash, error) {
		scratch, err := os.MkdirTemp("", "revise-conflict-*")
		if err != nil {
			return plumbing.ZeroHash, err
		}
		defer os.RemoveAll(scratch)

		tree := conflictTree
		for _, cf := range conflicts {
			resolved, remove, err := resolveOneConflict(ctx, repo, scratch, commit, cf)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			mode := cf.Our.Mode
			if mode == 0 {
				mode = cf.His.Mode
			}
			var entry *objfmt.TreeEntry
			if !remove {
				oid, err := repo.Store().Insert(&objfmt.Blob{Contents: resolved})
				if err != nil {
					return plumbing.ZeroHash, err
				}
				entry = &objfmt.TreeEntry{Name: filepath.Base(cf.Path), Mode: mode, Hash: oid}
			}
			tree, err = setPath(repo.Store(), tree, splitPath(cf.Path), entry)
			if err != nil {
				return plumbing.ZeroHash, err
			}
		}
		return tree, nil
	}
}

// resolveOneConflict resolves a single conflicted path, returning its final
// bytes (and whether the path should be removed entirely, which a user
// signals by saving an empty file for a modify/delete conflict).
func resolveOneConflict(ctx context.Context, repo *Repository, scratch string, commit *objfmt.Commit, cf merge.Conflict) ([]byte, bool, error) {
	current, err := currentConflictBytes(repo, cf)
	if err != nil {
		return nil, false, err
	}

	if cf.Reason == "content" {
		fp := rerere.Fingerprint(current)
		if resolved, ok := repo.Rerere().Lookup(fp); ok {
			return resolved, false, nil
		}
		resolved, err := editScratchFile(ctx, repo, scratch, cf.Path, current)
		if err != nil {
			return nil, false, err
		}
		if rerere.StillConflicted(resolved) {
			return nil, false, &ErrUnresolvedConflict{Commit: commit.Hash.String(), Paths: []string{cf.Path}}
		}
		if repo.Rerere().Enabled() {
			_ = repo.Rerere().Record(fp, resolved)
		}
		return resolved, false, nil
	}

	// Path conflicts (modify/delete, file/directory, distinct modes): write
	// both sides out for comparison, seed the primary scratch file with
	// whichever side survived the tree merge, and let the user's edit of
	// that file stand as the resolution. An empty result removes the path.
	if cf.HasOur {
		if err := writeConflictSide(repo, scratch, cf.Path, "ours", cf.Our); err != nil {
			return nil, false, err
		}
	}
	if cf.HasHis {
		if err := writeConflictSide(repo, scratch, cf.Path, "theirs", cf.His); err != nil {
			return nil, false, err
		}
	}
	resolved, err := editScratchFile(ctx, repo, scratch, cf.Path, current)
	if err != nil {
		return nil, false, err
	}
	return resolved, len(resolved) == 0, nil
}

func currentConflictBytes(repo *Repository, cf merge.Conflict) ([]byte, error) {
	switch {
	case cf.HasOur:
		return blobBytesOrEmpty(repo, cf.Our)
	case cf.HasHis:
		return blobBytesOrEmpty(repo, cf.His)
	default:
		return nil, nil
	}
}

func blobBytesOrEmpty(repo *Repository, e objfmt.TreeEntry) ([]byte, error) {
	if e.Mode.IsDir() || e.Hash.IsZero() {
		return nil, nil
	}
	b, err := repo.Store().GetBlob(e.Hash)
	if err != nil {
		return nil, err
	}
	return b.Contents, nil
}

func writeConflictSide(repo *Repository, scratch, path, side string, e objfmt.TreeEntry) error {
	contents, err := blobBytesOrEmpty(repo, e)
	if err != nil {
		return err
	}
	sidePath := filepath.Join(scratch, filepath.FromSlash(path)+"~"+side)
	if err := os.MkdirAll(filepath.Dir(sidePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(sidePath, contents, 0o644)
}

// editScratchFile writes seed to a scratch file named after path, opens the
// configured editor on it, and returns the bytes read back.
func editScratchFile(ctx context.Context, repo *Repository, scratch, path string, seed []byte) ([]byte, error) {
	target := filepath.Join(scratch, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, seed, 0o644); err != nil {
		return nil, err
	}
	if err := gitproc.Launch(ctx, repo.EditorCommand(), target); err != nil {
		return nil, err
	}
	return os.ReadFile(target)
}

func splitPath(p string) []string {
	return strings.Split(p, "/")
}

// setPath returns a new tree identical to root except that the entry at
// the path named by segments is replaced (or, if entry is nil, removed),
// rebuilding every ancestor tree along the way and inserting each one into
// store so the caller only needs to remember the new root.
func setPath(store pathStore, root plumbing.Hash, segments []string, entry *objfmt.TreeEntry) (plumbing.Hash, error) {
	t, err := store.GetTree(root)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	name := segments[0]
	rest := segments[1:]

	var entries []objfmt.TreeEntry
	found := false
	for _, e := range t.Entries {
		if e.Name != name {
			entries = append(entries, e)
			continue
		}
		found = true
		if len(rest) == 0 {
			if entry != nil {
				entries = append(entries, *entry)
			}
			continue
		}
		childOid := e.Hash
		newChild, err := setPath(store, childOid, rest, entry)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, objfmt.TreeEntry{Name: name, Mode: objfmt.ModeDir, Hash: newChild})
	}
	if !found {
		if len(rest) == 0 {
			if entry != nil {
				entries = append(entries, *entry)
			}
		} else {
			newChild, err := setPath(store, plumbing.ZeroHash, rest, entry)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			entries = append(entries, objfmt.TreeEntry{Name: name, Mode: objfmt.ModeDir, Hash: newChild})
		}
	}

	return store.Insert(&objfmt.Tree{Entries: entries})
}

// pathStore is the narrow odb.Store surface setPath needs; declared
// separately so this file doesn't have to import odb just for the type name
// (it already reaches the concrete *odb.Store through Repository.Store()).
type pathStore interface {
	GetTree(plumbing.Hash) (*objfmt.Tree, error)
	Insert(objfmt.Object) (plumbing.Hash, error)
}
