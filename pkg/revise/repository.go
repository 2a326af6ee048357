// Package revise is the rewrite engine itself: the repository handle that
// knows how to read and atomically update refs and config, and the
// Reviser that walks a commit range and replays it onto a new history
// built from a todo list.
package revise

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mystor/git-revise/internal/gitcfg"
	"github.com/mystor/git-revise/internal/gitproc"
	"github.com/mystor/git-revise/modules/plumbing"
	"github.com/mystor/git-revise/pkg/revise/odb"
	"github.com/mystor/git-revise/pkg/revise/rerere"
)

// Repository is a handle onto one VCS directory: ref storage, config, the
// object cache, and the external collaborators (VCS binary, editor,
// rerere) the rewrite engine needs along the way.
type Repository struct {
	GitDir    string
	WorkDir   string
	VcsBinary string

	algo   plumbing.HashAlgo
	cfg    *gitcfg.Config
	store  *odb.Store
	rerere *rerere.Store
}

// Open locates the VCS directory containing (or above) dir and opens it.
func Open(dir string) (*Repository, error) {
	gitDir, workDir, err := discoverGitDir(dir)
	if err != nil {
		return nil, err
	}
	cfg := gitcfg.New()
	for _, p := range []string{
		filepath.Join(os.Getenv("HOME"), ".gitconfig"),
		filepath.Join(gitDir, "config"),
	} {
		if f, err := os.Open(p); err == nil {
			_ = cfg.Parse(f)
			f.Close()
		}
	}

	algo := plumbing.SHA1
	if v, ok := cfg.String("extensions.objectformat"); ok && strings.EqualFold(v, "blake3") {
		algo = plumbing.BLAKE3
	}

	vcsBinary := "git"
	if v, ok := os.LookupEnv("REVISE_VCS_BINARY"); ok && v != "" {
		vcsBinary = v
	}

	r := &Repository{
		GitDir:    gitDir,
		WorkDir:   workDir,
		VcsBinary: vcsBinary,
		algo:      algo,
		cfg:       cfg,
		store:     odb.NewStore(filepath.Join(gitDir, "objects"), algo),
	}
	r.rerere = rerere.New(filepath.Join(gitDir, "rr-cache"), cfg.Bool("rerere.enabled", false))
	return r, nil
}

// discoverGitDir walks upward from dir looking for a ".git" entry, the way
// every VCS binary locates the repository a working-directory command
// should operate on. A ".git" file (as used by worktrees and submodules)
// is followed via its "gitdir: <path>" pointer.
func discoverGitDir(dir string) (gitDir, workDir string, err error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	cur := abs
	for {
		candidate := filepath.Join(cur, ".git")
		info, statErr := os.Stat(candidate)
		if statErr == nil {
			if info.IsDir() {
				return candidate, cur, nil
			}
			raw, readErr := os.ReadFile(candidate)
			if readErr == nil {
				if rest, ok := strings.CutPrefix(strings.TrimSpace(string(raw)), "gitdir: "); ok {
					target := rest
					if !filepath.IsAbs(target) {
						target = filepath.Join(cur, target)
					}
					return target, cur, nil
				}
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", "", fmt.Errorf("revise: no git directory found above %s", abs)
		}
		cur = parent
	}
}

func (r *Repository) Algo() plumbing.HashAlgo { return r.algo }
func (r *Repository) Store() *odb.Store       { return r.store }
func (r *Repository) Rerere() *rerere.Store    { return r.rerere }
func (r *Repository) Config() *gitcfg.Config   { return r.cfg }

// AutoSquash reports whether interactive rewrites should reorder fixup!/
// squash! commits automatically by default, honoring revise.autoSquash
// with a fallback to rebase.autoSquash the way git-revise mirrors rebase's
// own setting.
func (r *Repository) AutoSquash() bool {
	return r.cfg.Bool("revise.autosquash", false, "rebase.autosquash")
}

func (r *Repository) GPGSign() bool {
	return r.cfg.Bool("commit.gpgsign", false)
}

func (r *Repository) RerereAutoUpdate() bool {
	return r.cfg.Bool("rerere.autoupdate", false)
}

// CommentChar resolves core.commentChar, including the "auto" mode that
// falls back to the default '#' (a full implementation would pick a byte
// absent from the message being edited; git-revise's todo/commit text never
// legitimately contains '#' at line start outside of its own comments, so
// "auto" and the unset default collapse to the same behavior here).
func (r *Repository) CommentChar() byte {
	v, ok := r.cfg.String("core.commentchar")
	if !ok || v == "" || strings.EqualFold(v, "auto") {
		return '#'
	}
	return v[0]
}

func (r *Repository) EditorCommand() string {
	if v, ok := r.cfg.String("sequence.editor"); ok && v != "" {
		return v
	}
	if v, ok := r.cfg.String("core.editor"); ok && v != "" {
		return v
	}
	return ""
}

// HeadHash resolves HEAD to a commit id, following exactly one level of
// symbolic indirection (HEAD -> refs/heads/<branch> -> oid); a detached
// HEAD holds the oid directly.
func (r *Repository) HeadHash() (plumbing.Hash, error) {
	ref, err := r.readRefFile(filepath.Join(r.GitDir, "HEAD"))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if target, ok := symbolicTarget(ref); ok {
		oid, ok := r.ResolveRef(target)
		if !ok {
			return plumbing.ZeroHash, fmt.Errorf("revise: HEAD points at unborn ref %s", target)
		}
		return oid, nil
	}
	if !plumbing.ValidateHashHex(ref) {
		return plumbing.ZeroHash, fmt.Errorf("revise: malformed HEAD")
	}
	return plumbing.NewHash(ref), nil
}

// CurrentBranch returns the full ref name HEAD points at, or ok=false for a
// detached HEAD.
func (r *Repository) CurrentBranch() (string, bool, error) {
	ref, err := r.readRefFile(filepath.Join(r.GitDir, "HEAD"))
	if err != nil {
		return "", false, err
	}
	target, ok := symbolicTarget(ref)
	return target, ok, nil
}

func symbolicTarget(content string) (string, bool) {
	rest, ok := strings.CutPrefix(content, "ref: ")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func (r *Repository) readRefFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// ResolveRef resolves a ref name (full "refs/heads/x" or a short name tried
// against the usual rev-parse search rules) to an OID, following loose
// refs and falling back to packed-refs.
func (r *Repository) ResolveRef(name string) (plumbing.Hash, bool) {
	candidates := []string{name}
	if !strings.HasPrefix(name, "refs/") && name != "HEAD" {
		candidates = append(candidates,
			"refs/"+name,
			"refs/heads/"+name,
			"refs/tags/"+name,
			"refs/remotes/"+name,
			"refs/remotes/"+name+"/HEAD",
		)
	}
	for _, c := range candidates {
		if oid, ok := r.resolveLoose(c); ok {
			return oid, true
		}
	}
	packed, err := r.readPackedRefs()
	if err == nil {
		for _, c := range candidates {
			if oid, ok := packed[c]; ok {
				return oid, true
			}
		}
	}
	return plumbing.ZeroHash, false
}

func (r *Repository) resolveLoose(name string) (plumbing.Hash, bool) {
	content, err := r.readRefFile(filepath.Join(r.GitDir, filepath.FromSlash(name)))
	if err != nil {
		return plumbing.ZeroHash, false
	}
	if target, ok := symbolicTarget(content); ok {
		return r.ResolveRef(target)
	}
	if !plumbing.ValidateHashHex(content) {
		return plumbing.ZeroHash, false
	}
	return plumbing.NewHash(content), true
}

func (r *Repository) readPackedRefs() (map[string]plumbing.Hash, error) {
	f, err := os.Open(filepath.Join(r.GitDir, "packed-refs"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := make(map[string]plumbing.Hash)
	raw, err := os.ReadFile(f.Name())
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 || !plumbing.ValidateHashHex(fields[0]) {
			continue
		}
		out[fields[1]] = plumbing.NewHash(fields[0])
	}
	return out, nil
}

// ErrRefUpdateFailed is returned when a compare-and-swap ref update loses
// the race: the ref no longer holds the expected old value.
type ErrRefUpdateFailed struct {
	Ref      string
	Expected plumbing.Hash
	Actual   plumbing.Hash
}

func (e *ErrRefUpdateFailed) Error() string {
	return fmt.Sprintf("ref %s changed concurrently (expected %s, found %s)", e.Ref, e.Expected, e.Actual)
}

func IsErrRefUpdateFailed(err error) bool {
	_, ok := err.(*ErrRefUpdateFailed)
	return ok
}

// UpdateRef atomically advances ref from oldOid to newOid, refusing if the
// ref's current value doesn't match oldOid (a zero oldOid means "must not
// already exist"). A reflog entry is appended on success, matching the
// VCS's own branch-update bookkeeping.
func (r *Repository) UpdateRef(ref string, oldOid, newOid plumbing.Hash, reason string) error {
	full := ref
	if !strings.HasPrefix(full, "refs/") && full != "HEAD" {
		full = "refs/heads/" + full
	}
	path := filepath.Join(r.GitDir, filepath.FromSlash(full))

	current, exists := r.resolveLoose(full)
	if exists != !oldOid.IsZero() || (exists && !current.Equal(oldOid)) {
		return &ErrRefUpdateFailed{Ref: full, Expected: oldOid, Actual: current}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-ref-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(newOid.String() + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return r.appendReflog(full, oldOid, newOid, reason)
}

func (r *Repository) appendReflog(ref string, oldOid, newOid plumbing.Hash, reason string) error {
	logPath := filepath.Join(r.GitDir, "logs", filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	name, email := r.committerIdentity()
	line := fmt.Sprintf("%s %s %s <%s> %d +0000\t%s\n",
		oldOid, newOid, name, email, reflogTimestamp(), reason)
	_, err = f.WriteString(line)
	return err
}

func reflogTimestamp() int64 { return time.Now().Unix() }

func (r *Repository) committerIdentity() (string, string) {
	name, _ := r.cfg.String("user.name")
	if name == "" {
		name = "revise"
	}
	email, _ := r.cfg.String("user.email")
	if email == "" {
		email = "revise@localhost"
	}
	return name, email
}

// RunVcs shells out to the configured VCS binary, used for the handful of
// subcommands the rewrite engine still delegates rather than reimplementing
// (write-tree, read-tree, add, diff-tree).
func (r *Repository) RunVcs(ctx context.Context, args []string) ([]byte, error) {
	return gitproc.Run(ctx, r.VcsBinary, args, &gitproc.RunOpts{Dir: r.WorkDir})
}

// HashObject writes contents as a loose blob via the VCS binary's
// hash-object and returns the new blob's OID.
func (r *Repository) HashObject(ctx context.Context, contents []byte) (plumbing.Hash, error) {
	out, err := gitproc.Run(ctx, r.VcsBinary, []string{"hash-object", "-w", "--stdin"}, &gitproc.RunOpts{
		Dir:   r.WorkDir,
		Stdin: contents,
	})
	if err != nil {
		return plumbing.ZeroHash, err
	}
	hex := strings.TrimSpace(string(out))
	if !plumbing.ValidateHashHex(hex) {
		return plumbing.ZeroHash, fmt.Errorf("revise: hash-object returned malformed id %q", hex)
	}
	return plumbing.NewHash(hex), nil
}

// DiffTree lists the paths that differ between two trees via the VCS
// binary's diff-tree.
func (r *Repository) DiffTree(ctx context.Context, a, b plumbing.Hash) ([]string, error) {
	out, err := r.RunVcs(ctx, []string{"diff-tree", "--no-commit-id", "--name-only", "-r", a.String(), b.String()})
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range bytes.Split(out, []byte("\n")) {
		if len(line) > 0 {
			paths = append(paths, string(line))
		}
	}
	return paths, nil
}

// RunCommitMsgHooks reports whether revise.run-hooks.commit-msg is set,
// gating CommitMsgHook so a rewrite that never edits a message never even
// looks for the hook file.
func (r *Repository) RunCommitMsgHooks() bool {
	return r.cfg.Bool("revise.run-hooks.commit-msg", false)
}

// CommitMsgHook runs .git/hooks/commit-msg (if present and executable)
// against message, the same contract the VCS's own commit path gives the
// hook: the message is in a file the hook may rewrite in place, and a
// non-zero exit aborts the edit. A missing or non-executable hook is a
// silent no-op, matching every other hook point in the VCS.
func (r *Repository) CommitMsgHook(ctx context.Context, message string) (string, error) {
	hook := filepath.Join(r.GitDir, "hooks", "commit-msg")
	info, err := os.Stat(hook)
	if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
		return message, nil
	}

	f, err := os.CreateTemp("", "revise-commit-msg-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(message); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if _, err := gitproc.Run(ctx, hook, []string{path}, &gitproc.RunOpts{Dir: r.WorkDir}); err != nil {
		return "", err
	}
	out, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
