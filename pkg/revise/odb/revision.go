package odb

import (
	"strconv"
	"strings"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
)

// RefResolver looks up a reference by name, returning its target OID. It is
// supplied by the caller (the repository handle owns ref storage; the
// revision parser only needs to ask it questions).
type RefResolver interface {
	ResolveRef(name string) (plumbing.Hash, bool)
	HeadHash() (plumbing.Hash, error)
}

// GetCommit fetches and type-checks oid as a commit, peeling through a tag
// if necessary via "^{commit}"-style dereferencing.
func (s *Store) GetCommit(oid plumbing.Hash) (*objfmt.Commit, error) {
	obj, err := s.Get(oid)
	if err != nil {
		return nil, err
	}
	switch o := obj.(type) {
	case *objfmt.Commit:
		return o, nil
	case *objfmt.Tag:
		return s.GetCommit(o.Object)
	default:
		return nil, &ErrBadRevision{Expr: oid.String(), Err: &objfmt.ErrCorruptObject{Reason: "expected a commit, got " + o.Type().String()}}
	}
}

// GetTree fetches and type-checks oid as a tree.
func (s *Store) GetTree(oid plumbing.Hash) (*objfmt.Tree, error) {
	if oid.IsZero() {
		return &objfmt.Tree{}, nil
	}
	obj, err := s.Get(oid)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*objfmt.Tree)
	if !ok {
		return nil, &ErrBadRevision{Expr: oid.String(), Err: &objfmt.ErrCorruptObject{Reason: "expected a tree, got " + obj.Type().String()}}
	}
	return t, nil
}

// GetBlob fetches and type-checks oid as a blob.
func (s *Store) GetBlob(oid plumbing.Hash) (*objfmt.Blob, error) {
	obj, err := s.Get(oid)
	if err != nil {
		return nil, err
	}
	b, ok := obj.(*objfmt.Blob)
	if !ok {
		return nil, &ErrBadRevision{Expr: oid.String(), Err: &objfmt.ErrCorruptObject{Reason: "expected a blob, got " + obj.Type().String()}}
	}
	return b, nil
}

// ResolveRevision implements the subset of revision syntax git-revise needs:
// HEAD, full and abbreviated object ids, "<rev>^", "<rev>^N", "<rev>~N", and
// a trailing "^{commit}" to peel an annotated tag. A full object id is
// taken as is; anything else is tried as a ref through the caller-supplied
// resolver before falling back to abbreviation lookup.
func (s *Store) ResolveRevision(expr string, refs RefResolver) (plumbing.Hash, error) {
	rest := expr
	var ops []revOp
	for {
		if peeled, ok := strings.CutSuffix(rest, "^{commit}"); ok {
			rest = peeled
			ops = append(ops, revOp{peelTag: true})
			continue
		}
		if idx := lastOperatorIndex(rest); idx >= 0 {
			op, consumed, err := parseOp(rest[idx:])
			if err != nil {
				return plumbing.ZeroHash, &ErrBadRevision{Expr: expr, Err: err}
			}
			ops = append(ops, op)
			rest = rest[:idx] + rest[idx+consumed:]
			continue
		}
		break
	}

	// ops were collected rightmost-first as we peeled suffixes off the right
	// end of the string; reverse them so they apply left to right, in the
	// order they appear in the original text ("HEAD~2^" is "(HEAD~2)^").
	reverseOps(ops)

	oid, err := s.resolveAtom(rest, refs)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	for _, op := range ops {
		oid, err = s.applyOp(oid, op)
		if err != nil {
			return plumbing.ZeroHash, &ErrBadRevision{Expr: expr, Err: err}
		}
	}
	return oid, nil
}

type revOp struct {
	peelTag bool
	caret   bool // "^N" (Nth parent); bare "^" is n == 1, "^0" (n == 0) is the commit itself
	tilde   bool // "~N"
	n       int
}

// lastOperatorIndex finds the start of the trailing "^", "^N", or "~N" run,
// if rest ends with one, so it can be stripped and parsed independently of
// whatever precedes it (which may itself end in another operator).
func lastOperatorIndex(rest string) int {
	if rest == "" {
		return -1
	}
	last := rest[len(rest)-1]
	if last == '^' {
		// Only the single trailing caret; a run like "^^^" is three
		// separate bare-caret operators, stripped one at a time by the
		// caller's loop. A "^N" form is caught by the digit case below.
		return len(rest) - 1
	}
	if last >= '0' && last <= '9' {
		i := len(rest) - 1
		for i > 0 && rest[i-1] >= '0' && rest[i-1] <= '9' {
			i--
		}
		if i > 0 && rest[i-1] == '~' {
			return i - 1
		}
		if i > 0 && rest[i-1] == '^' {
			return i - 1
		}
		return -1
	}
	if last == '~' {
		return len(rest) - 1
	}
	return -1
}

func parseOp(s string) (revOp, int, error) {
	switch s[0] {
	case '^':
		if len(s) > 1 && s[1] >= '0' && s[1] <= '9' {
			n, err := strconv.Atoi(s[1:])
			if err != nil {
				return revOp{}, 0, err
			}
			return revOp{caret: true, n: n}, len(s), nil
		}
		// bare "^" selects the first parent; consumes just this one caret.
		return revOp{caret: true, n: 1}, 1, nil
	case '~':
		if len(s) == 1 {
			return revOp{tilde: true, n: 1}, len(s), nil
		}
		n, err := strconv.Atoi(s[1:])
		if err != nil {
			return revOp{}, 0, err
		}
		return revOp{tilde: true, n: n}, len(s), nil
	}
	return revOp{}, 0, strconv.ErrSyntax
}

func reverseOps(ops []revOp) {
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
}

func (s *Store) resolveAtom(rest string, refs RefResolver) (plumbing.Hash, error) {
	if rest == string(plumbing.HEAD) || rest == "" {
		return refs.HeadHash()
	}
	if plumbing.ValidateHashHex(rest) {
		return plumbing.NewHash(rest), nil
	}
	if oid, ok := refs.ResolveRef(rest); ok {
		return oid, nil
	}
	if plumbing.ValidateAbbrevHex(rest) {
		return s.GetAbbrev(rest)
	}
	return plumbing.ZeroHash, &ErrBadRevision{Expr: rest}
}

func (s *Store) applyOp(oid plumbing.Hash, op revOp) (plumbing.Hash, error) {
	if op.peelTag {
		c, err := s.GetCommit(oid)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return c.Hash, nil
	}
	c, err := s.GetCommit(oid)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	switch {
	case op.caret:
		if op.n == 0 {
			return c.Hash, nil
		}
		if op.n > len(c.Parents) {
			return plumbing.ZeroHash, &objfmt.ErrCorruptObject{Reason: "commit does not have that many parents"}
		}
		return c.Parents[op.n-1], nil
	case op.tilde:
		cur := c
		for i := 0; i < op.n; i++ {
			if len(cur.Parents) == 0 {
				return plumbing.ZeroHash, &objfmt.ErrCorruptObject{Reason: "commit has no parents"}
			}
			cur, err = s.GetCommit(cur.Parents[0])
			if err != nil {
				return plumbing.ZeroHash, err
			}
		}
		return cur.Hash, nil
	}
	return oid, nil
}

// IsAncestor reports whether ancestor reaches descendant by walking parent
// links breadth-first, matching the single-parent-preferring traversal the
// rewrite engine uses elsewhere; merge commits are fully explored.
func (s *Store) IsAncestor(ancestor, descendant plumbing.Hash) (bool, error) {
	if ancestor.Equal(descendant) {
		return true, nil
	}
	visited := map[plumbing.Hash]struct{}{descendant: {}}
	queue := []plumbing.Hash{descendant}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, err := s.GetCommit(cur)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if p.Equal(ancestor) {
				return true, nil
			}
			if _, seen := visited[p]; seen {
				continue
			}
			visited[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return false, nil
}

// MergeBase returns the best common ancestor of a and b using the same
// breadth-first ancestor sets as IsAncestor; ties are broken by whichever
// ancestor is reached first from a's queue.
func (s *Store) MergeBase(a, b plumbing.Hash) (plumbing.Hash, error) {
	ancestorsOf := func(start plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
		seen := map[plumbing.Hash]struct{}{start: {}}
		queue := []plumbing.Hash{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			c, err := s.GetCommit(cur)
			if err != nil {
				return nil, err
			}
			for _, p := range c.Parents {
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				queue = append(queue, p)
			}
		}
		return seen, nil
	}

	bAncestors, err := ancestorsOf(b)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, ok := bAncestors[a]; ok {
		return a, nil
	}

	visited := map[plumbing.Hash]struct{}{a: {}}
	queue := []plumbing.Hash{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := bAncestors[cur]; ok {
			return cur, nil
		}
		c, err := s.GetCommit(cur)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		for _, p := range c.Parents {
			if _, ok := visited[p]; ok {
				continue
			}
			visited[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return plumbing.ZeroHash, nil
}
