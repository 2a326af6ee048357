// Package todo implements the editable todo list that drives an
// interactive rewrite: one step per commit in the rewrite range, parsed
// from and rendered back to the same line-oriented text format the VCS's
// own interactive rebase uses, plus the autosquash reordering pass.
package todo

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/mystor/git-revise/modules/objfmt"
	"github.com/mystor/git-revise/modules/plumbing"
)

// Action is one todo verb.
type Action int

const (
	Pick Action = iota
	Fixup
	Squash
	Reword
	Cut
	Index
)

func (a Action) String() string {
	switch a {
	case Pick:
		return "pick"
	case Fixup:
		return "fixup"
	case Squash:
		return "squash"
	case Reword:
		return "reword"
	case Cut:
		return "cut"
	case Index:
		return "index"
	default:
		return "unknown"
	}
}

func ParseAction(s string) (Action, bool) {
	switch s {
	case "pick", "p":
		return Pick, true
	case "fixup", "f":
		return Fixup, true
	case "squash", "s":
		return Squash, true
	case "reword", "r":
		return Reword, true
	case "cut", "c":
		return Cut, true
	case "index":
		return Index, true
	default:
		return 0, false
	}
}

// Step is one line of the todo list.
type Step struct {
	Action  Action
	OID     plumbing.Hash
	Subject string // trailing comment text, informational only

	// IndexFold, when set, is an internal-only override used by the
	// non-interactive default fold (never parsed from or rendered to the
	// editable text): it names the currently-staged tree to three-way
	// merge into this step's commit directly, rather than computing the
	// merge from the replay chain's running parent.
	IndexFold plumbing.Hash
}

// ErrInvalid reports a structural problem with a todo list: an unresolvable
// OID, a command that can't legally appear where it did, or text that
// doesn't parse as a command at all.
type ErrInvalid struct {
	Line   int
	Reason string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("todo list line %d: %s", e.Line, e.Reason)
}

func IsErrInvalid(err error) bool {
	_, ok := err.(*ErrInvalid)
	return ok
}

// Resolver turns the token following a command into a commit OID. Parse
// itself tracks which OIDs have already appeared (a duplicate
// pick/fixup/squash/reword/cut of the same commit is invalid).
type Resolver func(token string) (plumbing.Hash, error)

// Parse reads a todo list from text. Blank lines and lines beginning with
// '#' are ignored, matching the file the editor hands back. "index" lines
// may only appear as the very last step (everything else must replay before
// the remainder is left staged rather than committed); every other command
// must name a commit, and the same OID may not be named twice.
func Parse(text string, resolve Resolver) ([]Step, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var steps []Step
	seen := map[plumbing.Hash]struct{}{}
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		action, ok := ParseAction(fields[0])
		if !ok {
			return nil, &ErrInvalid{Line: lineNo, Reason: fmt.Sprintf("unknown command %q", fields[0])}
		}

		if n := len(steps); n > 0 && steps[n-1].Action == Index {
			return nil, &ErrInvalid{Line: lineNo, Reason: "'index' may only appear as the last step"}
		}

		if action == Index {
			if len(fields) < 2 {
				return nil, &ErrInvalid{Line: lineNo, Reason: "'index' requires a tree id"}
			}
			oid, err := resolve(fields[1])
			if err != nil {
				return nil, &ErrInvalid{Line: lineNo, Reason: err.Error()}
			}
			steps = append(steps, Step{Action: Index, OID: oid})
			continue
		}

		if (action == Fixup || action == Squash) && len(steps) == 0 {
			return nil, &ErrInvalid{Line: lineNo, Reason: fmt.Sprintf("'%s' cannot be the first step", action)}
		}

		if len(fields) < 2 {
			return nil, &ErrInvalid{Line: lineNo, Reason: fmt.Sprintf("'%s' requires a commit", action)}
		}
		oid, err := resolve(fields[1])
		if err != nil {
			return nil, &ErrInvalid{Line: lineNo, Reason: err.Error()}
		}
		if _, dup := seen[oid]; dup {
			return nil, &ErrInvalid{Line: lineNo, Reason: fmt.Sprintf("commit %s listed more than once", oid)}
		}
		seen[oid] = struct{}{}

		subject := ""
		if len(fields) == 3 {
			subject = fields[2]
		}
		steps = append(steps, Step{Action: action, OID: oid, Subject: subject})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

// Render writes steps back to the editable text format, one line per step.
// A comment block after the steps documents each command the way the
// interactive editor file does.
func Render(steps []Step, commentChar byte) string {
	var b strings.Builder
	for _, s := range steps {
		if s.Action == Index {
			fmt.Fprintf(&b, "index %s\n", s.OID)
			continue
		}
		fmt.Fprintf(&b, "%s %s", s.Action, s.OID)
		if s.Subject != "" {
			fmt.Fprintf(&b, " %s", s.Subject)
		}
		b.WriteString("\n")
	}
	b.WriteString(string(commentChar) + "\n")
	for _, line := range []string{
		"Commands:",
		" p, pick <commit> = use commit",
		" r, reword <commit> = use commit, but edit the commit message",
		" s, squash <commit> = use commit, but meld into previous commit",
		" f, fixup <commit> = like squash, but discard this commit's message",
		" c, cut <commit> = use commit (it is not split)",
		" index <tree> = populate the index from the given tree object",
		"",
		"These lines can be re-ordered; they are executed from top to bottom.",
		"If a line is removed, that commit will be skipped.",
	} {
		fmt.Fprintf(&b, "%c %s\n", commentChar, line)
	}
	return b.String()
}

// CommitLookup resolves an OID to the commit object needed for autosquash
// subject matching.
type CommitLookup func(plumbing.Hash) (*objfmt.Commit, error)

// Autosquash reorders steps so that every "fixup!"/"squash!" commit
// immediately follows the step for the commit its subject names, resolving
// chains of fixups-of-fixups by repeating the search until no more moves
// happen. Ties among multiple candidate targets are broken by picking the
// target nearest the end of the list, matching the rebase convention that a
// later commit is more likely to be the intended squash target.
func Autosquash(steps []Step, lookup CommitLookup) ([]Step, error) {
	nodes := make([]squashNode, len(steps))
	for i, s := range steps {
		if s.Action == Index {
			nodes[i] = squashNode{step: s}
			continue
		}
		c, err := lookup(s.OID)
		if err != nil {
			return nil, err
		}
		nodes[i] = squashNode{step: s, subject: c.Subject()}
	}

	moved := make([]bool, len(nodes))
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}

	for changed := true; changed; {
		changed = false
		for i, n := range nodes {
			if moved[i] || n.step.Action == Index {
				continue
			}
			targetSubject, kind, ok := cutAutosquashPrefix(n.subject)
			if !ok {
				continue
			}
			targetPos := findLastMatchingSubject(nodes, order, targetSubject, i)
			if targetPos < 0 {
				// The target might simply not have converged into place
				// yet on an earlier pass; whether it exists anywhere in
				// range at all is checked once the loop reaches a fixed
				// point, below.
				continue
			}
			curPos := positionOf(order, i)
			if curPos == targetPos+1 {
				if nodes[i].step.Action != kind {
					nodes[i].step.Action = kind
					changed = true
				}
				continue
			}
			nodes[i].step.Action = kind
			order = moveAfter(order, curPos, targetPos)
			moved[i] = true
			changed = true
		}
	}

	for i, n := range nodes {
		targetSubject, _, ok := cutAutosquashPrefix(n.subject)
		if !ok {
			continue
		}
		if findLastMatchingSubject(nodes, order, targetSubject, i) < 0 {
			return nil, &ErrInvalid{Reason: fmt.Sprintf("autosquash target %q for commit %s not found in the rewrite range", targetSubject, n.step.OID)}
		}
	}

	out := make([]Step, len(order))
	for i, idx := range order {
		out[i] = nodes[idx].step
	}
	return out, nil
}

func cutAutosquashPrefix(subject string) (target string, kind Action, ok bool) {
	if t, found := strings.CutPrefix(subject, "fixup! "); found {
		return strings.TrimSpace(t), Fixup, true
	}
	if t, found := strings.CutPrefix(subject, "squash! "); found {
		return strings.TrimSpace(t), Squash, true
	}
	return "", 0, false
}

// squashNode pairs a step with the subject line of its commit, so
// autosquash matching doesn't need to re-resolve the commit on every pass.
type squashNode struct {
	step    Step
	subject string
}

func findLastMatchingSubject(nodes []squashNode, order []int, subject string, exclude int) int {
	best := -1
	for pos, idx := range order {
		if idx == exclude {
			continue
		}
		if nodes[idx].subject == subject || strings.HasPrefix(nodes[idx].subject, subject) {
			best = pos
		}
	}
	return best
}

func positionOf(order []int, idx int) int {
	for pos, v := range order {
		if v == idx {
			return pos
		}
	}
	return -1
}

// moveAfter relocates the element at position cur so it sits immediately
// after position target, shifting everything between the two.
func moveAfter(order []int, cur, target int) []int {
	v := order[cur]
	rest := append(append([]int{}, order[:cur]...), order[cur+1:]...)
	insertAt := target
	if cur < target {
		// removing an earlier element shifted everything after it left by one
		insertAt = target - 1
	}
	out := make([]int, 0, len(order))
	out = append(out, rest[:insertAt+1]...)
	out = append(out, v)
	out = append(out, rest[insertAt+1:]...)
	return out
}
