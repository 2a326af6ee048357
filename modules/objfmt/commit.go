package objfmt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mystor/git-revise/modules/plumbing"
)

// Signature is "<name> <email> <unix-ts> <tz-offset>". Decode is lazy and
// tolerant: a malformed signature must not prevent loading the enclosing
// commit, so Decode never returns an error, only a best effort.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) String() string {
	_, offset := s.When.Zone()
	sign := byte('+')
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%s <%s> %d %c%02d%02d", s.Name, s.Email, s.When.Unix(), sign, offset/3600, (offset%3600)/60)
}

// Decode parses "Name <email> 1700000000 +0100"; unparseable suffixes are
// silently dropped rather than rejected.
func (s *Signature) Decode(b string) {
	open := strings.LastIndexByte(b, '<')
	closeIdx := strings.LastIndexByte(b, '>')
	if open < 0 || closeIdx < 0 || closeIdx < open {
		s.Name = strings.TrimSpace(b)
		return
	}
	s.Name = strings.TrimSpace(b[:open])
	s.Email = b[open+1 : closeIdx]
	rest := strings.TrimSpace(b[closeIdx+1:])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return
	}
	loc := time.UTC
	if len(fields) > 1 && len(fields[1]) == 5 {
		sign := 1
		tz := fields[1]
		if tz[0] == '-' {
			sign = -1
		}
		hh, err1 := strconv.Atoi(tz[1:3])
		mm, err2 := strconv.Atoi(tz[3:5])
		if err1 == nil && err2 == nil {
			loc = time.FixedZone("", sign*(hh*3600+mm*60))
		}
	}
	s.When = time.Unix(ts, 0).In(loc)
}

// ExtraHeader preserves a commit header this codec doesn't otherwise model
// (gpgsig, mergetag, encoding, ...) verbatim, in order, as struct{K,V}
// instead of a map, so round-tripping never reorders or drops headers.
type ExtraHeader struct {
	K string
	V string
}

// Commit is the VCS commit object: tree, parents, two signatures, optional
// extra headers, and an opaque message.
type Commit struct {
	Hash         plumbing.Hash
	Tree         plumbing.Hash
	Parents      []plumbing.Hash
	Author       Signature
	Committer    Signature
	ExtraHeaders []ExtraHeader
	Message      string
}

func (c *Commit) Type() ObjectType { return CommitObject }

func (c *Commit) Body(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "tree %s\n", c.Tree); err != nil {
		return err
	}
	for _, p := range c.Parents {
		if _, err := fmt.Fprintf(w, "parent %s\n", p); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "author %s\ncommitter %s\n", c.Author, c.Committer); err != nil {
		return err
	}
	for _, h := range c.ExtraHeaders {
		if _, err := fmt.Fprintf(w, "%s %s\n", h.K, strings.ReplaceAll(h.V, "\n", "\n ")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%s", c.Message)
	return err
}

// decode is continuation-aware: a line starting with a single space
// continues the previous header's value, used for multi-line gpgsig headers
// which must round-trip unchanged.
func (c *Commit) decode(body []byte) error {
	r := bufio.NewReader(bytes.NewReader(body))
	var message strings.Builder
	inHeaders := true
	for {
		line, err := r.ReadString('\n')
		atEOF := err == io.EOF
		if err != nil && !atEOF {
			return err
		}
		text := strings.TrimSuffix(line, "\n")
		if inHeaders {
			if text == "" {
				inHeaders = false
				if atEOF {
					break
				}
				continue
			}
			if strings.HasPrefix(text, " ") && len(c.ExtraHeaders) > 0 {
				last := &c.ExtraHeaders[len(c.ExtraHeaders)-1]
				last.V += "\n" + text[1:]
				if atEOF {
					break
				}
				continue
			}
			sp := strings.IndexByte(text, ' ')
			if sp < 0 {
				return &ErrCorruptObject{Reason: "commit header missing value: " + text}
			}
			key, val := text[:sp], text[sp+1:]
			switch key {
			case "tree":
				c.Tree = plumbing.NewHash(val)
			case "parent":
				c.Parents = append(c.Parents, plumbing.NewHash(val))
			case "author":
				c.Author.Decode(val)
			case "committer":
				c.Committer.Decode(val)
			default:
				c.ExtraHeaders = append(c.ExtraHeaders, ExtraHeader{K: key, V: val})
			}
		} else {
			message.WriteString(line)
		}
		if atEOF {
			break
		}
	}
	c.Message = message.String()
	return nil
}

// Subject returns the first line of the commit message, used by autosquash
// to match "fixup! <subject>" / "squash! <subject>" commits against their
// target.
func (c *Commit) Subject() string {
	if i := strings.IndexAny(c.Message, "\r\n"); i != -1 {
		return c.Message[:i]
	}
	return c.Message
}

// ExtraHeaderValue looks up the first header with key k (used to preserve/strip
// "gpgsig" when signing).
func (c *Commit) ExtraHeaderValue(k string) (string, bool) {
	for _, h := range c.ExtraHeaders {
		if h.K == k {
			return h.V, true
		}
	}
	return "", false
}

// WithoutHeader returns a shallow copy of c with every header named k
// removed, used to strip "gpgsig" before re-hashing a signed commit.
func (c *Commit) WithoutHeader(k string) *Commit {
	cp := *c
	cp.ExtraHeaders = nil
	for _, h := range c.ExtraHeaders {
		if h.K != k {
			cp.ExtraHeaders = append(cp.ExtraHeaders, h)
		}
	}
	return &cp
}
