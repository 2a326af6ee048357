package objfmt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/mystor/git-revise/modules/plumbing"
)

// Tag is an annotated tag pointing at another object (almost always a
// commit). The rewrite engine never creates tags; this codec only needs to
// parse and round-trip them when a revision expression peels through one
// via a trailing "^{commit}".
type Tag struct {
	Hash    plumbing.Hash
	Object  plumbing.Hash
	ObjType ObjectType
	Name    string
	Tagger  Signature
	Message string
}

func (t *Tag) Type() ObjectType { return TagObject }

func (t *Tag) Body(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "object %s\ntype %s\ntag %s\ntagger %s\n\n%s",
		t.Object, t.ObjType, t.Name, t.Tagger, t.Message); err != nil {
		return err
	}
	return nil
}

func (t *Tag) decode(body []byte) error {
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
			sp := strings.IndexByte(text, ' ')
			if sp < 0 {
				return &ErrCorruptObject{Reason: "tag header missing value: " + text}
			}
			key, val := text[:sp], text[sp+1:]
			switch key {
			case "object":
				t.Object = plumbing.NewHash(val)
			case "type":
				kind, err := ParseObjectType(val)
				if err != nil {
					return err
				}
				t.ObjType = kind
			case "tag":
				t.Name = val
			case "tagger":
				t.Tagger.Decode(val)
			}
		} else {
			message.WriteString(line)
		}
		if atEOF {
			break
		}
	}
	t.Message = message.String()
	return nil
}
