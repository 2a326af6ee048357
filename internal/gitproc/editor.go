package gitproc

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"unicode"

	"github.com/kballard/go-shellquote"
)

const defaultEditor = "vi"

// fallbackEditor mirrors the teacher's editor.go precedence: GIT_EDITOR,
// then VISUAL, then EDITOR, then a bare "vi".
func fallbackEditor() string {
	for _, env := range []string{"GIT_EDITOR", "VISUAL", "EDITOR"} {
		if e, ok := os.LookupEnv(env); ok && e != "" {
			return e
		}
	}
	return defaultEditor
}

// ErrUserAbort is returned when the editor exits non-zero, canceling the
// current action.
var ErrUserAbort = &abortError{}

type abortError struct{}

func (*abortError) Error() string { return "editor canceled the action" }

// Launch opens path in the configured editor, using a POSIX-like shell split
// so quoted editor commands like `code --wait` parse correctly. A non-zero
// exit is reported as ErrUserAbort.
func Launch(ctx context.Context, editor, path string) error {
	if editor == "" {
		editor = fallbackEditor()
	}
	args, err := shellquote.Split(editor)
	if err != nil || len(args) == 0 {
		args = []string{defaultEditor}
	}
	args = append(args, path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return ErrUserAbort
	}
	return nil
}

// ReadMessage strips comment lines (beginning with commentChar) the way the
// teacher's messageReadFrom does, trimming trailing blank lines and leading
// blank lines before the first non-empty one.
func ReadMessage(r io.Reader, commentChar byte) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var lines []string
	for sc.Scan() {
		line := strings.TrimRightFunc(sc.Text(), unicode.IsSpace)
		if len(line) > 0 && line[0] == commentChar {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	lines = lines[start:]
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	lines = lines[:end]
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func ReadMessageFile(path string, commentChar byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ReadMessage(f, commentChar)
}
