// Package gitproc is the external-collaborator boundary: everything that
// shells out to the VCS binary or an editor. Trimmed to the handful of
// invocations the rewrite engine needs (diff-tree, hash-object, merge-file)
// plus editor launch.
package gitproc

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

const stderrBufferLimit = 8 * 1024

// limitWriter caps how much of a subprocess's stderr we retain for error
// messages, mirroring the teacher's LimitStderr.
type limitWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.limit > 0 {
		if len(p) > w.limit {
			p = p[:w.limit]
		}
		w.limit -= len(p)
		w.buf.Write(p)
	}
	return len(p), nil
}

// ErrVcsFailed wraps a non-zero exit from the VCS binary, carrying enough of
// its stderr to show the user what went wrong.
type ErrVcsFailed struct {
	Cmd    string
	Args   []string
	Stderr string
	Err    error
}

func (e *ErrVcsFailed) Error() string {
	return e.Cmd + ": " + e.Err.Error() + ": " + e.Stderr
}

func (e *ErrVcsFailed) Unwrap() error { return e.Err }

// RunOpts configures a single VCS-binary invocation.
type RunOpts struct {
	Dir   string
	Stdin []byte
	Env   []string
}

// Run invokes name with args, returning captured stdout. A non-zero exit
// produces ErrVcsFailed with the (size-capped) stderr attached; stdout
// collected up to that point is still returned alongside the error, since
// some subcommands (merge-file) write useful output even when they exit
// non-zero to signal a conflict rather than a failure.
func Run(ctx context.Context, name string, args []string, opts *RunOpts) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr limitWriter
	stderr.limit = stderrBufferLimit
	cmd.Stderr = &stderr
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if opts != nil {
		cmd.Dir = opts.Dir
		if len(opts.Env) > 0 {
			cmd.Env = append(os.Environ(), opts.Env...)
		}
		if opts.Stdin != nil {
			cmd.Stdin = bytes.NewReader(opts.Stdin)
		}
	}
	log.WithFields(log.Fields{"cmd": name, "args": args}).Debug("gitproc: spawning VCS binary")
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &ErrVcsFailed{Cmd: name, Args: args, Stderr: stderr.buf.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
