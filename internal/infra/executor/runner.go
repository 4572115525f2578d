// Package executor runs external tools (git, npm) as child processes bound to
// a context.
package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultWaitDelay bounds how long Run waits for pipes to close after the
// process was killed on cancellation.
const DefaultWaitDelay = 2 * time.Second

// Result of one process execution. A non-zero ExitCode is not an error: some
// tools (npm audit) signal findings through the exit code.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	DurationMS int64
}

// Commander is what adapters depend on, so tests can swap the process layer.
type Commander interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

type Runner struct {
	// Env is appended to the parent environment.
	Env       []string
	WaitDelay time.Duration
}

func NewRunner(env ...string) *Runner {
	return &Runner{Env: env, WaitDelay: DefaultWaitDelay}
}

// Run executes name with args in dir. The process is killed when ctx is done
// and the returned error then wraps ctx.Err().
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, errors.Wrapf(ctxErr, "%s interrupted", name)
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "run %s", name)
	}
	return res, nil
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Tail returns at most n trailing bytes of b as a string, for error messages.
func Tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
