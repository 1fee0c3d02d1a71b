// Package procrun runs external tool processes as bounded, cancellable units
// of work with capped output.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result captures a finished process invocation.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// OutputTruncatedError signals the process produced more output than the
// configured cap; the truncated Result is still returned alongside it.
type OutputTruncatedError struct{}

func (OutputTruncatedError) Error() string { return "output truncated" }

// Runner executes commands with a timeout, an output cap and a command
// blocklist.
type Runner struct {
	Timeout   time.Duration
	MaxOutput int
	Blocklist []string
	Dir       string
}

// Run executes cmd with args. The given context bounds the process lifetime;
// Runner.Timeout tightens it further when set. The spawned process is killed
// on cancellation.
func (r *Runner) Run(ctx context.Context, cmd string, args ...string) (*Result, error) {
	if cmd == "" {
		return nil, errors.New("command is required")
	}
	if r.isBlocked(cmd) {
		return nil, fmt.Errorf("command blocked: %s", cmd)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	command := exec.CommandContext(ctx, cmd, args...)
	command.Dir = r.Dir

	stdoutBuf := &limitedBuffer{limit: r.MaxOutput}
	stderrBuf := &limitedBuffer{limit: r.MaxOutput}
	command.Stdout = stdoutBuf
	command.Stderr = stderrBuf

	err := command.Run()
	exitCode := 0
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}

	result := &Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String(), Code: exitCode}
	if stdoutBuf.truncated || stderrBuf.truncated {
		return result, OutputTruncatedError{}
	}
	return result, nil
}

func (r *Runner) isBlocked(cmd string) bool {
	if len(r.Blocklist) == 0 {
		return false
	}
	base := filepath.Base(cmd)
	for _, blocked := range r.Blocklist {
		if strings.EqualFold(blocked, cmd) || strings.EqualFold(blocked, base) {
			return true
		}
	}
	return false
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.limit <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	return l.buf.String()
}
