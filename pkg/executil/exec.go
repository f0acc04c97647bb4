// Package executil provides process execution utilities.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// DefaultOutputLimit caps captured stdout/stderr of a single process.
const DefaultOutputLimit = 8 << 20

// limitedWriter caps writes to a bytes.Buffer at a maximum byte count.
// Bytes beyond the limit are silently discarded.
type limitedWriter struct {
	buf *bytes.Buffer
	n   int64
	max int64
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.n >= w.max {
		return len(p), nil
	}
	remaining := w.max - w.n
	origLen := len(p)
	if int64(origLen) > remaining {
		p = p[:remaining]
	}
	n, err := w.buf.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, err
	}
	return origLen, nil
}

// tailWriter keeps the last max bytes written to it. Agents print their
// markers and usage trailer at the end, so the tail is what matters. The
// buffer grows to twice max between compactions.
type tailWriter struct {
	buf   []byte
	max   int64
	total int64
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.total += int64(len(p))
	if int64(len(p)) >= w.max {
		w.buf = append(w.buf[:0], p[int64(len(p))-w.max:]...)
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	if int64(len(w.buf)) > 2*w.max {
		w.buf = append(w.buf[:0], w.buf[int64(len(w.buf))-w.max:]...)
	}
	return len(p), nil
}

func (w *tailWriter) Bytes() []byte {
	if int64(len(w.buf)) > w.max {
		return w.buf[int64(len(w.buf))-w.max:]
	}
	return w.buf
}

// Dropped is the number of leading bytes not retained.
func (w *tailWriter) Dropped() int64 {
	return w.total - int64(len(w.Bytes()))
}

// Process describes a single external process launch.
type Process struct {
	Dir   string    // working directory (empty means inherit cwd)
	Cmd   string    // executable name or path
	Args  []string  // arguments
	Env   []string  // KEY=VALUE pairs appended to the current environment
	Stdin io.Reader // optional stdin

	// OutputLimit caps captured stdout and stderr independently. Stdout keeps
	// its last OutputLimit bytes, stderr its first. Zero means
	// DefaultOutputLimit.
	OutputLimit int64
}

// ProcessResult is the captured output of a finished process.
type ProcessResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// StdoutDropped counts leading stdout bytes discarded to honor the limit.
	StdoutDropped int64
}

// Executor runs external commands.
type Executor interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
	// RunDir executes a command in a specific directory.
	RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error)
	// RunProcess executes a process to completion and captures stdout and stderr
	// separately. A nonzero exit status is reported through ProcessResult.ExitCode,
	// not as an error; the error is reserved for processes that could not run.
	RunProcess(ctx context.Context, p Process) (ProcessResult, error)
}

// RealExecutor calls actual commands.
type RealExecutor struct{}

var _ Executor = (*RealExecutor)(nil)

// Run executes a command and returns its combined output.
func (e *RealExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", cmd, err)
	}
	return out, nil
}

// RunDir executes a command in a specific directory.
func (e *RealExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = dir
	out, err := c.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s in %s: %w", cmd, dir, err)
	}
	return out, nil
}

// RunProcess executes p and waits for it to exit.
func (e *RealExecutor) RunProcess(ctx context.Context, p Process) (ProcessResult, error) {
	limit := p.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}

	c := exec.CommandContext(ctx, p.Cmd, p.Args...)
	c.Dir = p.Dir
	if len(p.Env) > 0 {
		c.Env = append(os.Environ(), p.Env...)
	}
	c.Stdin = p.Stdin

	var stderr bytes.Buffer
	stdout := &tailWriter{max: limit}
	c.Stdout = stdout
	c.Stderr = &limitedWriter{buf: &stderr, max: limit}

	err := c.Run()
	res := ProcessResult{
		Stdout:        stdout.Bytes(),
		Stderr:        stderr.Bytes(),
		StdoutDropped: stdout.Dropped(),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	return res, fmt.Errorf("exec %s: %w", p.Cmd, err)
}
