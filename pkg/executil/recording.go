package executil

import (
	"context"
	"strings"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Dir  string
	Cmd  string
	Args []string
}

// String returns the command line joined with spaces.
func (c RecordedCommand) String() string {
	return strings.TrimSpace(c.Cmd + " " + strings.Join(c.Args, " "))
}

// RecordingExecutor captures commands for testing.
// Configure Outputs and Errors maps to control return values.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	// Outputs maps commands to their output. Keys are matched most specific
	// first: "git merge" (command plus first argument) before "git".
	Outputs map[string][]byte

	// Errors maps commands to their error, keyed like Outputs.
	Errors map[string]error

	// Results configures RunProcess, keyed like Outputs.
	Results map[string]ProcessResult
}

var _ Executor = (*RecordingExecutor)(nil)

// Run records the command and returns configured output/error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record("", cmd, args...)
}

// RunDir records the command with directory and returns configured output/error.
func (e *RecordingExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return e.record(dir, cmd, args...)
}

// RunProcess records the process and returns the configured result/error.
func (e *RecordingExecutor) RunProcess(ctx context.Context, p Process) (ProcessResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{Dir: p.Dir, Cmd: p.Cmd, Args: p.Args})

	var res ProcessResult
	for _, key := range lookupKeys(p.Cmd, p.Args) {
		if r, ok := e.Results[key]; ok {
			res = r
			break
		}
	}
	return res, e.lookupErr(p.Cmd, p.Args)
}

func (e *RecordingExecutor) record(dir, cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{
		Dir:  dir,
		Cmd:  cmd,
		Args: args,
	})

	var out []byte
	for _, key := range lookupKeys(cmd, args) {
		if o, ok := e.Outputs[key]; ok {
			out = o
			break
		}
	}

	return out, e.lookupErr(cmd, args)
}

func (e *RecordingExecutor) lookupErr(cmd string, args []string) error {
	for _, key := range lookupKeys(cmd, args) {
		if err, ok := e.Errors[key]; ok {
			return err
		}
	}
	return nil
}

func lookupKeys(cmd string, args []string) []string {
	if len(args) == 0 {
		return []string{cmd}
	}
	return []string{cmd + " " + args[0], cmd}
}

// Reset clears recorded commands.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
}
