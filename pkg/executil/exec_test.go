package executil

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealExecutor_Run(t *testing.T) {
	exec := &RealExecutor{}
	ctx := context.Background()

	t.Run("successful command", func(t *testing.T) {
		out, err := exec.Run(ctx, "echo", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out))
	})

	t.Run("command not found", func(t *testing.T) {
		_, err := exec.Run(ctx, "nonexistent-command-12345")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exec nonexistent-command-12345")
	})

	t.Run("command fails", func(t *testing.T) {
		_, err := exec.Run(ctx, "false")
		require.Error(t, err)
	})
}

func TestRealExecutor_RunDir(t *testing.T) {
	exec := &RealExecutor{}
	ctx := context.Background()

	t.Run("runs in specified directory", func(t *testing.T) {
		out, err := exec.RunDir(ctx, "/tmp", "pwd")
		require.NoError(t, err)
		assert.Contains(t, string(out), "/tmp")
	})

	t.Run("invalid directory", func(t *testing.T) {
		_, err := exec.RunDir(ctx, "/nonexistent-dir-12345", "pwd")
		require.Error(t, err)
	})
}

func TestRealExecutor_RunProcess(t *testing.T) {
	exec := &RealExecutor{}
	ctx := context.Background()

	t.Run("separates stdout and stderr", func(t *testing.T) {
		res, err := exec.RunProcess(ctx, Process{
			Cmd:  "sh",
			Args: []string{"-c", "echo out; echo err >&2"},
		})
		require.NoError(t, err)
		assert.Equal(t, "out\n", string(res.Stdout))
		assert.Equal(t, "err\n", string(res.Stderr))
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("nonzero exit is not an error", func(t *testing.T) {
		res, err := exec.RunProcess(ctx, Process{Cmd: "sh", Args: []string{"-c", "exit 3"}})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("feeds stdin and env", func(t *testing.T) {
		res, err := exec.RunProcess(ctx, Process{
			Cmd:   "sh",
			Args:  []string{"-c", `cat; printf '%s' "$WIGGUMS_TEST"`},
			Env:   []string{"WIGGUMS_TEST=value"},
			Stdin: strings.NewReader("prompt\n"),
		})
		require.NoError(t, err)
		assert.Equal(t, "prompt\nvalue", string(res.Stdout))
	})

	t.Run("keeps the tail of stdout", func(t *testing.T) {
		res, err := exec.RunProcess(ctx, Process{
			Cmd:         "sh",
			Args:        []string{"-c", "printf 'abcdefghij'"},
			OutputLimit: 4,
		})
		require.NoError(t, err)
		assert.Equal(t, "ghij", string(res.Stdout))
		assert.Equal(t, int64(6), res.StdoutDropped)
	})

	t.Run("keeps the head of stderr", func(t *testing.T) {
		res, err := exec.RunProcess(ctx, Process{
			Cmd:         "sh",
			Args:        []string{"-c", "printf 'abcdefghij' >&2"},
			OutputLimit: 4,
		})
		require.NoError(t, err)
		assert.Equal(t, "abcd", string(res.Stderr))
		assert.Zero(t, res.StdoutDropped)
	})

	t.Run("tail survives many small writes", func(t *testing.T) {
		res, err := exec.RunProcess(ctx, Process{
			Cmd:         "sh",
			Args:        []string{"-c", "i=0; while [ $i -lt 500 ]; do echo line$i; i=$((i+1)); done; echo DONE"},
			OutputLimit: 16,
		})
		require.NoError(t, err)
		assert.Len(t, res.Stdout, 16)
		assert.True(t, strings.HasSuffix(string(res.Stdout), "line499\nDONE\n"))
		assert.Positive(t, res.StdoutDropped)
	})

	t.Run("missing binary is an error", func(t *testing.T) {
		res, err := exec.RunProcess(ctx, Process{Cmd: "nonexistent-command-12345"})
		require.Error(t, err)
		assert.Equal(t, -1, res.ExitCode)
	})
}

func TestRecordingExecutor_Run(t *testing.T) {
	t.Run("records commands", func(t *testing.T) {
		exec := &RecordingExecutor{}
		ctx := context.Background()

		_, _ = exec.Run(ctx, "git", "clone", "url")
		_, _ = exec.Run(ctx, "git", "checkout", "main")

		require.Len(t, exec.Commands, 2)
		assert.Equal(t, "git", exec.Commands[0].Cmd)
		assert.Equal(t, []string{"clone", "url"}, exec.Commands[0].Args)
		assert.Empty(t, exec.Commands[0].Dir)
		assert.Equal(t, "git checkout main", exec.Commands[1].String())
	})

	t.Run("records directory", func(t *testing.T) {
		exec := &RecordingExecutor{}
		ctx := context.Background()

		_, _ = exec.RunDir(ctx, "/tmp/repo", "git", "status")

		require.Len(t, exec.Commands, 1)
		assert.Equal(t, "/tmp/repo", exec.Commands[0].Dir)
	})

	t.Run("subcommand key wins over command key", func(t *testing.T) {
		exec := &RecordingExecutor{
			Outputs: map[string][]byte{
				"git":       []byte("generic"),
				"git merge": []byte("CONFLICT"),
			},
		}
		ctx := context.Background()

		out, err := exec.Run(ctx, "git", "merge", "feature")
		require.NoError(t, err)
		assert.Equal(t, "CONFLICT", string(out))

		out, err = exec.Run(ctx, "git", "status")
		require.NoError(t, err)
		assert.Equal(t, "generic", string(out))
	})

	t.Run("returns configured error", func(t *testing.T) {
		expectedErr := errors.New("command failed")
		exec := &RecordingExecutor{
			Errors: map[string]error{
				"git": expectedErr,
			},
		}
		ctx := context.Background()

		_, err := exec.Run(ctx, "git", "status")
		assert.Equal(t, expectedErr, err)
	})

	t.Run("process results", func(t *testing.T) {
		exec := &RecordingExecutor{
			Results: map[string]ProcessResult{
				"claude": {Stdout: []byte("done"), ExitCode: 0},
			},
		}

		res, err := exec.RunProcess(context.Background(), Process{Dir: "/wt", Cmd: "claude", Args: []string{"-p"}})
		require.NoError(t, err)
		assert.Equal(t, "done", string(res.Stdout))
		require.Len(t, exec.Commands, 1)
		assert.Equal(t, "/wt", exec.Commands[0].Dir)
	})

	t.Run("reset clears commands", func(t *testing.T) {
		exec := &RecordingExecutor{}
		ctx := context.Background()

		_, _ = exec.Run(ctx, "echo", "hello")
		require.Len(t, exec.Commands, 1)

		exec.Reset()
		assert.Empty(t, exec.Commands)
	})
}
