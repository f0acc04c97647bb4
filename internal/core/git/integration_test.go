package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/wiggums/pkg/executil"
)

// newTestRepo creates a repository on branch main with one commit.
func newTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	run("config", "commit.gpgsign", "false")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("one\ntwo\nthree\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestExecutor_RealMerge(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := NewExecutor("git", &executil.RealExecutor{})
	wtRoot := t.TempDir()

	branch, err := e.Branch(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, "main", branch)

	// Two attempts branch from the same mainline commit.
	wtA := filepath.Join(wtRoot, "a-1-attempt-1")
	wtB := filepath.Join(wtRoot, "b-1-attempt-1")
	require.NoError(t, e.AddWorktree(ctx, repo, wtA, "a-1-attempt-1", "main"))
	require.NoError(t, e.AddWorktree(ctx, repo, wtB, "b-1-attempt-1", "main"))

	writeFile(t, wtA, "a.txt", "from a\n")
	writeFile(t, wtA, "shared.txt", "one\nTWO from a\nthree\n")
	writeFile(t, wtB, "shared.txt", "one\nTWO from b\nthree\n")

	committed, err := e.CommitAll(ctx, wtA, "wiggums: A-1 attempt 1")
	require.NoError(t, err)
	require.True(t, committed)
	committed, err = e.CommitAll(ctx, wtB, "wiggums: B-1 attempt 1")
	require.NoError(t, err)
	require.True(t, committed)

	committed, err = e.CommitAll(ctx, wtB, "again")
	require.NoError(t, err)
	assert.False(t, committed, "clean tree has nothing to commit")

	require.NoError(t, e.RemoveWorktree(ctx, repo, wtA))
	require.NoError(t, e.RemoveWorktree(ctx, repo, wtB))
	assert.NoDirExists(t, wtA)

	files, err := e.ChangedFiles(ctx, repo, "main", "a-1-attempt-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "shared.txt"}, files)

	res, err := e.Merge(ctx, repo, "a-1-attempt-1", "merge: a-1-attempt-1")
	require.NoError(t, err)
	assert.Equal(t, MergeClean, res)

	headBefore, err := e.Head(ctx, repo)
	require.NoError(t, err)

	res, err = e.Merge(ctx, repo, "b-1-attempt-1", "merge: b-1-attempt-1")
	require.NoError(t, err)
	assert.Equal(t, MergeConflict, res)

	headAfter, err := e.Head(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter, "mainline unchanged after abort")

	clean, err := e.IsClean(ctx, repo)
	require.NoError(t, err)
	assert.True(t, clean, "abort leaves no merge state behind")

	exists, err := e.BranchExists(ctx, repo, "b-1-attempt-1")
	require.NoError(t, err)
	assert.True(t, exists, "conflicting branch is preserved")

	require.NoError(t, e.DeleteBranch(ctx, repo, "a-1-attempt-1"))
	exists, err = e.BranchExists(ctx, repo, "a-1-attempt-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = e.Merge(ctx, repo, "a-1-attempt-1", "merge")
	require.ErrorIs(t, err, ErrBranchMissing)
}

func TestExecutor_RealRetryStartsFromPreviousAttempt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := NewExecutor("git", &executil.RealExecutor{})

	wtRoot := t.TempDir()
	first := filepath.Join(wtRoot, "a-1-attempt-1")
	require.NoError(t, e.AddWorktree(ctx, repo, first, "a-1-attempt-1", "main"))
	writeFile(t, first, "partial.txt", "half\n")
	_, err := e.CommitAll(ctx, first, "checkpoint")
	require.NoError(t, err)
	require.NoError(t, e.RemoveWorktree(ctx, repo, first))

	second := filepath.Join(wtRoot, "a-1-attempt-2")
	require.NoError(t, e.AddWorktree(ctx, repo, second, "a-1-attempt-2", "a-1-attempt-1"))
	assert.FileExists(t, filepath.Join(second, "partial.txt"))

	top, err := e.TopLevel(ctx, second)
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(second)
	gotResolved, _ := filepath.EvalSymlinks(top)
	assert.Equal(t, resolved, gotResolved)
}

func TestExecutor_RealMergeRefusedIsNotConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := NewExecutor("git", &executil.RealExecutor{})

	wt := filepath.Join(t.TempDir(), "a-1-attempt-1")
	require.NoError(t, e.AddWorktree(ctx, repo, wt, "a-1-attempt-1", "main"))
	writeFile(t, wt, "shared.txt", "one\nTWO\nthree\n")
	_, err := e.CommitAll(ctx, wt, "edit shared")
	require.NoError(t, err)
	require.NoError(t, e.RemoveWorktree(ctx, repo, wt))

	// Uncommitted edits to the same file make git refuse before merging.
	writeFile(t, repo, "shared.txt", "local edit\n")

	headBefore, err := e.Head(ctx, repo)
	require.NoError(t, err)

	_, err = e.Merge(ctx, repo, "a-1-attempt-1", "merge: a-1-attempt-1")
	require.ErrorIs(t, err, ErrMergeFailed)

	headAfter, err := e.Head(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter)
}
