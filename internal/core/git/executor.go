package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/colonyops/wiggums/pkg/executil"
)

// Executor implements Git using the git command-line tool.
type Executor struct {
	gitPath string
	exec    executil.Executor
}

var _ Git = (*Executor)(nil)

// NewExecutor creates a new git executor with the specified git binary path.
func NewExecutor(gitPath string, exec executil.Executor) *Executor {
	return &Executor{gitPath: gitPath, exec: exec}
}

func (e *Executor) TopLevel(ctx context.Context, dir string) (string, error) {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *Executor) Branch(ctx context.Context, dir string) (string, error) {
	// Try to get branch name first
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("git branch: %w", err)
	}

	branch := strings.TrimSpace(string(out))
	if branch != "" {
		return branch, nil
	}

	// Empty branch name means detached HEAD - get short commit SHA
	out, err = e.exec.RunDir(ctx, dir, e.gitPath, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

func (e *Executor) Head(ctx context.Context, dir string) (string, error) {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *Executor) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) == 0, nil
}

func (e *Executor) BranchExists(ctx context.Context, dir, branch string) (bool, error) {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "branch", "--list", branch)
	if err != nil {
		return false, fmt.Errorf("git branch --list: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (e *Executor) DeleteBranch(ctx context.Context, dir, branch string) error {
	if _, err := e.exec.RunDir(ctx, dir, e.gitPath, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

func (e *Executor) AddWorktree(ctx context.Context, dir, path, branch, base string) error {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "worktree", "add", "-b", branch, path, base)
	if err != nil {
		return fmt.Errorf("worktree add %s from %s: %s: %w", branch, base, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// RemoveWorktree removes the worktree, falling back to deleting the
// directory and pruning when git refuses (a half-created or already
// deleted worktree).
func (e *Executor) RemoveWorktree(ctx context.Context, dir, path string) error {
	if _, err := e.exec.RunDir(ctx, dir, e.gitPath, "worktree", "remove", "--force", path); err == nil {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove worktree dir %s: %w", path, err)
	}
	return e.PruneWorktrees(ctx, dir)
}

func (e *Executor) PruneWorktrees(ctx context.Context, dir string) error {
	if _, err := e.exec.RunDir(ctx, dir, e.gitPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("worktree prune: %w", err)
	}
	return nil
}

func (e *Executor) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	clean, err := e.IsClean(ctx, dir)
	if err != nil {
		return false, err
	}
	if clean {
		return false, nil
	}

	if _, err := e.exec.RunDir(ctx, dir, e.gitPath, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}
	if out, err := e.exec.RunDir(ctx, dir, e.gitPath, "commit", "--no-verify", "-m", message); err != nil {
		return false, fmt.Errorf("git commit: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return true, nil
}

func (e *Executor) Merge(ctx context.Context, dir, branch, message string) (MergeResult, error) {
	exists, err := e.BranchExists(ctx, dir, branch)
	if err != nil {
		return MergeClean, err
	}
	if !exists {
		return MergeClean, fmt.Errorf("merge %s: %w", branch, ErrBranchMissing)
	}

	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "merge", "--no-ff", branch, "-m", message)
	if err == nil {
		return MergeClean, nil
	}

	if !e.mergeInProgress(ctx, dir) {
		return MergeClean, fmt.Errorf("%w: %s: %s: %w", ErrMergeFailed, branch, strings.TrimSpace(string(out)), err)
	}

	if _, abortErr := e.exec.RunDir(ctx, dir, e.gitPath, "merge", "--abort"); abortErr != nil {
		return MergeConflict, fmt.Errorf("%w: abort after conflict on %s: %w", ErrMergeFailed, branch, errors.Join(abortErr, err))
	}
	return MergeConflict, nil
}

// mergeInProgress reports whether a stopped merge left MERGE_HEAD behind,
// which is how a conflict differs from a merge git refused to start.
func (e *Executor) mergeInProgress(ctx context.Context, dir string) bool {
	_, err := e.exec.RunDir(ctx, dir, e.gitPath, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	return err == nil
}
