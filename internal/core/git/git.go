// Package git provides an abstraction for git operations.
package git

import (
	"context"
	"errors"
)

var (
	// ErrBranchMissing is returned when a merge names a branch that does not exist.
	ErrBranchMissing = errors.New("branch does not exist")
	// ErrMergeFailed is returned when a merge fails for a reason other than a
	// content conflict.
	ErrMergeFailed = errors.New("merge failed")
)

// MergeResult is the outcome of a merge that ran to a decision.
type MergeResult int

const (
	// MergeClean means the branch was merged.
	MergeClean MergeResult = iota
	// MergeConflict means the merge hit conflicts and was aborted; the
	// target branch is unchanged.
	MergeConflict
)

func (r MergeResult) String() string {
	if r == MergeConflict {
		return "conflict"
	}
	return "clean"
}

// Git defines git operations needed by wiggums.
type Git interface {
	// TopLevel returns the root of the repository containing dir.
	TopLevel(ctx context.Context, dir string) (string, error)
	// Branch returns the current branch name, or short commit SHA if in detached HEAD state.
	Branch(ctx context.Context, dir string) (string, error)
	// Head returns the full commit SHA of HEAD in dir.
	Head(ctx context.Context, dir string) (string, error)
	// IsClean returns true if there are no uncommitted changes in dir.
	IsClean(ctx context.Context, dir string) (bool, error)
	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, dir, branch string) (bool, error)
	// DeleteBranch force-deletes a local branch.
	DeleteBranch(ctx context.Context, dir, branch string) error

	// AddWorktree creates a worktree at path on a new branch started from base.
	AddWorktree(ctx context.Context, dir, path, branch, base string) error
	// RemoveWorktree removes the worktree at path. The branch is kept.
	RemoveWorktree(ctx context.Context, dir, path string) error
	// PruneWorktrees drops administrative entries for missing worktrees.
	PruneWorktrees(ctx context.Context, dir string) error

	// CommitAll stages and commits every change in dir. It returns false
	// when there was nothing to commit.
	CommitAll(ctx context.Context, dir, message string) (bool, error)
	// Merge merges branch into the branch checked out in dir with a merge
	// commit. On conflict the merge is aborted and MergeConflict returned.
	Merge(ctx context.Context, dir, branch, message string) (MergeResult, error)
	// ChangedFiles lists files changed on branch since it diverged from base.
	ChangedFiles(ctx context.Context, dir, base, branch string) ([]string, error)
}
