package wiggums

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/colonyops/wiggums/internal/core/git"
	"github.com/colonyops/wiggums/internal/core/logging"
	"github.com/colonyops/wiggums/internal/core/story"
)

// Workspace is the isolated checkout of one attempt.
type Workspace struct {
	Branch string
	Path   string
	// Base is the ref the branch was created from.
	Base string
}

// MergeOutcome is the result of integrating an attempt branch.
type MergeOutcome struct {
	Conflict bool
	// Files lists the paths the branch changed, reported on conflict.
	Files []string
}

// Workspaces isolates attempts and integrates their results into the
// mainline. All methods are called from the supervisor loop, one at a time.
type Workspaces interface {
	// Prepare creates the workspace for attempt number attempt of it.
	Prepare(ctx context.Context, it story.Item, attempt int) (Workspace, error)
	// Checkpoint commits anything the agent left uncommitted.
	Checkpoint(ctx context.Context, ws Workspace, message string) error
	// Release removes the workspace. The branch survives.
	Release(ctx context.Context, ws Workspace) error
	// Merge integrates the branch into the mainline. A content conflict is
	// reported through MergeOutcome with the mainline untouched; an error
	// means the merge could not be attempted or cleaned up.
	Merge(ctx context.Context, ws Workspace) (MergeOutcome, error)
}

// WorkspaceOptions configures GitWorkspaces.
type WorkspaceOptions struct {
	// Repo is any path inside the target repository.
	Repo string
	// Root is the directory holding attempt worktrees.
	Root string
	// Mainline is the branch merged into. Empty means the branch currently
	// checked out in Repo.
	Mainline string
}

// GitWorkspaces implements Workspaces with git worktrees. Each attempt gets
// <root>/<branch> on a fresh branch; merges run in the repository root,
// which must have the mainline checked out.
type GitWorkspaces struct {
	git      git.Git
	repo     string
	root     string
	mainline string
	log      zerolog.Logger
}

var _ Workspaces = (*GitWorkspaces)(nil)

// NewGitWorkspaces returns an unprepared GitWorkspaces. Call Preflight
// before use.
func NewGitWorkspaces(g git.Git, opts WorkspaceOptions, log zerolog.Logger) *GitWorkspaces {
	return &GitWorkspaces{
		git:      g,
		repo:     opts.Repo,
		root:     opts.Root,
		mainline: opts.Mainline,
		log:      logging.With(log, "workspaces"),
	}
}

// Preflight resolves the repository root and mainline and checks that the
// repository can accept merges.
func (w *GitWorkspaces) Preflight(ctx context.Context) error {
	top, err := w.git.TopLevel(ctx, w.repo)
	if err != nil {
		return fmt.Errorf("resolve repository: %w", err)
	}
	w.repo = top

	current, err := w.git.Branch(ctx, w.repo)
	if err != nil {
		return fmt.Errorf("resolve current branch: %w", err)
	}
	if w.mainline == "" {
		w.mainline = current
	}
	if current != w.mainline {
		return fmt.Errorf("mainline %q is not checked out in %s (on %q)", w.mainline, w.repo, current)
	}

	clean, err := w.git.IsClean(ctx, w.repo)
	if err != nil {
		return fmt.Errorf("check working tree: %w", err)
	}
	if !clean {
		return fmt.Errorf("%s has uncommitted changes; commit or stash them before running", w.repo)
	}

	if err := w.git.PruneWorktrees(ctx, w.repo); err != nil {
		w.log.Warn().Err(err).Msg("prune worktrees")
	}

	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create worktree root: %w", err)
	}

	w.log.Debug().Str("repo", w.repo).Str("mainline", w.mainline).Str("root", w.root).Msg("workspaces ready")
	return nil
}

// Repo returns the repository root.
func (w *GitWorkspaces) Repo() string { return w.repo }

// Mainline returns the branch attempts merge into.
func (w *GitWorkspaces) Mainline() string { return w.mainline }

// Prepare creates a worktree on branch story.BranchName(id, attempt). A
// retry starts from the previous attempt's branch when it still exists, so
// partial work carries forward; that branch is then deleted. Leftovers of a
// crashed attempt with the same name are removed first.
func (w *GitWorkspaces) Prepare(ctx context.Context, it story.Item, attempt int) (Workspace, error) {
	ws := Workspace{
		Branch: story.BranchName(it.ID, attempt),
		Base:   w.mainline,
	}
	ws.Path = filepath.Join(w.root, ws.Branch)

	var superseded string
	if attempt > 1 {
		prev := story.BranchName(it.ID, attempt-1)
		ok, err := w.git.BranchExists(ctx, w.repo, prev)
		if err != nil {
			return Workspace{}, err
		}
		if ok {
			ws.Base = prev
			superseded = prev
		}
	}

	if _, err := os.Stat(ws.Path); err == nil {
		w.log.Warn().Str("path", ws.Path).Msg("removing stale worktree")
		if err := w.git.RemoveWorktree(ctx, w.repo, ws.Path); err != nil {
			return Workspace{}, fmt.Errorf("remove stale worktree: %w", err)
		}
	}

	exists, err := w.git.BranchExists(ctx, w.repo, ws.Branch)
	if err != nil {
		return Workspace{}, err
	}
	if exists {
		w.log.Warn().Str("branch", ws.Branch).Msg("deleting stale branch")
		if err := w.git.DeleteBranch(ctx, w.repo, ws.Branch); err != nil {
			return Workspace{}, fmt.Errorf("delete stale branch: %w", err)
		}
	}

	if err := w.git.AddWorktree(ctx, w.repo, ws.Path, ws.Branch, ws.Base); err != nil {
		return Workspace{}, fmt.Errorf("create worktree: %w", err)
	}

	if superseded != "" {
		if err := w.git.DeleteBranch(ctx, w.repo, superseded); err != nil {
			w.log.Warn().Err(err).Str("branch", superseded).Msg("delete superseded branch")
		}
	}

	w.log.Debug().Str("branch", ws.Branch).Str("base", ws.Base).Str("path", ws.Path).Msg("workspace prepared")
	return ws, nil
}

// Checkpoint commits uncommitted changes in the worktree.
func (w *GitWorkspaces) Checkpoint(ctx context.Context, ws Workspace, message string) error {
	committed, err := w.git.CommitAll(ctx, ws.Path, message)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", ws.Branch, err)
	}
	if committed {
		w.log.Debug().Str("branch", ws.Branch).Msg("committed leftover changes")
	}
	return nil
}

// Release removes the worktree directory.
func (w *GitWorkspaces) Release(ctx context.Context, ws Workspace) error {
	return w.git.RemoveWorktree(ctx, w.repo, ws.Path)
}

// Merge merges the attempt branch with --no-ff. A clean merge deletes the
// branch; a conflict keeps it for inspection.
func (w *GitWorkspaces) Merge(ctx context.Context, ws Workspace) (MergeOutcome, error) {
	before, err := w.git.Head(ctx, w.repo)
	if err != nil {
		return MergeOutcome{}, fmt.Errorf("resolve mainline head: %w", err)
	}

	res, err := w.git.Merge(ctx, w.repo, ws.Branch, "merge: "+ws.Branch)
	if err != nil {
		return MergeOutcome{}, err
	}

	if res == git.MergeConflict {
		after, err := w.git.Head(ctx, w.repo)
		if err != nil {
			return MergeOutcome{}, fmt.Errorf("resolve mainline head: %w", err)
		}
		if after != before {
			return MergeOutcome{}, fmt.Errorf("%w: %s moved from %s to %s during aborted merge of %s",
				git.ErrMergeFailed, w.mainline, before, after, ws.Branch)
		}

		files, err := w.git.ChangedFiles(ctx, w.repo, w.mainline, ws.Branch)
		if err != nil {
			w.log.Warn().Err(err).Str("branch", ws.Branch).Msg("list conflicting branch changes")
		}
		return MergeOutcome{Conflict: true, Files: files}, nil
	}

	if err := w.git.DeleteBranch(ctx, w.repo, ws.Branch); err != nil {
		w.log.Warn().Err(err).Str("branch", ws.Branch).Msg("delete merged branch")
	}
	return MergeOutcome{}, nil
}
