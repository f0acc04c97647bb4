package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Diff returns the unified diff of branch against its merge base with base.
func (e *Executor) Diff(ctx context.Context, dir, base, branch string) (string, error) {
	// Using three-dot notation to compare against merge base
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, "diff", base+"..."+branch)
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	return string(out), nil
}

func (e *Executor) ChangedFiles(ctx context.Context, dir, base, branch string) ([]string, error) {
	diff, err := e.Diff(ctx, dir, base, branch)
	if err != nil {
		return nil, err
	}
	return parseChangedFiles(diff)
}

// parseChangedFiles returns the paths touched by a unified diff. Deleted
// files report their old name, everything else the new name.
func parseChangedFiles(diff string) ([]string, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(diff))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		name := f.NewName
		if f.IsDelete {
			name = f.OldName
		}
		paths = append(paths, name)
	}
	return paths, nil
}
