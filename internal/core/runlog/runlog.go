// Package runlog writes the human-facing artifacts of a run: one log file
// per attempt and a status.json that can be watched while a run is live.
package runlog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Dir is a run's state directory (<plan-dir>/.wiggums).
type Dir struct {
	root string
}

// New returns a Dir rooted at root. Nothing is created until written.
func New(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the state directory.
func (d *Dir) Root() string { return d.root }

// LogsDir is where attempt logs are written.
func (d *Dir) LogsDir() string { return filepath.Join(d.root, "logs") }

// StatusPath is the live status file.
func (d *Dir) StatusPath() string { return filepath.Join(d.root, "status.json") }

// AttemptLogPath returns the log file for one attempt: STORY-001_attempt_2.log.
func (d *Dir) AttemptLogPath(storyID string, attempt int) string {
	return filepath.Join(d.LogsDir(), fmt.Sprintf("%s_attempt_%d.log", storyID, attempt))
}

// AttemptLog is the captured output of one attempt.
type AttemptLog struct {
	StoryID   string
	Attempt   int
	Tier      string
	Branch    string
	Command   []string
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration
}

// WriteAttempt writes l to its log file and returns the path.
func (d *Dir) WriteAttempt(l AttemptLog) (string, error) {
	path := d.AttemptLogPath(l.StoryID, l.Attempt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s attempt %d (tier: %s, branch: %s)\n", l.StoryID, l.Attempt, l.Tier, l.Branch)
	fmt.Fprintf(&buf, "# cmd: %s\n", strings.Join(l.Command, " "))
	fmt.Fprintf(&buf, "# started: %s duration: %s\n\n", l.StartedAt.Format(time.RFC3339), l.Duration.Round(time.Second))
	buf.WriteString("## STDOUT\n")
	buf.Write(l.Stdout)
	if len(l.Stderr) > 0 {
		buf.WriteString("\n## STDERR\n")
		buf.Write(l.Stderr)
	}
	fmt.Fprintf(&buf, "\n## EXIT CODE: %d\n", l.ExitCode)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write attempt log: %w", err)
	}
	return path, nil
}

// AttemptLogs returns the existing log files for a story ordered by attempt
// number. A missing logs directory yields no files.
func (d *Dir) AttemptLogs(storyID string) ([]string, error) {
	pattern := doublestar.EscapeMeta(storyID) + "_attempt_*.log"

	matches, err := doublestar.Glob(os.DirFS(d.LogsDir()), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob attempt logs: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return attemptNumber(matches[i]) < attemptNumber(matches[j])
	})

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = filepath.Join(d.LogsDir(), m)
	}
	return paths, nil
}

func attemptNumber(name string) int {
	_, rest, ok := strings.Cut(filepath.Base(name), "_attempt_")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSuffix(rest, ".log"))
	return n
}
