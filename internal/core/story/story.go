// Package story defines the work-item domain: stories, their lifecycle
// statuses, the dependency graph the supervisor schedules from, and the
// snapshot used to resume a run.
package story

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of a story.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusMergeConflict Status = "merge_conflict"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusMergeConflict}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusMergeConflict:
		return true
	}
	return false
}

// IsTerminal reports whether no further attempts are scheduled from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusMergeConflict
}

func (s Status) String() string { return string(s) }

// ParseStatus converts a persisted string to a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid status %q", v)
	}
	return s, nil
}

// Usage is token and spend accounting for one or more attempts.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	// Model is the tier of the most recent attempt that reported usage.
	Model string `json:"model,omitempty"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CostUSD += o.CostUSD
	if o.Model != "" {
		u.Model = o.Model
	}
}

// Item is one story in the graph.
type Item struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	DependsOn []string `json:"depends_on"`
	Status    Status   `json:"status"`
	// Attempts counts finished attempts.
	Attempts   int      `json:"attempts"`
	RetryNotes []string `json:"retry_notes"`
	// Branch is the branch of the most recent attempt.
	Branch string `json:"branch,omitempty"`
	Cost   Usage  `json:"cost"`
}

// NextAttempt is the attempt number the next launch would use.
func (it Item) NextAttempt() int { return it.Attempts + 1 }

func (it Item) clone() Item {
	c := it
	c.DependsOn = append([]string(nil), it.DependsOn...)
	c.RetryNotes = append([]string(nil), it.RetryNotes...)
	return c
}

// BranchName returns the deterministic branch for an attempt of a story:
// "STORY-001", 2 -> "story-001-attempt-2".
func BranchName(id string, attempt int) string {
	return fmt.Sprintf("%s-attempt-%d", strings.ToLower(id), attempt)
}
