package story

import (
	"context"
	"time"
)

// AttemptRecord is the history entry written when an attempt finishes.
type AttemptRecord struct {
	RunID      string
	StoryID    string
	Attempt    int
	Tier       string
	Branch     string
	Outcome    string
	ExitCode   int
	Note       string
	Usage      Usage
	LogPath    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the attempt.
func (r AttemptRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Ledger records finished attempts.
type Ledger interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
	// ListAttempts returns records for storyID, or for every story when
	// storyID is empty, oldest first.
	ListAttempts(ctx context.Context, storyID string) ([]AttemptRecord, error)
}
