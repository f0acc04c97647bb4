package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/internal/data/db"
)

// AttemptStore implements story.Ledger using SQLite.
type AttemptStore struct {
	db *db.DB
}

var _ story.Ledger = (*AttemptStore)(nil)

// NewAttemptStore creates a new SQLite-backed attempt ledger.
func NewAttemptStore(db *db.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// RecordAttempt appends one finished attempt.
func (s *AttemptStore) RecordAttempt(ctx context.Context, rec story.AttemptRecord) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO attempts (run_id, story_id, attempt, tier, branch, outcome, exit_code, note,
		                      input_tokens, output_tokens, cost_usd, model, log_path, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID, rec.StoryID, rec.Attempt, rec.Tier, rec.Branch, rec.Outcome, rec.ExitCode, rec.Note,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.CostUSD, rec.Usage.Model, rec.LogPath,
		rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts for storyID, or all attempts when storyID is
// empty, oldest first.
func (s *AttemptStore) ListAttempts(ctx context.Context, storyID string) ([]story.AttemptRecord, error) {
	query := `
		SELECT run_id, story_id, attempt, tier, branch, outcome, exit_code, note,
		       input_tokens, output_tokens, cost_usd, model, log_path, started_at, finished_at
		FROM attempts`
	var args []any
	if storyID != "" {
		query += " WHERE story_id = ?"
		args = append(args, storyID)
	}
	query += " ORDER BY id"

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []story.AttemptRecord
	for rows.Next() {
		var (
			rec               story.AttemptRecord
			started, finished int64
		)
		if err := rows.Scan(
			&rec.RunID, &rec.StoryID, &rec.Attempt, &rec.Tier, &rec.Branch, &rec.Outcome, &rec.ExitCode, &rec.Note,
			&rec.Usage.InputTokens, &rec.Usage.OutputTokens, &rec.Usage.CostUSD, &rec.Usage.Model, &rec.LogPath,
			&started, &finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.FinishedAt = time.Unix(0, finished).UTC()
		records = append(records, rec)
	}

	return records, rows.Err()
}
