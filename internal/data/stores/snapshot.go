// Package stores implements the story persistence interfaces on SQLite.
package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/internal/data/db"
)

// SnapshotStore implements story.Store using SQLite. Each Save replaces the
// stories table in a single transaction.
type SnapshotStore struct {
	db *db.DB
	// saveAttempts and saveBackoff bound retries of a Save that hit
	// SQLITE_BUSY after the connection's busy timeout.
	saveAttempts int
	saveBackoff  time.Duration
}

var _ story.Store = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SQLite-backed snapshot store.
func NewSnapshotStore(db *db.DB) *SnapshotStore {
	return &SnapshotStore{db: db, saveAttempts: 4, saveBackoff: 50 * time.Millisecond}
}

// Load returns the persisted snapshot. Returns story.ErrNoSnapshot if
// nothing has been saved.
func (s *SnapshotStore) Load(ctx context.Context) (story.Snapshot, error) {
	conn := s.db.Conn()

	var updatedAt int64
	err := conn.QueryRowContext(ctx, "SELECT updated_at FROM snapshot_meta WHERE id = 1").Scan(&updatedAt)
	if IsNotFoundError(err) {
		return story.Snapshot{}, story.ErrNoSnapshot
	}
	if err != nil {
		return story.Snapshot{}, fmt.Errorf("failed to read snapshot meta: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, position, title, depends_on, status, attempts, retry_notes, branch,
		       input_tokens, output_tokens, cost_usd, model
		FROM stories
		ORDER BY position, id
	`)
	if err != nil {
		return story.Snapshot{}, fmt.Errorf("failed to list stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := story.Snapshot{
		Stories:   make(map[string]story.ItemState),
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}

	for rows.Next() {
		var (
			id          string
			st          story.ItemState
			deps, notes string
			status      string
		)
		if err := rows.Scan(
			&id, &st.Position, &st.Title, &deps, &status, &st.Attempts, &notes, &st.Branch,
			&st.Cost.InputTokens, &st.Cost.OutputTokens, &st.Cost.CostUSD, &st.Cost.Model,
		); err != nil {
			return story.Snapshot{}, fmt.Errorf("failed to scan story: %w", err)
		}

		st.Status = story.Status(status)
		if st.DependsOn, err = unmarshalStrings(deps); err != nil {
			return story.Snapshot{}, fmt.Errorf("story %s depends_on: %w", id, err)
		}
		if st.RetryNotes, err = unmarshalStrings(notes); err != nil {
			return story.Snapshot{}, fmt.Errorf("story %s retry_notes: %w", id, err)
		}

		snap.Stories[id] = st
	}
	if err := rows.Err(); err != nil {
		return story.Snapshot{}, fmt.Errorf("failed to iterate stories: %w", err)
	}

	return snap, nil
}

// Save replaces the persisted snapshot. A save that finds the database
// locked is retried with a growing backoff.
func (s *SnapshotStore) Save(ctx context.Context, snap story.Snapshot) error {
	wait := s.saveBackoff
	for attempt := 1; ; attempt++ {
		err := s.save(ctx, snap)
		if err == nil || !IsBusyError(err) {
			return err
		}
		if attempt >= s.saveAttempts {
			return fmt.Errorf("save snapshot to %s: busy after %d attempts: %w", s.db.Path(), attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (s *SnapshotStore) save(ctx context.Context, snap story.Snapshot) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM stories"); err != nil {
			return fmt.Errorf("failed to clear stories: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stories (id, position, title, depends_on, status, attempts, retry_notes, branch,
			                     input_tokens, output_tokens, cost_usd, model)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for id, st := range snap.Stories {
			deps, err := marshalStrings(st.DependsOn)
			if err != nil {
				return err
			}
			notes, err := marshalStrings(st.RetryNotes)
			if err != nil {
				return err
			}

			_, err = stmt.ExecContext(ctx,
				id, st.Position, st.Title, deps, string(st.Status), st.Attempts, notes, st.Branch,
				st.Cost.InputTokens, st.Cost.OutputTokens, st.Cost.CostUSD, st.Cost.Model,
			)
			if err != nil {
				return fmt.Errorf("failed to save story %s: %w", id, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshot_meta (id, updated_at) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at
		`, snap.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to save snapshot meta: %w", err)
		}

		return nil
	})
}

func marshalStrings(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings decodes a JSON list column. An empty list decodes to nil
// to match the JSON backend.
func unmarshalStrings(data string) ([]string, error) {
	var v []string
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}
