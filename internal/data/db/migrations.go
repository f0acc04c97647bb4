package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// step is one forward-only schema change, read from migrations/NNNN_name.sql.
type step struct {
	version int
	name    string
	sql     string
}

// schemaSteps returns the embedded steps in version order. Versions must be
// contiguous from 1 so user_version always names the last applied step.
func schemaSteps() ([]step, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	steps := make([]step, 0, len(files))
	for _, f := range files {
		version, name, err := parseStepName(path.Base(f))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", f, err)
		}
		body, err := fs.ReadFile(migrationsFS, f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		steps = append(steps, step{version: version, name: name, sql: string(body)})
	}

	slices.SortFunc(steps, func(a, b step) int { return a.version - b.version })
	for i, s := range steps {
		if s.version != i+1 {
			return nil, fmt.Errorf("migration %04d_%s: expected version %04d", s.version, s.name, i+1)
		}
	}
	return steps, nil
}

// parseStepName splits "0002_attempts_story_index.sql" into 2 and
// "attempts_story_index".
func parseStepName(file string) (int, string, error) {
	base, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", fmt.Errorf("missing .sql suffix")
	}
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("expected NNNN_name.sql")
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("version %q must be a positive integer", num)
	}
	return version, name, nil
}

// schemaVersion reads the version stamped into the database header.
func schemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// migrateUp applies every step newer than the database's user_version. Each
// step and its version bump commit together. A database stamped with a
// version this build does not know is refused.
func migrateUp(ctx context.Context, conn *sql.DB) error {
	steps, err := schemaSteps()
	if err != nil {
		return err
	}

	current, err := schemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	if current > len(steps) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(steps))
	}

	for _, s := range steps[current:] {
		log.Debug().Int("version", s.version).Str("name", s.name).Msg("applying migration")
		if err := applyStep(ctx, conn, s); err != nil {
			return fmt.Errorf("migration %04d_%s: %w", s.version, s.name, err)
		}
	}
	return nil
}

func applyStep(ctx context.Context, conn *sql.DB, s step) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.sql); err != nil {
		return err
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.version)); err != nil {
		return fmt.Errorf("stamp version: %w", err)
	}
	return tx.Commit()
}
