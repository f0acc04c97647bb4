package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/wiggums/internal/core/config"
	"github.com/colonyops/wiggums/internal/core/plan"
	"github.com/colonyops/wiggums/internal/core/runlog"
	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/internal/data/db"
	"github.com/colonyops/wiggums/internal/data/stores"
	"github.com/colonyops/wiggums/internal/store/jsonfile"
)

// StateDirName is the directory created next to a plan file for its run
// state, attempt logs and status file.
const StateDirName = ".wiggums"

// StateFileName is the JSON snapshot inside the state directory.
const StateFileName = "state.json"

// StateDir returns the state directory of the plan at planPath.
func StateDir(planPath string) string {
	return filepath.Join(filepath.Dir(planPath), StateDirName)
}

// planState is a parsed plan with its persisted state applied.
type planState struct {
	path   string
	logs   *runlog.Dir
	doc    *plan.Document
	graph  *story.Graph
	store  story.Store
	ledger story.Ledger // nil for the JSON backend
	report story.ReconcileReport
	// resumed is false when nothing was persisted yet.
	resumed bool
	closer  func() error
}

func (s *planState) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// openPlan parses the plan at path, opens its state backend and reconciles
// the persisted snapshot onto the fresh graph. RUNNING stories left by an
// interrupted run are requeued, so only commands that own the run use it.
func openPlan(ctx context.Context, path, backend string) (*planState, error) {
	return loadPlan(ctx, path, backend, true)
}

// viewPlan is openPlan for read-only commands. Stories persisted as RUNNING
// stay running, since a live run may own them.
func viewPlan(ctx context.Context, path, backend string) (*planState, error) {
	return loadPlan(ctx, path, backend, false)
}

func loadPlan(ctx context.Context, path, backend string, requeue bool) (*planState, error) {
	doc, err := readPlan(path)
	if err != nil {
		return nil, err
	}

	graph, err := story.FromPlan(doc)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	dir := StateDir(path)
	st := &planState{
		path:  path,
		logs:  runlog.New(dir),
		doc:   doc,
		graph: graph,
	}

	if err := st.openBackend(backend, dir); err != nil {
		return nil, err
	}

	snap, err := st.store.Load(ctx)
	switch {
	case errors.Is(err, story.ErrNoSnapshot):
		return st, nil
	case err != nil:
		_ = st.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}

	if requeue {
		st.report, err = graph.Reconcile(snap)
	} else {
		st.report, err = graph.Restore(snap)
	}
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("reconcile state: %w", err)
	}
	st.resumed = true
	return st, nil
}

func (s *planState) openBackend(backend, dir string) error {
	switch backend {
	case config.BackendJSON:
		s.store = jsonfile.NewSnapshotStore(filepath.Join(dir, StateFileName))
		return nil
	case config.BackendSQLite:
		database, err := openDatabase(filepath.Join(dir, db.FileName))
		if err != nil {
			return err
		}
		s.store = stores.NewSnapshotStore(database)
		s.ledger = stores.NewAttemptStore(database)
		s.closer = database.Close
		return nil
	default:
		return fmt.Errorf("unknown state backend %q", backend)
	}
}

// openDatabase opens the SQLite state, moving a corrupted database aside
// and starting fresh.
func openDatabase(path string) (*db.DB, error) {
	database, err := db.Open(path, db.DefaultOpenOptions())
	if err == nil {
		return database, nil
	}
	if !stores.IsCorruptionError(err) {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backup, rerr := stores.RecoverFromCorruption(path)
	if rerr != nil {
		return nil, fmt.Errorf("open database: %w", errors.Join(err, rerr))
	}
	log.Warn().Err(err).Str("backup", backup).Msg("database corrupted, moved aside")

	database, err = db.Open(path, db.DefaultOpenOptions())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func readPlan(path string) (*plan.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	doc, err := plan.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return doc, nil
}

// planArg returns the required plan path argument.
func planArg(c *cli.Command) (string, error) {
	if c.Args().Len() < 1 {
		return "", fmt.Errorf("plan file is required")
	}
	return c.Args().First(), nil
}

func backendFlag(dest *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "state-backend",
		Usage:       "snapshot backend (json, sqlite); defaults to state.backend from config",
		Destination: dest,
	}
}

// backend returns the flag value, falling back to the configured backend.
func (f *Flags) backend(flag string) string {
	if flag != "" {
		return flag
	}
	return f.Config.State.Backend
}
