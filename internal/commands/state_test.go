package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/wiggums/internal/core/config"
	"github.com/colonyops/wiggums/internal/core/runlog"
	"github.com/colonyops/wiggums/internal/core/story"
)

const testPlan = `# Plan

## A-1 — Scaffold

Create the module layout.

## A-2 — Parser

### Dependencies
- A-1

Write the parser.

## A-3 — Docs

### Dependencies
- A-2

Document the parser.
`

func writePlan(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.md")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestStateDir(t *testing.T) {
	assert.Equal(t, filepath.Join("work", ".wiggums"), StateDir(filepath.Join("work", "plan.md")))
}

func TestOpenPlan_Fresh(t *testing.T) {
	path := writePlan(t, testPlan)

	st, err := openPlan(context.Background(), path, config.BackendJSON)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	assert.False(t, st.resumed)
	assert.Nil(t, st.ledger)
	assert.Equal(t, 3, st.graph.Len())
	assert.Equal(t, 3, st.graph.Counts()[story.StatusPending])
}

func TestOpenPlan_Resume(t *testing.T) {
	for _, backend := range []string{config.BackendJSON, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			path := writePlan(t, testPlan)

			st, err := openPlan(ctx, path, backend)
			require.NoError(t, err)
			_, err = st.graph.Apply("A-1", story.Start("a-1-attempt-1"))
			require.NoError(t, err)
			_, err = st.graph.Apply("A-1", story.Complete(story.Usage{CostUSD: 0.25}))
			require.NoError(t, err)
			_, err = st.graph.Apply("A-2", story.Start("a-2-attempt-1"))
			require.NoError(t, err)
			require.NoError(t, st.store.Save(ctx, st.graph.Snapshot(time.Now())))
			require.NoError(t, st.Close())

			st, err = openPlan(ctx, path, backend)
			require.NoError(t, err)
			defer func() { _ = st.Close() }()

			assert.True(t, st.resumed)
			assert.Equal(t, []string{"A-2"}, st.report.Requeued)

			a1, _ := st.graph.Get("A-1")
			assert.Equal(t, story.StatusCompleted, a1.Status)
			assert.InDelta(t, 0.25, a1.Cost.CostUSD, 1e-9)

			a2, _ := st.graph.Get("A-2")
			assert.Equal(t, story.StatusPending, a2.Status)
			assert.Equal(t, 0, a2.Attempts)

			if backend == config.BackendSQLite {
				assert.NotNil(t, st.ledger)
				assert.FileExists(t, filepath.Join(StateDir(path), "wiggums.db"))
			} else {
				assert.FileExists(t, filepath.Join(StateDir(path), StateFileName))
			}
		})
	}
}

func TestStatus_ShowsLiveRunningStory(t *testing.T) {
	for _, backend := range []string{config.BackendJSON, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			path := writePlan(t, testPlan)

			// A run in progress: A-1 is mid-attempt and its state is saved.
			st, err := openPlan(ctx, path, backend)
			require.NoError(t, err)
			_, err = st.graph.Apply("A-1", story.Start("a-1-attempt-1"))
			require.NoError(t, err)
			require.NoError(t, st.store.Save(ctx, st.graph.Snapshot(time.Now())))
			defer func() { _ = st.Close() }()

			view, err := viewPlan(ctx, path, backend)
			require.NoError(t, err)
			a1, _ := view.graph.Get("A-1")
			assert.Equal(t, story.StatusRunning, a1.Status)
			assert.Empty(t, view.report.Requeued)
			require.NoError(t, view.Close())

			cfg := config.DefaultConfig()
			cmd := &StatusCmd{flags: &Flags{Config: &cfg}, jsonOutput: true, backend: backend}
			var out bytes.Buffer
			require.NoError(t, cmd.render(ctx, &out, path))

			var doc runlog.Status
			require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
			assert.Equal(t, story.StatusRunning, doc.Stories["A-1"].Status)
			assert.Equal(t, 1, doc.Summary[story.StatusRunning])

			// Viewing did not rewrite the saved state.
			saved, err := st.store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, story.StatusRunning, saved.Stories["A-1"].Status)
		})
	}
}

func TestOpenPlan_Errors(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		_, err := openPlan(context.Background(), writePlan(t, testPlan), "redis")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown state backend "redis"`)
	})

	t.Run("missing plan", func(t *testing.T) {
		_, err := openPlan(context.Background(), filepath.Join(t.TempDir(), "nope.md"), config.BackendJSON)
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("corrupt snapshot", func(t *testing.T) {
		path := writePlan(t, testPlan)
		require.NoError(t, os.MkdirAll(StateDir(path), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(StateDir(path), StateFileName), []byte("{not json"), 0o644))

		_, err := openPlan(context.Background(), path, config.BackendJSON)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load state")
	})
}

func TestFlagsBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.State.Backend = config.BackendSQLite
	f := &Flags{Config: &cfg}

	assert.Equal(t, config.BackendSQLite, f.backend(""))
	assert.Equal(t, config.BackendJSON, f.backend(config.BackendJSON))
}
