package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load(filepath.Join(dataDir, "nope.yaml"), dataDir)
	require.NoError(t, err)

	want := DefaultConfig()
	want.DataDir = dataDir
	assert.Equal(t, &want, cfg)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.Equal(t, 3, cfg.Run.MaxConcurrent)
	assert.Equal(t, BackendJSON, cfg.State.Backend)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
agent:
  command: my-agent
  args: ["--model", "{{ .Tier }}"]
  tiers: [small, large]
  env:
    FOO: bar
run:
  max_concurrent: 5
  escalation: "small:2,large:1"
  budget_per_attempt: 1.25
state:
  backend: sqlite
workspace:
  mainline: trunk
`)
	dataDir := t.TempDir()

	cfg, err := Load(path, dataDir)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "git", cfg.GitPath)
	assert.Equal(t, "my-agent", cfg.Agent.Command)
	assert.Equal(t, []string{"--model", "{{ .Tier }}"}, cfg.Agent.Args)
	assert.Equal(t, []string{"--max-budget-usd", "{{ .Budget }}"}, cfg.Agent.BudgetArgs)
	assert.Equal(t, []string{"small", "large"}, cfg.Agent.Tiers)
	assert.Equal(t, map[string]string{"FOO": "bar"}, cfg.Agent.Env)
	assert.Equal(t, 5, cfg.Run.MaxConcurrent)
	assert.Equal(t, "small:2,large:1", cfg.Run.Escalation)
	assert.InDelta(t, 1.25, cfg.Run.BudgetPerAttempt, 1e-9)
	assert.Equal(t, BackendSQLite, cfg.State.Backend)
	assert.Equal(t, "trunk", cfg.Workspace.Mainline)
}

func TestLoad_ZeroValuesFallBackToDefaults(t *testing.T) {
	path := writeConfig(t, `
git_path: ""
run:
  max_concurrent: 0
  escalation: ""
state:
  backend: ""
`)

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "git", cfg.GitPath)
	assert.Equal(t, 3, cfg.Run.MaxConcurrent)
	assert.Equal(t, "sonnet:3", cfg.Run.Escalation)
	assert.Equal(t, BackendJSON, cfg.State.Backend)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "agent: [unclosed")

	_, err := Load(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_DataDirNotReadFromFile(t *testing.T) {
	path := writeConfig(t, "data_dir: /somewhere/else\n")
	dataDir := t.TempDir()

	cfg, err := Load(path, dataDir)
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty git path", mutate: func(c *Config) { c.GitPath = "" }, wantErr: "git_path"},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data directory"},
		{name: "empty agent command", mutate: func(c *Config) { c.Agent.Command = "" }, wantErr: "agent.command"},
		{name: "negative concurrency", mutate: func(c *Config) { c.Run.MaxConcurrent = -1 }, wantErr: "max_concurrent"},
		{name: "negative attempt budget", mutate: func(c *Config) { c.Run.BudgetPerAttempt = -1 }, wantErr: "budget_per_attempt"},
		{name: "negative run budget", mutate: func(c *Config) { c.Run.MaxTotalCost = -0.5 }, wantErr: "max_total_cost"},
		{name: "unknown backend", mutate: func(c *Config) { c.State.Backend = "redis" }, wantErr: "state.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = "/data"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWorktreeRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "worktrees", "app"), cfg.WorktreeRoot("/src/app"))

	cfg.Workspace.Root = "/custom"
	assert.Equal(t, "/custom", cfg.WorktreeRoot("/src/app"))
}

func TestPromptText(t *testing.T) {
	cfg := DefaultConfig()

	text, err := cfg.PromptText()
	require.NoError(t, err)
	assert.Empty(t, text)

	path := filepath.Join(t.TempDir(), "prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("do {{ .StoryID }}"), 0o644))
	cfg.Agent.PromptTemplate = path

	text, err = cfg.PromptText()
	require.NoError(t, err)
	assert.Equal(t, "do {{ .StoryID }}", text)

	cfg.Agent.PromptTemplate = filepath.Join(t.TempDir(), "missing.md")
	_, err = cfg.PromptText()
	assert.Error(t, err)
}
