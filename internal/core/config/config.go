// Package config provides configuration loading and validation for wiggums.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Storage backends for the run snapshot.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	GitPath   string          `yaml:"git_path"`
	Agent     AgentConfig     `yaml:"agent"`
	Run       RunConfig       `yaml:"run"`
	State     StateConfig     `yaml:"state"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	DataDir   string          `yaml:"-"` // set by CLI, not from config file
}

// AgentConfig describes how agent processes are launched.
type AgentConfig struct {
	// Command is the agent executable.
	Command string `yaml:"command"`
	// Args are rendered per attempt. Available fields: .StoryID, .Attempt,
	// .Tier, .Branch, .Workdir.
	Args []string `yaml:"args"`
	// BudgetArgs are appended when a per-attempt ceiling is set. Adds .Budget.
	BudgetArgs []string          `yaml:"budget_args"`
	Tiers      []string          `yaml:"tiers"`
	Env        map[string]string `yaml:"env"`
	// PromptTemplate is an optional path to a prompt template file.
	PromptTemplate string `yaml:"prompt_template"`
}

// RunConfig holds scheduling defaults, overridable from the run command.
type RunConfig struct {
	MaxConcurrent    int     `yaml:"max_concurrent"`
	Escalation       string  `yaml:"escalation"`
	BudgetPerAttempt float64 `yaml:"budget_per_attempt"`
	MaxTotalCost     float64 `yaml:"max_total_cost"`
	PauseBetween     bool    `yaml:"pause_between"`
}

// StateConfig selects the snapshot backend.
type StateConfig struct {
	Backend string `yaml:"backend"`
}

// WorkspaceConfig controls where attempt worktrees live.
type WorkspaceConfig struct {
	// Mainline is the branch merged into. Empty means the branch checked out
	// in the target repository.
	Mainline string `yaml:"mainline"`
	// Root is the worktree parent directory. Empty means
	// <data-dir>/worktrees/<repo-name>.
	Root string `yaml:"root"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GitPath: "git",
		Agent: AgentConfig{
			Command: "claude",
			Args: []string{
				"--print",
				"--dangerously-skip-permissions",
				"--model", "{{ .Tier }}",
				"--output-format", "json",
			},
			BudgetArgs: []string{"--max-budget-usd", "{{ .Budget }}"},
			Tiers:      []string{"haiku", "sonnet", "opus"},
		},
		Run: RunConfig{
			MaxConcurrent: 3,
			Escalation:    "sonnet:3",
		},
		State: StateConfig{
			Backend: BackendJSON,
		},
	}
}

// Load reads configuration from the given path. If the file doesn't exist,
// returns default configuration.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.GitPath == "" {
		c.GitPath = defaults.GitPath
	}
	if c.Agent.Command == "" {
		c.Agent.Command = defaults.Agent.Command
	}
	if len(c.Agent.Tiers) == 0 {
		c.Agent.Tiers = defaults.Agent.Tiers
	}
	if c.Run.MaxConcurrent == 0 {
		c.Run.MaxConcurrent = defaults.Run.MaxConcurrent
	}
	if c.Run.Escalation == "" {
		c.Run.Escalation = defaults.Run.Escalation
	}
	if c.State.Backend == "" {
		c.State.Backend = defaults.State.Backend
	}
}

// Validate checks that the configuration is structurally valid.
func (c *Config) Validate() error {
	if c.GitPath == "" {
		return fmt.Errorf("git_path cannot be empty")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command cannot be empty")
	}

	if c.Run.MaxConcurrent < 1 {
		return fmt.Errorf("run.max_concurrent must be at least 1")
	}

	if c.Run.BudgetPerAttempt < 0 {
		return fmt.Errorf("run.budget_per_attempt cannot be negative")
	}

	if c.Run.MaxTotalCost < 0 {
		return fmt.Errorf("run.max_total_cost cannot be negative")
	}

	if !slices.Contains([]string{BackendJSON, BackendSQLite}, c.State.Backend) {
		return fmt.Errorf("state.backend must be %q or %q, got %q", BackendJSON, BackendSQLite, c.State.Backend)
	}

	return nil
}

// WorktreeRoot returns the directory that holds attempt worktrees for the
// repository at repoRoot.
func (c *Config) WorktreeRoot(repoRoot string) string {
	if c.Workspace.Root != "" {
		return c.Workspace.Root
	}
	return filepath.Join(c.DataDir, "worktrees", filepath.Base(repoRoot))
}

// PromptText reads the configured prompt template. An empty result means the
// built-in template.
func (c *Config) PromptText() (string, error) {
	if c.Agent.PromptTemplate == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Agent.PromptTemplate)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	return string(data), nil
}
