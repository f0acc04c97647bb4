package config

import (
	"fmt"
	"os"
	"os/exec"
	"slices"

	"github.com/hay-kot/criterio"

	"github.com/colonyops/wiggums/internal/core/agent"
	"github.com/colonyops/wiggums/internal/core/escalation"
	"github.com/colonyops/wiggums/pkg/tmpl"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration including
// template syntax, the escalation schedule, and executable lookup. The configPath
// argument specifies the config file location to validate (empty string skips
// config file check). This calls Validate() first for basic structural
// validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validateTiers(),
		criterio.Run("run.escalation", c.Run.Escalation, c.escalationParses),
		c.validateArgTemplates(),
		criterio.Run("agent.prompt_template", c.Agent.PromptTemplate, promptTemplateRenders),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Run.BudgetPerAttempt > 0 && len(c.Agent.BudgetArgs) == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Agent",
			Item:     "budget_args",
			Message:  "run.budget_per_attempt is set but agent.budget_args is empty; the ceiling is not passed to the agent",
		})
	}

	if c.Run.MaxTotalCost > 0 && c.Run.BudgetPerAttempt > c.Run.MaxTotalCost {
		warnings = append(warnings, ValidationWarning{
			Category: "Run",
			Item:     "budget_per_attempt",
			Message:  "per-attempt budget exceeds the run budget",
		})
	}

	return warnings
}

// validateFileAccess checks config file, data directory, and executables.
func (c *Config) validateFileAccess(configPath string) error {
	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("git_path", c.GitPath, executableExists),
		criterio.Run("agent.command", c.Agent.Command, executableExists),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// executableExists validates that path resolves to an executable.
func executableExists(path string) error {
	if path == "" {
		return nil
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("executable not found: %s", path)
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

func (c *Config) validateTiers() error {
	var errs criterio.FieldErrorsBuilder
	if len(c.Agent.Tiers) == 0 {
		errs = errs.Append("agent.tiers", fmt.Errorf("at least one tier is required"))
	}
	for i, tier := range c.Agent.Tiers {
		field := fmt.Sprintf("agent.tiers[%d]", i)
		if tier == "" {
			errs = errs.Append(field, fmt.Errorf("tier name cannot be empty"))
			continue
		}
		if slices.Index(c.Agent.Tiers, tier) != i {
			errs = errs.Append(field, fmt.Errorf("duplicate tier %q", tier))
		}
	}
	return errs.ToError()
}

func (c *Config) escalationParses(spec string) error {
	_, err := escalation.Parse(spec, c.Agent.Tiers)
	return err
}

// validateArgTemplates renders every argument template against sample data.
func (c *Config) validateArgTemplates() error {
	data := agent.ArgData{
		StoryID: "STORY-001",
		Attempt: 1,
		Tier:    "tier",
		Branch:  "story-001-attempt-1",
		Workdir: "/tmp/worktree",
		Budget:  "1.5",
	}

	var errs criterio.FieldErrorsBuilder
	for i, arg := range c.Agent.Args {
		if _, err := tmpl.Render(arg, data); err != nil {
			errs = errs.Append(fmt.Sprintf("agent.args[%d]", i), fmt.Errorf("template error: %w", err))
		}
	}
	for i, arg := range c.Agent.BudgetArgs {
		if _, err := tmpl.Render(arg, data); err != nil {
			errs = errs.Append(fmt.Sprintf("agent.budget_args[%d]", i), fmt.Errorf("template error: %w", err))
		}
	}
	return errs.ToError()
}

// promptTemplateRenders checks that a prompt template file exists and
// renders with sample story data.
func promptTemplateRenders(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	b, err := agent.NewPromptBuilder(string(data))
	if err != nil {
		return err
	}
	_, err = b.Build(agent.PromptData{
		StoryID:    "STORY-001",
		Title:      "Sample",
		StoryText:  "## STORY-001 — Sample",
		Branch:     "story-001-attempt-2",
		Attempt:    2,
		RetryNotes: []string{"note"},
	})
	if err != nil {
		return fmt.Errorf("template error: %w", err)
	}
	return nil
}
