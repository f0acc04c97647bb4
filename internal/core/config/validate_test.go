package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config whose executables resolve on any test host.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.GitPath = "sh"
	cfg.Agent.Command = "sh"
	return &cfg
}

func fieldErrors(t *testing.T, err error) criterio.FieldErrors {
	t.Helper()
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	return fieldErrs
}

func fieldNames(errs criterio.FieldErrors) []string {
	names := make([]string, 0, len(errs))
	for _, e := range errs {
		names = append(names, e.Field)
	}
	return names
}

func TestValidateDeep_ValidConfig(t *testing.T) {
	cfg := validConfig(t)
	err := cfg.ValidateDeep("")
	assert.NoError(t, err, "expected valid config")
}

func TestValidateDeep_StructuralErrorFirst(t *testing.T) {
	cfg := validConfig(t)
	cfg.Run.MaxConcurrent = 0

	err := cfg.ValidateDeep("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent")
}

func TestValidateDeep_MissingExecutables(t *testing.T) {
	cfg := validConfig(t)
	cfg.GitPath = "definitely-not-a-real-git-binary"
	cfg.Agent.Command = "definitely-not-a-real-agent"

	fieldErrs := fieldErrors(t, cfg.ValidateDeep(""))
	assert.ElementsMatch(t, []string{"git_path", "agent.command"}, fieldNames(fieldErrs))
	assert.Contains(t, fieldErrs[0].Err.Error(), "executable not found")
}

func TestValidateDeep_DataDirIsFile(t *testing.T) {
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.DataDir = file

	fieldErrs := fieldErrors(t, cfg.ValidateDeep(""))
	require.Len(t, fieldErrs, 1)
	assert.Equal(t, "data_dir", fieldErrs[0].Field)
}

func TestValidateDeep_ConfigFileIsDirectory(t *testing.T) {
	cfg := validConfig(t)

	fieldErrs := fieldErrors(t, cfg.ValidateDeep(t.TempDir()))
	require.Len(t, fieldErrs, 1)
	assert.Equal(t, "config_file", fieldErrs[0].Field)
}

func TestValidateDeep_Tiers(t *testing.T) {
	cfg := validConfig(t)
	cfg.Agent.Tiers = []string{"sonnet", "", "sonnet"}

	fieldErrs := fieldErrors(t, cfg.ValidateDeep(""))
	assert.ElementsMatch(t, []string{"agent.tiers[1]", "agent.tiers[2]"}, fieldNames(fieldErrs))
}

func TestValidateDeep_Escalation(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr string
	}{
		{name: "known tiers", spec: "haiku:2,opus:1"},
		{name: "unknown tier", spec: "gpt:2", wantErr: "unknown tier"},
		{name: "missing count", spec: "opus", wantErr: "no attempt count"},
		{name: "zero count", spec: "opus:0", wantErr: "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Run.Escalation = tt.spec

			err := cfg.ValidateDeep("")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			fieldErrs := fieldErrors(t, err)
			require.Len(t, fieldErrs, 1)
			assert.Equal(t, "run.escalation", fieldErrs[0].Field)
			assert.Contains(t, fieldErrs[0].Err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDeep_ArgTemplates(t *testing.T) {
	cfg := validConfig(t)
	cfg.Agent.Args = []string{"--model", "{{ .Tier", "{{ .Nope }}"}
	cfg.Agent.BudgetArgs = []string{"--budget={{ .Budget }}"}

	fieldErrs := fieldErrors(t, cfg.ValidateDeep(""))
	assert.ElementsMatch(t, []string{"agent.args[1]", "agent.args[2]"}, fieldNames(fieldErrs))
	assert.Contains(t, fieldErrs[0].Err.Error(), "template error")
}

func TestValidateDeep_PromptTemplate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.md")
	bad := filepath.Join(dir, "bad.md")
	require.NoError(t, os.WriteFile(good, []byte("Do {{ .StoryID }} then print {{ .SuccessMarker }}"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("Do {{ .Unknown }}"), 0o644))

	cfg := validConfig(t)
	cfg.Agent.PromptTemplate = good
	assert.NoError(t, cfg.ValidateDeep(""))

	cfg.Agent.PromptTemplate = bad
	fieldErrs := fieldErrors(t, cfg.ValidateDeep(""))
	require.Len(t, fieldErrs, 1)
	assert.Equal(t, "agent.prompt_template", fieldErrs[0].Field)

	cfg.Agent.PromptTemplate = filepath.Join(dir, "missing.md")
	fieldErrs = fieldErrors(t, cfg.ValidateDeep(""))
	require.Len(t, fieldErrs, 1)
	assert.Contains(t, fieldErrs[0].Err.Error(), "cannot read")
}

func TestWarnings(t *testing.T) {
	cfg := validConfig(t)
	assert.Empty(t, cfg.Warnings())

	cfg.Run.BudgetPerAttempt = 5
	cfg.Run.MaxTotalCost = 2
	cfg.Agent.BudgetArgs = nil

	warnings := cfg.Warnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, "budget_args", warnings[0].Item)
	assert.Equal(t, "budget_per_attempt", warnings[1].Item)
}
