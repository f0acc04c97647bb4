package agent

import (
	_ "embed"
	"fmt"
	"text/template"

	"github.com/colonyops/wiggums/pkg/tmpl"
)

//go:embed prompt.md
var defaultPrompt string

// PromptData is the input to the prompt template.
type PromptData struct {
	StoryID       string
	Title         string
	StoryText     string
	Branch        string
	Attempt       int
	RetryNotes    []string
	SuccessMarker string
	RetryMarker   string
}

// PromptBuilder renders attempt prompts.
type PromptBuilder struct {
	t *template.Template
}

// NewPromptBuilder parses text as the prompt template. An empty text uses
// the built-in template.
func NewPromptBuilder(text string) (*PromptBuilder, error) {
	if text == "" {
		text = defaultPrompt
	}
	t, err := tmpl.Parse("prompt", text)
	if err != nil {
		return nil, fmt.Errorf("prompt template: %w", err)
	}
	return &PromptBuilder{t: t}, nil
}

// Build renders the prompt for one attempt. Marker fields are filled from
// the story id.
func (b *PromptBuilder) Build(data PromptData) (string, error) {
	data.SuccessMarker = SuccessMarker(data.StoryID)
	data.RetryMarker = RetryMarker(data.StoryID)
	return tmpl.Execute(b.t, data)
}
