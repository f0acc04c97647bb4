package agent

import (
	"encoding/json"
	"strings"

	"github.com/colonyops/wiggums/internal/core/story"
)

// envelope is the structured result an agent CLI prints with JSON output
// enabled, either as its whole stdout or as a trailing line.
type envelope struct {
	Result       *string  `json:"result"`
	CostUSD      *float64 `json:"cost_usd"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	Usage        *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (e envelope) valid() bool {
	return e.Result != nil || e.CostUSD != nil || e.TotalCostUSD != nil || e.Usage != nil
}

func (e envelope) usage(model string) story.Usage {
	u := story.Usage{Model: model}
	switch {
	case e.TotalCostUSD != nil:
		u.CostUSD = *e.TotalCostUSD
	case e.CostUSD != nil:
		u.CostUSD = *e.CostUSD
	}
	if e.Usage != nil {
		u.InputTokens = e.Usage.InputTokens
		u.OutputTokens = e.Usage.OutputTokens
	}
	return u
}

// ParseOutput extracts the text to classify and the reported usage from an
// agent's stdout. When stdout is a single JSON envelope its "result" field
// is the text. Otherwise the last line that parses as an envelope supplies
// usage and the raw stdout is the text. Without an envelope, usage carries
// only the model.
func ParseOutput(stdout, model string) (string, story.Usage) {
	trimmed := strings.TrimSpace(stdout)

	var env envelope
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &env) == nil && env.valid() {
		text := stdout
		if env.Result != nil {
			text = *env.Result
		}
		return text, env.usage(model)
	}

	lines := strings.Split(trimmed, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var trailer envelope
		if json.Unmarshal([]byte(line), &trailer) == nil && trailer.valid() {
			return stdout, trailer.usage(model)
		}
	}

	return stdout, story.Usage{Model: model}
}
