// Package validate lints plans before they are run.
package validate

import (
	"fmt"
	"strings"

	"github.com/hay-kot/criterio"

	"github.com/colonyops/wiggums/internal/core/escalation"
	"github.com/colonyops/wiggums/internal/core/plan"
	"github.com/colonyops/wiggums/internal/core/story"
)

// Warning is a plan issue that does not stop a run.
type Warning struct {
	Story   string `json:"story"`
	Message string `json:"message"`
}

// Plan reports problems a parsed plan can still have: dependency cycles,
// which leave every story on the cycle unable to start.
func Plan(doc *plan.Document) error {
	g, err := story.FromPlan(doc)
	if err != nil {
		return err
	}

	var errs criterio.FieldErrorsBuilder
	if cycle := g.FindCycle(); cycle != nil {
		errs = errs.Append(cycle[0]+".depends_on", fmt.Errorf("dependency cycle %s", strings.Join(cycle, " -> ")))
	}
	for _, s := range doc.Stories {
		if strings.TrimSpace(s.Title) == "" {
			errs = errs.Append(s.ID+".title", fmt.Errorf("title is required"))
		}
	}
	return errs.ToError()
}

// Schedule checks an escalation schedule against the configured tiers.
func Schedule(spec string, tiers []string) error {
	return criterio.Run("escalation", spec, func(v string) error {
		_, err := escalation.Parse(v, tiers)
		return err
	})
}

// Warnings returns non-fatal plan issues.
func Warnings(doc *plan.Document) []Warning {
	var warnings []Warning
	for _, s := range doc.Stories {
		if !hasTaskText(s) {
			warnings = append(warnings, Warning{Story: s.ID, Message: "story has no task text beyond its header"})
		}
	}
	return warnings
}

// hasTaskText reports whether a block has content other than headings and
// its dependency list.
func hasTaskText(s plan.Story) bool {
	_, rest, _ := strings.Cut(s.Body, "\n")
	inDeps := false
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			inDeps = strings.HasPrefix(strings.ToLower(line), "### dependencies")
		case line == "---":
			inDeps = false
		case !inDeps:
			return true
		}
	}
	return false
}
