package commands

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/internal/core/validate"
	"github.com/colonyops/wiggums/internal/printer"
	"github.com/colonyops/wiggums/pkg/iojson"
)

type ValidateCmd struct {
	flags *Flags

	// flags
	escalation string
	format     string
}

// NewValidateCmd creates a new validate command
func NewValidateCmd(flags *Flags) *ValidateCmd {
	return &ValidateCmd{flags: flags}
}

// Register adds the validate command to the application
func (cmd *ValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "validate",
		Usage:     "Check a plan before running it",
		UsageText: "wiggums validate [--escalation <schedule>] [--format text|json] <plan>",
		Description: `Parses the plan and reports duplicate ids, unknown dependencies, dependency
cycles and an escalation schedule that does not match the configured tiers.

Exits non-zero when the plan cannot be run.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "escalation",
				Usage:       "schedule to check (defaults to run.escalation from config)",
				Destination: &cmd.escalation,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

// planReport is the JSON output of validate.
type planReport struct {
	Valid    bool               `json:"valid"`
	Stories  int                `json:"stories"`
	Waves    [][]string         `json:"waves,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
	Warnings []validate.Warning `json:"warnings,omitempty"`
}

func (cmd *ValidateCmd) run(ctx context.Context, c *cli.Command) error {
	planPath, err := planArg(c)
	if err != nil {
		return err
	}

	spec := cmd.escalation
	if spec == "" {
		spec = cmd.flags.Config.Run.Escalation
	}

	report := cmd.check(planPath, spec)

	if cmd.format == "json" {
		if err := iojson.WriteWith(c.Root().Writer, os.Stderr, report); err != nil {
			return err
		}
	} else {
		cmd.outputText(printer.Ctx(ctx), planPath, report)
	}

	if !report.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *ValidateCmd) check(planPath, spec string) planReport {
	var report planReport

	collect := func(err error) {
		if err == nil {
			return
		}
		var fe criterio.FieldErrors
		if errors.As(err, &fe) {
			for _, e := range fe {
				report.Errors = append(report.Errors, e.Field+": "+e.Err.Error())
			}
			return
		}
		for _, line := range strings.Split(err.Error(), "\n") {
			report.Errors = append(report.Errors, line)
		}
	}

	collect(validate.Schedule(spec, cmd.flags.Config.Agent.Tiers))

	doc, err := readPlan(planPath)
	if err != nil {
		collect(err)
		return report
	}
	report.Stories = len(doc.Stories)
	report.Warnings = validate.Warnings(doc)
	collect(validate.Plan(doc))

	if g, err := story.FromPlan(doc); err == nil {
		report.Waves, _ = g.Waves()
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func (cmd *ValidateCmd) outputText(p *printer.Printer, planPath string, report planReport) {
	for _, w := range report.Warnings {
		p.Warnf("%s: %s", w.Story, w.Message)
	}
	for _, e := range report.Errors {
		p.Errorf("%s", e)
	}

	p.Printf("")
	if !report.Valid {
		p.Errorf("%s: %d error(s) found", planPath, len(report.Errors))
		return
	}
	p.Successf("%s: %d stories in %d wave(s)", planPath, report.Stories, len(report.Waves))
}
