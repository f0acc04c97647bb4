package commands

import (
	"context"
	"errors"
	"os"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/wiggums/internal/core/config"
	"github.com/colonyops/wiggums/internal/printer"
	"github.com/colonyops/wiggums/pkg/iojson"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "wiggums config validate [options]",
				Description: "Validates the configuration file, checking executables, tiers, the escalation schedule and templates.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

type configError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	cfg := cmd.flags.Config
	errs := configErrors(cfg.ValidateDeep(cmd.flags.ConfigPath))
	warnings := cfg.Warnings()

	if cmd.format == "json" {
		out := struct {
			Valid    bool                       `json:"valid"`
			Errors   []configError              `json:"errors,omitempty"`
			Warnings []config.ValidationWarning `json:"warnings,omitempty"`
		}{
			Valid:    len(errs) == 0,
			Errors:   errs,
			Warnings: warnings,
		}

		if err := iojson.WriteWith(c.Root().Writer, os.Stderr, out); err != nil {
			return err
		}
	} else {
		for _, warn := range warnings {
			p.Infof("%s: %s", warn.Category, warn.Message)
			if warn.Item != "" {
				p.Printf("  Item: %s", warn.Item)
			}
		}
		for _, e := range errs {
			p.Errorf("%s: %s", e.Field, e.Message)
		}

		p.Printf("")
		if len(errs) == 0 {
			p.Successf("Configuration is valid")
		} else {
			p.Errorf("%d error(s) found", len(errs))
		}
	}

	if len(errs) > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func configErrors(err error) []configError {
	if err == nil {
		return nil
	}
	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		return []configError{{Field: "config", Message: err.Error()}}
	}
	out := make([]configError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, configError{Field: fe.Field, Message: fe.Err.Error()})
	}
	return out
}
