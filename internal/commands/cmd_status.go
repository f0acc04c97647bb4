package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/colonyops/wiggums/internal/core/runlog"
	"github.com/colonyops/wiggums/internal/printer"
	"github.com/colonyops/wiggums/internal/store/jsonfile"
	"github.com/colonyops/wiggums/pkg/iojson"
)

type StatusCmd struct {
	flags *Flags

	// flags
	jsonOutput bool
	watch      bool
	backend    string
}

// NewStatusCmd creates a new status command
func NewStatusCmd(flags *Flags) *StatusCmd {
	return &StatusCmd{flags: flags}
}

// Register adds the status command to the application
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "status",
		Usage:     "Show the saved state of a plan",
		UsageText: "wiggums status [--json] [--watch] <plan>",
		Description: `Displays each story's status, attempts, spend and branch from the saved
snapshot.

Use --json for the same document the run writes to status.json.
Use --watch to redraw whenever a running 'wiggums run' saves progress.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "watch",
				Aliases:     []string{"w"},
				Usage:       "redraw on every change",
				Destination: &cmd.watch,
			},
			backendFlag(&cmd.backend),
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *StatusCmd) run(ctx context.Context, c *cli.Command) error {
	planPath, err := planArg(c)
	if err != nil {
		return err
	}

	out := c.Root().Writer
	if !cmd.watch {
		return cmd.render(ctx, out, planPath)
	}

	logs := runlog.New(StateDir(planPath))
	watcher, err := jsonfile.NewFileWatcher(logs.StatusPath())
	if err != nil {
		return fmt.Errorf("watch status: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	changes := watcher.Watch(ctx)
	for {
		if isTerminal(out) {
			_, _ = io.WriteString(out, "\033[H\033[2J")
		}
		if err := cmd.render(ctx, out, planPath); err != nil {
			printer.Ctx(ctx).Errorf("%v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		}
	}
}

func (cmd *StatusCmd) render(ctx context.Context, out io.Writer, planPath string) error {
	st, err := viewPlan(ctx, planPath, cmd.flags.backend(cmd.backend))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	snap := st.graph.Snapshot(time.Now())

	if cmd.jsonOutput {
		start := snap.UpdatedAt
		return iojson.WriteWith(out, os.Stderr, runlog.NewStatusWriter(st.logs, start).Build(snap))
	}

	p := printer.New(out)
	if !st.resumed {
		p.Infof("%s has not been run yet", planPath)
	}
	p.Block(storyTable(st.graph.Items()))

	total := st.graph.TotalCost()
	p.Printf("%s", countsLine(st.graph.Counts()))
	p.Printf("Total $%.4f (%d input / %d output tokens)", total.CostUSD, total.InputTokens, total.OutputTokens)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
