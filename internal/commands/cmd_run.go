package commands

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/colonyops/wiggums/internal/core/agent"
	"github.com/colonyops/wiggums/internal/core/escalation"
	"github.com/colonyops/wiggums/internal/core/eventbus"
	"github.com/colonyops/wiggums/internal/core/git"
	"github.com/colonyops/wiggums/internal/core/logging"
	"github.com/colonyops/wiggums/internal/core/runlog"
	"github.com/colonyops/wiggums/internal/printer"
	"github.com/colonyops/wiggums/internal/wiggums"
	"github.com/colonyops/wiggums/pkg/executil"
)

type RunCmd struct {
	flags *Flags

	// Command-specific flags
	maxConcurrent    int
	escalation       string
	budgetPerAttempt float64
	maxTotalCost     float64
	pauseBetween     bool
	backend          string
	mainline         string
	dryRun           bool
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run a plan's stories through agents",
		UsageText: "wiggums run [options] <plan> [repo]",
		Description: `Launches every ready story on a coding agent in its own git worktree,
merges finished branches into the mainline and retries partial work on the
escalation schedule. Progress is saved after every status change, so an
interrupted run resumes where it stopped.

The repository defaults to the current directory and must have the mainline
checked out with a clean working tree.

Ctrl+C stops new launches; running attempts finish and merge first.

Use --dry-run to print the launch waves without running anything.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "max-concurrent",
				Aliases:     []string{"j"},
				Usage:       "maximum agents running at once",
				Destination: &cmd.maxConcurrent,
			},
			&cli.StringFlag{
				Name:        "escalation",
				Usage:       "escalation schedule, e.g. haiku:1,sonnet:2,opus:1",
				Destination: &cmd.escalation,
			},
			&cli.FloatFlag{
				Name:        "budget-per-attempt",
				Usage:       "USD ceiling passed to each agent (0 = none)",
				Destination: &cmd.budgetPerAttempt,
			},
			&cli.FloatFlag{
				Name:        "max-total-cost",
				Usage:       "stop launching once this run has spent this many USD (0 = unlimited)",
				Destination: &cmd.maxTotalCost,
			},
			&cli.BoolFlag{
				Name:        "pause-between",
				Usage:       "confirm each launch interactively",
				Destination: &cmd.pauseBetween,
			},
			backendFlag(&cmd.backend),
			&cli.StringFlag{
				Name:        "mainline",
				Usage:       "branch to merge into (defaults to the checked out branch)",
				Destination: &cmd.mainline,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "print launch waves and exit",
				Destination: &cmd.dryRun,
			},
		},
		ShellComplete: cli.DefaultCompleteWithFlags,
		Action:        cmd.run,
	})

	return app
}

// applyOverrides copies explicitly set flags over the loaded configuration.
func (cmd *RunCmd) applyOverrides(c *cli.Command) {
	cfg := cmd.flags.Config
	if c.IsSet("max-concurrent") {
		cfg.Run.MaxConcurrent = cmd.maxConcurrent
	}
	if c.IsSet("escalation") {
		cfg.Run.Escalation = cmd.escalation
	}
	if c.IsSet("budget-per-attempt") {
		cfg.Run.BudgetPerAttempt = cmd.budgetPerAttempt
	}
	if c.IsSet("max-total-cost") {
		cfg.Run.MaxTotalCost = cmd.maxTotalCost
	}
	if c.IsSet("pause-between") {
		cfg.Run.PauseBetween = cmd.pauseBetween
	}
	if c.IsSet("mainline") {
		cfg.Workspace.Mainline = cmd.mainline
	}
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	planPath, err := planArg(c)
	if err != nil {
		return err
	}
	repo := "."
	if c.Args().Len() > 1 {
		repo = c.Args().Get(1)
	}

	cmd.applyOverrides(c)
	cfg := cmd.flags.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	schedule, err := escalation.Parse(cfg.Run.Escalation, cfg.Agent.Tiers)
	if err != nil {
		return err
	}

	if cfg.Run.PauseBetween && !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("--pause-between needs an interactive terminal")
	}

	st, err := openPlan(ctx, planPath, cmd.flags.backend(cmd.backend))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if st.resumed {
		p.Infof("Resuming %s: %s", planPath, countsLine(st.graph.Counts()))
		for _, id := range st.report.Requeued {
			p.Warnf("%s was interrupted mid-attempt; requeued", id)
		}
		for _, id := range st.report.Dropped {
			p.Warnf("%s is no longer in the plan; ignoring its saved state", id)
		}
	}

	if cmd.dryRun {
		return cmd.printWaves(p, st)
	}

	repoAbs, err := filepath.Abs(repo)
	if err != nil {
		return fmt.Errorf("resolve repository: %w", err)
	}

	var (
		runID   = uuid.NewString()
		exec    = &executil.RealExecutor{}
		gitExec = git.NewExecutor(cfg.GitPath, exec)
		logger  = log.With().Str("run_id", runID).Logger()
	)

	workspaces := wiggums.NewGitWorkspaces(gitExec, wiggums.WorkspaceOptions{
		Repo:     repoAbs,
		Root:     cfg.WorktreeRoot(repoAbs),
		Mainline: cfg.Workspace.Mainline,
	}, logger)
	if err := workspaces.Preflight(ctx); err != nil {
		return err
	}

	promptText, err := cfg.PromptText()
	if err != nil {
		return err
	}
	prompts, err := agent.NewPromptBuilder(promptText)
	if err != nil {
		return err
	}

	runner := agent.NewRunner(exec, agent.RunnerConfig{
		Command:    cfg.Agent.Command,
		Args:       cfg.Agent.Args,
		BudgetArgs: cfg.Agent.BudgetArgs,
		Env:        cfg.Agent.Env,
	}, st.logs, logger)

	start := time.Now()
	bus := eventbus.New(256)
	cmd.subscribe(bus, p, runlog.NewStatusWriter(st.logs, start))
	go bus.Start(context.Background())

	var gate wiggums.Gate
	if cfg.Run.PauseBetween {
		gate = wiggums.HuhGate{}
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			p.Warnf("Stopping: waiting for running attempts to finish")
		case <-finished:
		}
	}()

	p.Infof("Run %s: %d stories, %d at a time, schedule %s, merging into %s",
		runID[:8], st.graph.Len(), cfg.Run.MaxConcurrent, schedule, workspaces.Mainline())

	sup := wiggums.New(wiggums.Deps{
		Graph:      st.graph,
		Plan:       st.doc,
		Store:      st.store,
		Ledger:     st.ledger,
		Launcher:   runner,
		Workspaces: workspaces,
		Prompts:    prompts,
		Gate:       gate,
		Bus:        bus,
		Logger:     logger,
	}, wiggums.Options{
		RunID:            runID,
		MaxConcurrent:    cfg.Run.MaxConcurrent,
		Schedule:         schedule,
		BudgetPerAttempt: cfg.Run.BudgetPerAttempt,
		MaxTotalCost:     cfg.Run.MaxTotalCost,
	})

	sum, runErr := sup.Run(runCtx)
	close(finished)
	bus.Close()

	if err := runlog.NewStatusWriter(st.logs, start).Write(st.graph.Snapshot(time.Now())); err != nil {
		log.Warn().Err(err).Msg("write final status")
	}

	cmd.printSummary(p, sum)

	var stall *wiggums.StallError
	switch {
	case errors.As(runErr, &stall):
		p.Errorf("%s", stall.Error())
		for _, id := range slices.Sorted(maps.Keys(stall.Blocked)) {
			p.Printf("  %s waits on %s", id, strings.Join(stall.Blocked[id], ", "))
		}
		return cli.Exit("", 1)
	case runErr != nil:
		return runErr
	}
	return nil
}

// subscribe wires the status file, console notifications and debug logging.
func (cmd *RunCmd) subscribe(bus *eventbus.EventBus, p *printer.Printer, status *runlog.StatusWriter) {
	bus.SubscribeStoryTransitioned(func(e eventbus.StoryTransitionedPayload) {
		if err := status.Write(e.Snapshot); err != nil {
			log.Warn().Err(err).Msg("write status file")
		}
	})

	bus.SubscribeNotificationPublished(func(n eventbus.NotificationPublishedPayload) {
		switch n.Level {
		case eventbus.LevelSuccess:
			p.Successf("%s", n.Message)
		case eventbus.LevelWarning:
			p.Warnf("%s", n.Message)
		case eventbus.LevelError:
			p.Errorf("%s", n.Message)
		default:
			p.Infof("%s", n.Message)
		}
	})

	eventbus.NewNotificationRouter(bus).Register()
	eventbus.RegisterDebugLogger(bus, logging.Component("eventbus"))
}

func (cmd *RunCmd) printWaves(p *printer.Printer, st *planState) error {
	waves, unschedulable := st.graph.Waves()

	p.Section("Launch waves")
	if len(waves) == 0 {
		p.Infof("Nothing left to run: %s", countsLine(st.graph.Counts()))
	}
	for i, wave := range waves {
		p.Printf("%d. %s", i+1, strings.Join(wave, ", "))
	}

	if len(unschedulable) > 0 {
		p.Printf("")
		p.Warnf("Can never start: %s", strings.Join(unschedulable, ", "))
		if cycle := st.graph.FindCycle(); cycle != nil {
			p.Printf("  dependency cycle %s", strings.Join(cycle, " -> "))
		}
	}
	return nil
}

func (cmd *RunCmd) printSummary(p *printer.Printer, sum wiggums.Summary) {
	p.Printf("")
	p.Block(storyTable(sum.Items))
	p.Printf("%s", countsLine(sum.Counts))
	p.Printf("Spent $%.4f this run, $%.4f total, in %s", sum.Spent, sum.Total.CostUSD, sum.Duration.Round(time.Second))

	switch sum.Stop {
	case wiggums.StopDone:
		p.Successf("All stories finished")
	case wiggums.StopCancelled:
		p.Warnf("Run cancelled; run again to resume")
	case wiggums.StopBudget:
		p.Warnf("Run budget reached; run again with a higher --max-total-cost to continue")
	case wiggums.StopDeferred:
		p.Warnf("Skipped: %s", strings.Join(sum.Deferred, ", "))
	}
}
