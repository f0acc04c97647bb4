package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/wiggums/internal/core/config"
	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/internal/core/styles"
	"github.com/colonyops/wiggums/internal/printer"
	"github.com/colonyops/wiggums/pkg/iojson"
)

// errNoLedger is returned when the plan's backend keeps no attempt history.
var errNoLedger = errors.New("attempt history requires the sqlite state backend")

type HistoryCmd struct {
	flags *Flags

	// flags
	jsonOutput bool
	backend    string
}

// NewHistoryCmd creates a new history command
func NewHistoryCmd(flags *Flags) *HistoryCmd {
	return &HistoryCmd{flags: flags}
}

// Register adds the history command to the application
func (cmd *HistoryCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "history",
		Usage:     "List finished attempts",
		UsageText: "wiggums history [--json] <plan> [id]",
		Description: `Lists every finished attempt across runs, oldest first, with its tier,
outcome, exit code, spend and duration. Pass a story id to limit the list.

Only the sqlite state backend records attempt history.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
			backendFlag(&cmd.backend),
		},
		ShellComplete: StoryIDCompleter(),
		Action:        cmd.run,
	})

	return app
}

// attemptJSON is the JSON output of one attempt.
type attemptJSON struct {
	RunID      string    `json:"run_id"`
	StoryID    string    `json:"story_id"`
	Attempt    int       `json:"attempt"`
	Tier       string    `json:"tier"`
	Branch     string    `json:"branch"`
	Outcome    string    `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	Note       string    `json:"note,omitempty"`
	CostUSD    float64   `json:"cost_usd"`
	Model      string    `json:"model,omitempty"`
	LogPath    string    `json:"log_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (cmd *HistoryCmd) run(ctx context.Context, c *cli.Command) error {
	planPath, err := planArg(c)
	if err != nil {
		return err
	}
	id := c.Args().Get(1)

	backend := cmd.flags.backend(cmd.backend)
	if backend != config.BackendSQLite {
		return errNoLedger
	}

	st, err := viewPlan(ctx, planPath, backend)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if st.ledger == nil {
		return errNoLedger
	}
	if id != "" {
		if _, ok := st.graph.Get(id); !ok {
			return fmt.Errorf("%w: %s", story.ErrUnknownStory, id)
		}
	}

	records, err := st.ledger.ListAttempts(ctx, id)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		rows := make([]attemptJSON, 0, len(records))
		for _, r := range records {
			rows = append(rows, attemptJSON{
				RunID:      r.RunID,
				StoryID:    r.StoryID,
				Attempt:    r.Attempt,
				Tier:       r.Tier,
				Branch:     r.Branch,
				Outcome:    r.Outcome,
				ExitCode:   r.ExitCode,
				Note:       r.Note,
				CostUSD:    r.Usage.CostUSD,
				Model:      r.Usage.Model,
				LogPath:    r.LogPath,
				StartedAt:  r.StartedAt,
				FinishedAt: r.FinishedAt,
			})
		}
		return iojson.WriteWith(out, os.Stderr, rows)
	}

	p := printer.New(out)
	if len(records) == 0 {
		p.Infof("No attempts recorded")
		return nil
	}
	p.Block(attemptTable(records))
	return nil
}

// attemptTable renders one row per finished attempt.
func attemptTable(records []story.AttemptRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			shortRunID(r.RunID),
			r.StoryID,
			strconv.Itoa(r.Attempt),
			r.Tier,
			r.Outcome,
			strconv.Itoa(r.ExitCode),
			fmt.Sprintf("$%.4f", r.Usage.CostUSD),
			r.Duration().Round(time.Second).String(),
			r.Note,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.TableBorderStyle).
		Headers("RUN", "STORY", "ATTEMPT", "TIER", "OUTCOME", "EXIT", "COST", "DURATION", "NOTE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.TableHeaderStyle
			}
			return styles.TableCellStyle
		}).
		Render()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
