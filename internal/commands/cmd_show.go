package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/colonyops/wiggums/internal/core/agent"
	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/internal/core/styles"
	"github.com/colonyops/wiggums/internal/printer"
)

type ShowCmd struct {
	flags *Flags

	// flags
	raw     bool
	prompt  bool
	backend string
}

// NewShowCmd creates a new show command
func NewShowCmd(flags *Flags) *ShowCmd {
	return &ShowCmd{flags: flags}
}

// Register adds the show command to the application
func (cmd *ShowCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "show",
		Usage:     "Render one story",
		UsageText: "wiggums show [--raw] [--prompt] <plan> <id>",
		Description: `Renders a story's task text as markdown, followed by its saved state,
retry notes and attempt logs.

Use --prompt to print the exact prompt the next attempt would receive.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print markdown without rendering",
				Destination: &cmd.raw,
			},
			&cli.BoolFlag{
				Name:        "prompt",
				Usage:       "print the next attempt's prompt",
				Destination: &cmd.prompt,
			},
			backendFlag(&cmd.backend),
		},
		ShellComplete: StoryIDCompleter(),
		Action:        cmd.run,
	})

	return app
}

func (cmd *ShowCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: wiggums show <plan> <id>")
	}
	planPath, id := c.Args().Get(0), c.Args().Get(1)

	st, err := viewPlan(ctx, planPath, cmd.flags.backend(cmd.backend))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ps, ok := st.doc.Story(id)
	if !ok {
		return fmt.Errorf("%w: %s", story.ErrUnknownStory, id)
	}
	it, _ := st.graph.Get(id)

	out := c.Root().Writer
	p := printer.New(out)

	if cmd.prompt {
		text, err := cmd.flags.Config.PromptText()
		if err != nil {
			return err
		}
		b, err := agent.NewPromptBuilder(text)
		if err != nil {
			return err
		}
		next := it.NextAttempt()
		prompt, err := b.Build(agent.PromptData{
			StoryID:    it.ID,
			Title:      it.Title,
			StoryText:  ps.Body,
			Branch:     story.BranchName(it.ID, next),
			Attempt:    next,
			RetryNotes: it.RetryNotes,
		})
		if err != nil {
			return err
		}
		p.Block(prompt)
		return nil
	}

	body := ps.Body
	if !cmd.raw && isTerminal(out) {
		body, err = renderMarkdown(body)
		if err != nil {
			return err
		}
	}
	p.Block(body)

	p.Section("State")
	p.Printf("Status:   %s", styles.StatusStyle(it.Status).Render(string(it.Status)))
	p.Printf("Attempts: %d", it.Attempts)
	p.Printf("Cost:     $%.4f %s", it.Cost.CostUSD, it.Cost.Model)
	if len(it.DependsOn) > 0 {
		p.Printf("Depends:  %s", strings.Join(it.DependsOn, ", "))
	}
	if blocked := st.graph.BlockedBy(id); len(blocked) > 0 && it.Status == story.StatusPending {
		p.Printf("Waiting:  %s", strings.Join(blocked, ", "))
	}
	if it.Branch != "" {
		p.Printf("Branch:   %s", it.Branch)
	}
	for i, note := range it.RetryNotes {
		p.Printf("Note %d:   %s", i+1, note)
	}

	logs, err := st.logs.AttemptLogs(id)
	if err != nil {
		return err
	}
	for _, l := range logs {
		p.Printf("Log:      %s", l)
	}
	return nil
}

func renderMarkdown(md string) (string, error) {
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return r.Render(md)
}
