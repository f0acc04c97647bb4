package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/internal/printer"
)

type ResetCmd struct {
	flags *Flags

	// flags
	backend string
}

// NewResetCmd creates a new reset command
func NewResetCmd(flags *Flags) *ResetCmd {
	return &ResetCmd{flags: flags}
}

// Register adds the reset command to the application
func (cmd *ResetCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "reset",
		Usage:     "Return failed or conflicted stories to pending",
		UsageText: "wiggums reset <plan> <id>...",
		Description: `Moves each named story from failed, merge_conflict or running back to
pending so the next run launches it again. Attempt counts and retry notes
are kept.

Do not reset stories while a run of the same plan is in progress.`,
		Flags: []cli.Flag{
			backendFlag(&cmd.backend),
		},
		ShellComplete: StoryIDCompleter(),
		Action:        cmd.run,
	})

	return app
}

func (cmd *ResetCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: wiggums reset <plan> <id>...")
	}
	planPath := c.Args().First()
	ids := c.Args().Slice()[1:]

	st, err := openPlan(ctx, planPath, cmd.flags.backend(cmd.backend))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	reset, err := resetStories(st.graph, ids)
	if err != nil {
		return err
	}

	if err := st.store.Save(ctx, st.graph.Snapshot(time.Now())); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	p := printer.Ctx(ctx)
	for _, it := range reset {
		log.Info().Str("story", it.ID).Int("attempts", it.Attempts).Msg("story reset")
		p.Successf("%s reset to %s", it.ID, it.Status)
	}
	return nil
}

// resetStories applies a reset to every id. Stories already pending are left
// alone, which covers attempts requeued when the state was loaded. Nothing
// is applied when any id is unknown.
func resetStories(g *story.Graph, ids []string) ([]story.Item, error) {
	for _, id := range ids {
		if _, ok := g.Get(id); !ok {
			return nil, fmt.Errorf("%w: %s", story.ErrUnknownStory, id)
		}
	}

	out := make([]story.Item, 0, len(ids))
	for _, id := range ids {
		it, _ := g.Get(id)
		if it.Status == story.StatusPending {
			out = append(out, it)
			continue
		}
		it, err := g.Apply(id, story.Reset())
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}
