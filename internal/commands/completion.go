package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// StoryIDCompleter returns a ShellCompleteFunc that suggests the story ids of
// the plan named by the first positional argument. Before a plan is typed it
// falls back to the default completion.
//
// When the user's last typed argument starts with "-", it falls back to the
// default flag completion behavior.
func StoryIDCompleter() cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		args := cmd.Args()
		if args.Present() {
			last := args.Slice()[args.Len()-1]
			if len(last) > 0 && last[0] == '-' {
				cli.DefaultCompleteWithFlags(ctx, cmd)
				return
			}
		}
		if !args.Present() {
			cli.DefaultCompleteWithFlags(ctx, cmd)
			return
		}

		doc, err := readPlan(args.First())
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, id := range doc.IDs() {
			_, _ = fmt.Fprintln(w, id)
		}
	}
}
