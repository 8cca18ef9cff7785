package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var opts options

	return &cli.Command{
		Name:  "list",
		Usage: "List every fragment of a scope, newest first",
		Flags: commandFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			scope, err := opts.scope()
			if err != nil {
				return err
			}

			ctx, a, err := open(ctx, &opts)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			frags, err := a.manager.ListFragments(ctx, scope)
			if err != nil {
				return goerr.Wrap(err, "failed to list fragments")
			}

			w := c.Root().Writer
			for _, f := range frags {
				tone := f.Context.Tone
				if tone == "" {
					tone = "-"
				}
				fmt.Fprintf(w, "%s  %s  %-10s  %s\n", f.ID, f.CreatedAt.Format(time.DateTime), tone, f.Text)
			}
			fmt.Fprintf(w, "%d fragment(s) in %s\n", len(frags), scope)
			return nil
		},
	}
}
