package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func forgetCommand() *cli.Command {
	var opts options

	return &cli.Command{
		Name:  "forget",
		Usage: "Erase every fragment of a scope",
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

			n, err := a.manager.Forget(ctx, scope)
			if err != nil {
				return goerr.Wrap(err, "failed to forget scope", goerr.V("deleted", n))
			}
			fmt.Fprintf(c.Root().Writer, "deleted %d fragment(s)\n", n)
			return nil
		},
	}
}
