// Package cli implements the avatarmem command line: remember, recall, list
// and forget over the configured store.
package cli

import (
	"context"
	"io"

	"github.com/urfave/cli/v3"
)

// Error carries the process exit code of a failed run.
type Error struct {
	Code    int
	Message string
}

// Run executes argv. Output goes to stdout.
func Run(ctx context.Context, argv []string) *Error {
	return run(ctx, argv, nil)
}

func run(ctx context.Context, argv []string, out io.Writer) *Error {
	cmd := &cli.Command{
		Name:  "avatarmem",
		Usage: "Scoped long-term memory for conversational avatars",
		Commands: []*cli.Command{
			rememberCommand(),
			recallCommand(),
			listCommand(),
			forgetCommand(),
		},
	}
	if out != nil {
		cmd.Writer = out
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}
	return nil
}
