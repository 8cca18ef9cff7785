package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/avatarmem/memory"
)

func rememberCommand() *cli.Command {
	var (
		opts    options
		message string
		summary string
	)

	flags := commandFlags(&opts,
		&cli.StringFlag{
			Name:        "message",
			Aliases:     []string{"m"},
			Usage:       "The speaker's message; remaining arguments are used when omitted",
			Destination: &message,
		},
		&cli.StringFlag{
			Name:        "summary",
			Usage:       "Summary of the conversation so far, given to the extractor as context",
			Destination: &summary,
		},
	)

	return &cli.Command{
		Name:      "remember",
		Usage:     "Extract and store fragments from one message",
		ArgsUsage: "[message]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if message == "" {
				message = strings.Join(c.Args().Slice(), " ")
			}
			if strings.TrimSpace(message) == "" {
				return goerr.New("message is required")
			}
			if _, err := opts.scope(); err != nil {
				return err
			}

			ctx, a, err := open(ctx, &opts)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			turn := memory.Turn{
				OwnerUserID:       opts.owner,
				AvatarID:          opts.avatar,
				RelationshipToken: opts.token,
				Message:           message,
				Timestamp:         time.Now(),
			}
			if summary != "" {
				turn.Prior = &memory.PriorContext{Summary: summary}
			}

			stored := a.manager.RememberNow(ctx, turn)
			fmt.Fprintf(c.Root().Writer, "stored %d fragment(s)\n", stored)
			return nil
		},
	}
}
