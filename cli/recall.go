package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/avatarmem/memory"
)

func recallCommand() *cli.Command {
	var (
		opts      options
		query     string
		threshold float64
		limit     int64
		prompt    bool
	)

	flags := commandFlags(&opts,
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Text to find related fragments for; remaining arguments are used when omitted",
			Destination: &query,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum cosine similarity; negative uses the configured default",
			Value:       -1,
			Destination: &threshold,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of fragments; 0 uses the configured default",
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "prompt",
			Usage:       "Print the block injected into the avatar's prompt",
			Destination: &prompt,
		},
	)

	return &cli.Command{
		Name:      "recall",
		Usage:     "Find fragments related to a query",
		ArgsUsage: "[query]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if query == "" {
				query = strings.Join(c.Args().Slice(), " ")
			}
			if strings.TrimSpace(query) == "" {
				return goerr.New("query is required")
			}
			scope, err := opts.scope()
			if err != nil {
				return err
			}

			ctx, a, err := open(ctx, &opts)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			recallOpts := memory.RecallOptions{MaxResults: int(limit)}
			if threshold >= 0 {
				recallOpts.Threshold = &threshold
			}
			hits, err := a.manager.Recall(ctx, scope, query, recallOpts)
			if err != nil {
				return goerr.Wrap(err, "failed to recall")
			}

			w := c.Root().Writer
			if prompt {
				fmt.Fprint(w, memory.FormatForPrompt(hits, query))
				return nil
			}
			if len(hits) == 0 {
				fmt.Fprintln(w, "no matching fragments")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(w, "%.3f  %s  %s\n", h.Similarity, h.Fragment.ID, h.Fragment.Format(memory.FormatContext{Query: query}))
			}
			return nil
		},
	}
}
