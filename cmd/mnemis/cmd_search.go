package main

import (
	"fmt"
	"time"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/search"
	"github.com/spf13/cobra"
)

func newSearchCmd(opts *options) *cobra.Command {
	var (
		q            search.Query
		tiers        []string
		since, until string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the memory visible to the agent",
		Long: `Filters compose with AND. Results are ordered oldest first and never
include memory outside the agent's contract.`,
		Example: `  mnemis search --agent lead --level project --project p1 --tag docker
  mnemis search --agent root --level gaia --pattern 'incident-*' --since 2026-01-01T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if q.Since, err = parseTime("since", since); err != nil {
				return err
			}
			if q.Until, err = parseTime("until", until); err != nil {
				return err
			}
			for _, t := range tiers {
				tier, err := memory.ParseTier(t)
				if err != nil {
					return err
				}
				q.Tiers = append(q.Tiers, tier)
			}

			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				results, err := a.search.Search(c, q)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, results)
			})
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&q.Tags, "tag", nil, "entries carrying any of these tags")
	f.BoolVar(&q.MatchAll, "all", false, "require every --tag instead of any")
	f.StringSliceVar(&q.TagPatterns, "pattern", nil, "glob patterns matched against tags")
	f.StringVar(&q.Content, "content", "", "case-insensitive text searched in content")
	f.StringVar(&q.Field, "field", "", "restrict --content to one content field")
	f.StringVar(&q.Creator, "creator", "", "entries created by this agent")
	f.StringVar(&since, "since", "", "created at or after (RFC 3339)")
	f.StringVar(&until, "until", "", "created at or before (RFC 3339)")
	f.StringSliceVar(&tiers, "tier", nil, "restrict to tiers")
	f.BoolVar(&q.PromotedOnly, "promoted", false, "only entries created by a promotion")
	f.IntVar(&q.Limit, "limit", 0, "maximum number of results")
	return cmd
}

func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return t, nil
}

func newLineageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <memory-id>",
		Short: "Show the promotion chain of an entry, oldest ancestor first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				chain, err := a.search.Lineage(c, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, chain)
			})
		},
	}
}
