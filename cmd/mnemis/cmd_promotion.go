package main

import (
	"errors"
	"fmt"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/promotion"
	"github.com/entrhq/mnemis/pkg/review"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProposeCmd(opts *options) *cobra.Command {
	var rationale string

	cmd := &cobra.Command{
		Use:   "propose <memory-id>",
		Short: "Propose promoting an entry one tier up",
		Example: `  mnemis propose 3f2c... --agent lead --level project --project p1 --rationale "applies to every service"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				to, err := promotionTarget(c)
				if err != nil {
					return err
				}
				id, err := a.promotion.Propose(c, args[0], to, rationale)
				if err != nil {
					return err
				}
				opts.logger.Info("promotion proposed", zap.String("proposal", id), zap.String("memory", args[0]))
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rationale, "rationale", "", "why the entry deserves the higher tier")
	_ = cmd.MarkFlagRequired("rationale")
	return cmd
}

func newApproveCmd(opts *options) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Approve a pending proposal as reviewer --agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				reviewer, err := a.reviewer()
				if err != nil {
					return err
				}
				promoted, err := a.promotion.Approve(args[0], reviewer, notes)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), promoted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func newRejectCmd(opts *options) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Reject a pending proposal as reviewer --agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				reviewer, err := a.reviewer()
				if err != nil {
					return err
				}
				if err := a.promotion.Reject(args[0], reviewer, notes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "reason for the rejection (required)")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

// queueFilter builds the pending filter from --tier and --project.
func queueFilter(opts *options, tier string) (promotion.Filter, error) {
	f := promotion.Filter{ProjectID: opts.project}
	if tier == "" {
		return f, nil
	}
	t, err := memory.ParseTier(tier)
	if err != nil {
		return f, err
	}
	if t == memory.TierAgent {
		return f, errors.New("nothing is ever promoted into the agent tier")
	}
	f.ToTier = t
	return f, nil
}

func newPendingCmd(opts *options) *cobra.Command {
	var tier string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending proposals, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := queueFilter(opts, tier)
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				return render(cmd.OutOrStdout(), opts.output, a.promotion.Pending(f))
			})
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "only proposals into this tier (gaia or project)")
	return cmd
}

func newReviewCmd(opts *options) *cobra.Command {
	var tier string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review pending proposals interactively",
		Long: `Opens the review queue. Keys: a approve, r reject (notes required),
y copy the proposal id, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := queueFilter(opts, tier)
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				reviewer, err := a.reviewer()
				if err != nil {
					return err
				}
				return review.Run(review.New(a.promotion, a.store, reviewer, review.WithFilter(f)))
			})
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "only proposals into this tier (gaia or project)")
	return cmd
}
