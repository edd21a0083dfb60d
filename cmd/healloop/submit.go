package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/healloop/internal/healer"
	"github.com/jordanhubbard/healloop/internal/temporal/activities"
	temporalclient "github.com/jordanhubbard/healloop/internal/temporal/client"
)

func newSubmitCommand() *cobra.Command {
	var (
		goal      string
		maxRounds int
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start a heal run on a Temporal worker and wait for its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if goal == "" {
				return errors.New("--goal is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if maxRounds <= 0 {
				maxRounds = cfg.MaxRounds
			}
			ctx := cmd.Context()

			c, err := temporalclient.New(ctx, &cfg.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()

			summary, err := c.SubmitRun(ctx, healer.NewRunID(time.Now()), activities.HealRunInput{
				Goal:      goal,
				MaxRounds: maxRounds,
				DryRun:    dryRun,
				Timeout:   cfg.RunDeadline(maxRounds),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.Line())
			if !summary.OK {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "Natural-language description of the service")
	cmd.Flags().IntVarP(&maxRounds, "max-rounds", "n", 0, "Maximum rounds (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Synthesize and write files without running containers")
	return cmd
}
