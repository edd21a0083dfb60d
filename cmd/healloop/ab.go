package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/healloop/internal/abtest"
)

func newABCommand() *cobra.Command {
	var (
		goal      string
		trials    int
		maxRounds int
	)
	cmd := &cobra.Command{
		Use:   "ab",
		Short: "Compare rounds needed with memory cleared (cold) and populated (warm)",
		Long: `ab runs the goal as cold/warm pairs. Before each cold run the memory log
is moved aside; the warm run that follows sees only what the cold run wrote.
Requires the file memory backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if goal == "" {
				return errors.New("--goal is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.fileStore == nil {
				return fmt.Errorf("ab requires memory.backend=file, got %q", cfg.Memory.Backend)
			}

			res, err := abtest.NewHarness(a.controller, a.fileStore, trials, maxRounds).Run(cmd.Context(), goal)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "Goal to evaluate")
	cmd.Flags().IntVarP(&trials, "trials", "t", 3, "Number of cold/warm pairs")
	cmd.Flags().IntVarP(&maxRounds, "max-rounds", "n", 3, "Maximum rounds per run")
	return cmd
}
