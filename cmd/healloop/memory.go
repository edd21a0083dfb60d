package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/healloop/internal/memory"
	"github.com/jordanhubbard/healloop/pkg/models"
)

func newMemoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the repair memory",
	}
	cmd.AddCommand(newMemoryListCommand())
	cmd.AddCommand(newMemoryContextCommand())
	cmd.AddCommand(newMemoryWatchCommand())
	return cmd
}

func newMemoryListCommand() *cobra.Command {
	var signature string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored entries as JSON lines, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.memory.Entries(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if signature != "" && string(e.Signature) != signature {
					continue
				}
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&signature, "signature", "s", "", "Only entries with this error signature")
	return cmd
}

func newMemoryContextCommand() *cobra.Command {
	var goal string
	cmd := &cobra.Command{
		Use:   "context <signature>",
		Short: "Print the memory context a repair for this signature would receive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), a.memory.Context(cmd.Context(), goal, models.ErrorSignature(args[0])))
			return nil
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "Goal used for index lookups")
	return cmd
}

func newMemoryWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the JSONL memory log and print entries as they are appended",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Memory.Backend != "file" {
				return fmt.Errorf("watch requires memory.backend=file, got %q", cfg.Memory.Backend)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return memory.Follow(cmd.Context(), cfg.Memory.Path, func(e *models.MemoryEntry) {
				_ = enc.Encode(e)
			})
		},
	}
}
