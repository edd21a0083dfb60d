package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/jordanhubbard/healloop/internal/healer"
	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/report"
	"github.com/jordanhubbard/healloop/pkg/config"
)

var version = "dev"

// errUnhealthy makes the process exit 1 after the summary was printed.
var errUnhealthy = errors.New("run did not reach a healthy state")

var errGoalRequired = errors.New("--goal is required")

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	runsDir    string
	memoryPath string
}

var globals globalFlags

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		goal      string
		maxRounds int
		dryRun    bool
	)

	rootCmd := &cobra.Command{
		Use:   "healloop",
		Short: "Synthesize a small web service from a goal and repair it until it is healthy",
		Long: `healloop asks a language model for a four-file Python service, builds and
tests it in a container, probes its routes, and repairs it from the failure
logs for a bounded number of rounds. Repairs that worked are remembered and
offered to later repairs.

Exactly one JSON line is printed on stdout. The exit status is 0 only when
the service became healthy.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(goal) == "" {
				return printFailure(cmd, errGoalRequired)
			}
			return runGoal(cmd, goal, maxRounds, dryRun)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globals.configPath, "config", "c", os.Getenv("HEALLOOP_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&globals.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&globals.logFormat, "log-format", "", "Log format: text, json, auto")
	rootCmd.PersistentFlags().StringVar(&globals.runsDir, "runs-dir", "", "Directory for run artifacts")
	rootCmd.PersistentFlags().StringVar(&globals.memoryPath, "memory-path", "", "Path of the JSONL repair memory log")

	rootCmd.Flags().StringVarP(&goal, "goal", "g", "", "Natural-language description of the service")
	rootCmd.Flags().IntVarP(&maxRounds, "max-rounds", "n", 0, "Maximum rounds (default from config, 3)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Synthesize and write files without running containers")

	rootCmd.AddCommand(newABCommand())
	rootCmd.AddCommand(newMemoryCommand())
	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newSubmitCommand())
	return rootCmd
}

// loadConfig layers file, environment and flags, then validates and
// initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globals.configPath)
	if err != nil {
		return nil, err
	}
	if globals.runsDir != "" {
		cfg.RunsDir = globals.runsDir
	}
	if globals.memoryPath != "" {
		cfg.Memory.Path = globals.memoryPath
	}
	if globals.logLevel != "" {
		cfg.Logging.Level = globals.logLevel
	}
	if globals.logFormat != "" {
		cfg.Logging.Format = globals.logFormat
	}
	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printFailure writes the summary line for a run that never started.
func printFailure(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.OutOrStdout(), report.Summary{Error: err.Error()}.Line())
	return errUnhealthy
}

func runGoal(cmd *cobra.Command, goal string, maxRounds int, dryRun bool) error {
	out := cmd.OutOrStdout()
	fail := func(err error) error { return printFailure(cmd, err) }

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	run, err := a.controller.Run(ctx, goal, healer.Options{MaxRounds: maxRounds, DryRun: dryRun})
	if err != nil {
		return fail(err)
	}
	a.pushMetrics(ctx, run.ID)

	fmt.Fprintln(out, report.Summarize(run).Line())
	if !run.OK {
		return errUnhealthy
	}
	return nil
}
