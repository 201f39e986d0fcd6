package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crewel-dev/crewel/internal/config"
	"github.com/crewel-dev/crewel/internal/fault"
	"github.com/crewel-dev/crewel/internal/mergeflow"
	"github.com/crewel-dev/crewel/internal/topology"
)

var (
	flagStrategy  string
	flagNoCleanup bool
)

// resolveStrategy parses --strategy, falling back to the configured default.
func resolveStrategy(cfg config.Config) (config.MergeStrategy, error) {
	if strings.TrimSpace(flagStrategy) == "" {
		return cfg.DefaultMergeStrategy()
	}
	return config.ParseMergeStrategy(flagStrategy)
}

func preflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight <task-id>",
		Short: "Check merge preconditions for a task without mutating anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			result, err := application.executor().Check(cmd.Context(), args[0])
			printWarnings(result.Warnings)
			if err != nil {
				return err
			}
			if result.NoOp {
				fmt.Printf("%s %s has no commits ahead of %s; merge would be a no-op\n",
					green("ok"), result.Branch, result.Parent)
				return nil
			}
			fmt.Printf("%s %s is ready to merge into %s (%d commit(s) ahead)\n",
				green("ok"), result.Branch, result.Parent, result.CommitsAhead)
			return nil
		},
	}
}

func mergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <task-id>",
		Short: "Merge a completed task branch into its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			strategy, err := resolveStrategy(application.Config)
			if err != nil {
				return err
			}
			opts := mergeflow.Options{
				Strategy: strategy,
				DryRun:   flagDryRun,
				Cleanup:  application.Config.Merge.CleanupOnSuccess && !flagNoCleanup,
			}
			result, err := application.executor().ExecuteTask(cmd.Context(), args[0], opts)
			printWarnings(result.Warnings)
			if err != nil {
				printConflict(err)
				return err
			}
			printMergeResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagStrategy, "strategy", "", "Merge strategy: merge, squash, or rebase")
	cmd.Flags().BoolVar(&flagNoCleanup, "no-cleanup", false, "Keep the worktree and branch after merging")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report what would happen without mutating")
	return cmd
}

func promoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote <level> <id>",
		Short: "Merge an epic or PRD branch one level up the hierarchy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := topology.ParseLevel(args[0])
			if err != nil {
				return err
			}
			application, err := newApp()
			if err != nil {
				return err
			}
			strategy, err := resolveStrategy(application.Config)
			if err != nil {
				return err
			}
			opts := mergeflow.Options{
				Strategy: strategy,
				DryRun:   flagDryRun,
				Cleanup:  application.Config.Merge.CleanupOnSuccess && !flagNoCleanup,
			}
			result, err := application.executor().Promote(cmd.Context(), level, args[1], opts)
			printWarnings(result.Warnings)
			if err != nil {
				printConflict(err)
				return err
			}
			printMergeResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagStrategy, "strategy", "", "Merge strategy: merge, squash, or rebase")
	cmd.Flags().BoolVar(&flagNoCleanup, "no-cleanup", false, "Keep the branch after promoting")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report what would happen without mutating")
	return cmd
}

func printMergeResult(result mergeflow.Result) {
	switch {
	case result.NoOp:
		fmt.Printf("%s %s has no commits ahead of %s; nothing to do\n",
			green("ok"), result.Branch, result.Parent)
	case result.DryRun:
		fmt.Printf("%s would %s %s into %s (%d commit(s))\n",
			dim("dry-run"), result.Strategy, result.Branch, result.Parent, result.CommitsAhead)
	default:
		fmt.Printf("%s %s %s into %s (%d commit(s))\n",
			green("ok"), pastTense(result.Strategy), result.Branch, result.Parent, result.CommitsAhead)
		if result.Cleaned {
			fmt.Println(dim("worktree and branch cleaned up"))
		}
	}
}

func pastTense(strategy config.MergeStrategy) string {
	switch strategy {
	case config.StrategySquash:
		return "squashed"
	case config.StrategyRebase:
		return "rebased"
	default:
		return "merged"
	}
}

func printConflict(err error) {
	var mergeFault *fault.Fault
	if f, ok := err.(*fault.Fault); ok && f.Kind == fault.KindMergeConflict {
		mergeFault = f
	}
	if mergeFault == nil {
		return
	}
	fmt.Println(red("conflict aborted; repository left clean"))
	for _, file := range mergeFault.ConflictFiles {
		fmt.Println(" ", file)
	}
}

func printWarnings(warnings []string) {
	for _, warning := range warnings {
		fmt.Println(yellow("warning:"), warning)
	}
}
