package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crewel-dev/crewel/internal/branchstate"
)

var flagForce bool

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Diagnose and repair branch hierarchy drift",
	}
	cmd.AddCommand(diagnoseCmd())
	cmd.AddCommand(syncCmd())
	cmd.AddCommand(pruneCmd())
	return cmd
}

func diagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <task-id>",
		Short: "Classify every branch in a task's chain up to main",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			diagnosis, err := application.reconciler().Diagnose(args[0])
			if err != nil {
				return err
			}
			for _, link := range diagnosis.Links {
				fmt.Printf("%s %s -> %s: %s\n",
					stateGlyph(link.Report.State), link.Branch, link.Parent,
					describeReport(link.Report))
			}
			if diagnosis.Healthy() {
				fmt.Println(green("chain healthy"))
			}
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <task-id>",
		Short: "Merge parents down into stale branches in a task's chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			actions, err := application.reconciler().Sync(args[0], flagDryRun)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Println(green("chain already up to date"))
				return nil
			}
			for _, action := range actions {
				switch {
				case flagDryRun:
					fmt.Printf("%s would sync %s into %s (%s)\n",
						dim("dry-run"), action.Parent, action.Branch, action.State)
				case action.Applied:
					fmt.Printf("%s synced %s into %s\n", green("ok"), action.Parent, action.Branch)
				default:
					fmt.Printf("%s sync of %s into %s conflicts: %s\n",
						red("conflict"), action.Parent, action.Branch,
						strings.Join(action.Conflict, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report what would happen without mutating")
	return cmd
}

func pruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete managed branches with no active workstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			candidates, err := application.reconciler().PruneOrphans(flagDryRun, flagForce)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				fmt.Println(dim("no orphaned managed branches"))
				return nil
			}
			for _, candidate := range candidates {
				switch {
				case candidate.Pruned:
					fmt.Printf("%s pruned %s\n", green("ok"), candidate.Branch)
				case candidate.Skipped != "":
					fmt.Printf("%s skipped %s: %s\n", yellow("skip"), candidate.Branch, candidate.Skipped)
				default:
					fmt.Printf("%s would prune %s\n", dim("dry-run"), candidate.Branch)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report what would happen without mutating")
	cmd.Flags().BoolVar(&flagForce, "force", false, "Prune branches even with unmerged commits")
	return cmd
}

func stateGlyph(state branchstate.State) string {
	switch state {
	case branchstate.StateUpToDate:
		return green("✓")
	case branchstate.StateAhead:
		return green("↑")
	case branchstate.StateBehind:
		return yellow("↓")
	case branchstate.StateDiverged:
		return yellow("↕")
	case branchstate.StateConflicted:
		return red("✗")
	default:
		return red("?")
	}
}

func describeReport(report branchstate.Report) string {
	switch report.State {
	case branchstate.StateMissing:
		return "missing"
	case branchstate.StateConflicted:
		return fmt.Sprintf("conflicted (%s)", strings.Join(report.ConflictFiles, ", "))
	case branchstate.StateUpToDate:
		return "up to date"
	default:
		return fmt.Sprintf("%s (+%d/-%d)", report.State, report.Ahead, report.Behind)
	}
}
