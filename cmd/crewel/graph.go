package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crewel-dev/crewel/internal/graph"
	"github.com/crewel-dev/crewel/internal/scheduler"
)

var (
	flagFilterPRD  string
	flagFilterEpic string
	flagFilterTags []string
	flagResume     bool
	flagLimit      int
)

// addFilterFlags attaches the shared scheduling filter flags.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagFilterPRD, "prd", "", "Only tasks under this PRD")
	cmd.Flags().StringVar(&flagFilterEpic, "epic", "", "Only tasks under this epic")
	cmd.Flags().StringSliceVar(&flagFilterTags, "tag", nil, "Only tasks carrying every listed tag")
	cmd.Flags().BoolVar(&flagResume, "resume", false, "Also include in-progress tasks")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "Cap the number of results")
}

func currentFilters() scheduler.Filters {
	return scheduler.Filters{
		PRD:    flagFilterPRD,
		Epic:   flagFilterEpic,
		Tags:   flagFilterTags,
		Resume: flagResume,
		Limit:  flagLimit,
	}
}

func readyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List tasks that are safe to hand to an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			taskGraph, err := graph.Build(application.Store)
			if err != nil {
				return err
			}
			ready, err := scheduler.Ready(taskGraph, currentFilters())
			if err != nil {
				return err
			}
			if len(ready) == 0 {
				fmt.Println(dim("no ready tasks"))
				return nil
			}
			fmt.Printf("%-14s %-7s %-14s %s\n", "task", "impact", "critical-path", "title")
			for _, entry := range ready {
				fmt.Printf("%-14s %-7d %-14d %s\n",
					entry.Task.ID, entry.Impact, entry.CriticalPath, entry.Task.Title)
			}
			return nil
		},
	}
	addFilterFlags(cmd)
	return cmd
}

func impactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "impact <task-id>",
		Short: "Show what completing a task would unblock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			taskGraph, err := graph.Build(application.Store)
			if err != nil {
				return err
			}
			report, err := taskGraph.Impact(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("task %s unblocks %d task(s) transitively\n", report.TaskID, report.TotalUnblocked)
			if len(report.DirectlyUnblocked) > 0 {
				fmt.Println(green("directly unblocked:"), strings.Join(report.DirectlyUnblocked, ", "))
			}
			for _, blocked := range report.StillBlocked {
				fmt.Printf("%s %s (still waiting on %s)\n",
					yellow("held back:"), blocked.ID, strings.Join(blocked.RemainingBlockers, ", "))
			}
			return nil
		},
	}
}

func bottlenecksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bottlenecks",
		Short: "Rank unresolved tasks by how much work they gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			taskGraph, err := graph.Build(application.Store)
			if err != nil {
				return err
			}
			bottlenecks, err := scheduler.Bottlenecks(taskGraph, currentFilters())
			if err != nil {
				return err
			}
			if len(bottlenecks) == 0 {
				fmt.Println(dim("no bottlenecks"))
				return nil
			}
			fmt.Printf("%-14s %-6s %-11s %-14s %s\n", "task", "score", "dependents", "critical-path", "title")
			for _, entry := range bottlenecks {
				fmt.Printf("%-14s %-6d %-11d %-14d %s\n",
					entry.Task.ID, entry.Score, entry.Dependents, entry.CriticalPath, entry.Task.Title)
			}
			return nil
		},
	}
	addFilterFlags(cmd)
	return cmd
}
