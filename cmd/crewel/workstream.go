package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewel-dev/crewel/internal/fault"
	"github.com/crewel-dev/crewel/internal/workstream"
	"github.com/crewel-dev/crewel/internal/worktree"
)

func spawnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn <task-id>",
		Short: "Provision the branch hierarchy, worktree, and workstream record for a task",
		Long: `Spawn prepares everything an agent needs to start work on a task: the
ancestor branches required by the branching strategy, a task branch checked
out in its own worktree, and a workstream record tracking the lifecycle.
Running the agent process itself is out of scope.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			application, err := newApp()
			if err != nil {
				return err
			}
			task, err := application.Store.Task(taskID)
			if err != nil {
				return err
			}
			parent, err := application.Topo.ParentOfTask(taskID)
			if err != nil {
				return err
			}
			branch := application.Topo.TaskBranch(taskID)
			if flagDryRun {
				fmt.Printf("%s would provision %s from %s with a worktree\n",
					dim("dry-run"), branch, parent)
				return nil
			}
			if err := application.Topo.EnsureHierarchy(taskID); err != nil {
				return err
			}
			result, err := application.Trees.Ensure(worktree.Spec{
				TaskID:     taskID,
				Branch:     branch,
				BaseBranch: parent,
			})
			if err != nil {
				return err
			}
			record, err := application.Records.Create(workstream.Record{
				TaskID:       taskID,
				Branch:       branch,
				WorktreePath: result.Path,
				ParentBranch: parent,
				Branching:    application.Config.Branches.Strategy,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s spawned workstream %s for %q\n", green("ok"), record.ID, task.Title)
			fmt.Printf("branch %s (parent %s)\nworktree %s\n", branch, parent, result.Path)
			if result.Reused {
				fmt.Println(dim("reused existing worktree"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report what would happen without mutating")
	return cmd
}

func markCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <task-id> <status>",
		Short: "Advance a workstream's lifecycle status",
		Long: `Mark records a lifecycle transition reported by the agent harness:
spawned -> running -> completed | failed, plus rejected and killed. Merged
is reserved for the merge command. Transitions only move forward; terminal
records are immutable.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			target := workstream.Status(args[1])
			if target == workstream.StatusMerged {
				return fault.Validation("use 'crewel merge' to mark a workstream merged")
			}
			application, err := newApp()
			if err != nil {
				return err
			}
			before, err := application.Records.Get(taskID)
			if err != nil {
				return err
			}
			record, err := application.Records.Transition(taskID, target)
			if err != nil {
				return err
			}
			if application.Auditor != nil {
				_ = application.Auditor.LogWorkstreamTransition(taskID, string(before.Status), string(record.Status))
			}
			if record.Status.Terminal() {
				if err := application.Records.Archive(taskID); err != nil {
					return err
				}
				fmt.Printf("%s %s -> %s (archived)\n", green("ok"), before.Status, record.Status)
				return nil
			}
			fmt.Printf("%s %s -> %s\n", green("ok"), before.Status, record.Status)
			return nil
		},
	}
}
