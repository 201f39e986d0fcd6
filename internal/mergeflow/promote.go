package mergeflow

import (
	"context"
	"fmt"

	"github.com/crewel-dev/crewel/internal/config"
	"github.com/crewel-dev/crewel/internal/fault"
	"github.com/crewel-dev/crewel/internal/repolock"
	"github.com/crewel-dev/crewel/internal/topology"
)

// Promote merges an epic or PRD branch one level up the hierarchy, reusing
// the task state machine with no worktree and no workstream record. Under
// the flat branching strategy there is nothing to promote.
func (executor *Executor) Promote(ctx context.Context, level topology.Level, id string, opts Options) (Result, error) {
	if level == topology.LevelTask {
		return Result{}, fault.Validation("use ExecuteTask for task-level merges")
	}
	branch := executor.topo.BranchFor(level, id)
	parent, err := executor.topo.ParentOf(level, id)
	if err != nil {
		return Result{}, err
	}
	if parent == "" {
		return Result{}, fault.Precondition("branch %s has no parent under the %s branching strategy",
			branch, executor.topo.Strategy())
	}

	result := Result{Phase: PhaseIdle, TaskID: id, Branch: branch, Parent: parent,
		Strategy: opts.Strategy, DryRun: opts.DryRun}

	if !executor.git.HasCommits() {
		return result, fault.Precondition("repository has no commits")
	}
	exists, err := executor.git.BranchExists(branch)
	if err != nil {
		return result, err
	}
	if !exists {
		return result, fault.Precondition("branch %s does not exist", branch)
	}
	parentExists, err := executor.git.BranchExists(parent)
	if err != nil {
		return result, err
	}
	if !parentExists {
		return result, fault.Precondition("parent branch %s does not exist", parent)
	}
	ahead, err := executor.git.RevListCount(parent, branch)
	if err != nil {
		return result, err
	}
	result.CommitsAhead = ahead
	if ahead == 0 {
		result.Phase = PhaseSucceeded
		result.NoOp = true
		return result, nil
	}
	result.Phase = PhaseChecked
	if opts.DryRun {
		return result, nil
	}

	lock, err := repolock.Acquire(executor.git.Root(), fmt.Sprintf("promote %s %s", level, id))
	if err != nil {
		return result, err
	}
	defer func() { _ = lock.Release() }()

	result.Phase = PhaseApplying
	message := fmt.Sprintf("crewel: promote %s into %s", branch, parent)
	if err := executor.apply(applyInput{
		branch:   branch,
		parent:   parent,
		strategy: opts.Strategy,
		message:  message,
	}); err != nil {
		if fault.IsKind(err, fault.KindMergeConflict) {
			result.Phase = PhaseAborted
			if conflictFault, ok := err.(*fault.Fault); ok {
				result.ConflictFiles = conflictFault.ConflictFiles
			}
			if executor.auditor != nil {
				_ = executor.auditor.LogMergeAbort(id, branch, parent, result.ConflictFiles)
			}
		}
		return result, err
	}

	result.Phase = PhaseSucceeded
	if executor.auditor != nil {
		_ = executor.auditor.LogPromote(id, string(level), branch, parent, string(opts.Strategy))
	}
	if opts.Cleanup {
		if err := executor.git.DeleteBranch(branch, opts.Strategy == config.StrategySquash); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("delete branch %s: %v", branch, err))
		}
	}
	return result, nil
}
