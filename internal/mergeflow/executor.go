// Package mergeflow performs transactional merge, squash, rebase, and
// promote operations with rollback on failure. The apply phase always runs
// against the shared main checkout behind the repository lock; a conflict
// partway through is always explicitly aborted before control returns, so
// the repository is never left half-applied.
package mergeflow

import (
	"context"
	"fmt"
	"time"

	"github.com/crewel-dev/crewel/internal/artefact"
	"github.com/crewel-dev/crewel/internal/audit"
	"github.com/crewel-dev/crewel/internal/config"
	"github.com/crewel-dev/crewel/internal/fault"
	"github.com/crewel-dev/crewel/internal/gitx"
	"github.com/crewel-dev/crewel/internal/repolock"
	"github.com/crewel-dev/crewel/internal/topology"
	"github.com/crewel-dev/crewel/internal/worktree"
	"github.com/crewel-dev/crewel/internal/workstream"
)

// Phase labels the state machine position a merge attempt reached.
type Phase string

const (
	// PhaseIdle means no checks have run yet.
	PhaseIdle Phase = "idle"
	// PhaseChecked means all preconditions passed without mutation.
	PhaseChecked Phase = "checked"
	// PhaseApplying means git mutation is in progress.
	PhaseApplying Phase = "applying"
	// PhaseSucceeded means the merge completed (or was a no-op).
	PhaseSucceeded Phase = "succeeded"
	// PhaseAborted means a conflict forced an automatic abort.
	PhaseAborted Phase = "aborted"
)

// Options configures one merge or promote attempt.
type Options struct {
	Strategy config.MergeStrategy
	// DryRun performs every read and diagnostic step but skips the apply.
	DryRun bool
	// Cleanup removes the worktree and local/remote branches on success.
	Cleanup bool
}

// Result reports what a merge attempt did or, under dry-run, would do.
type Result struct {
	Phase         Phase
	TaskID        string
	Branch        string
	Parent        string
	Strategy      config.MergeStrategy
	CommitsAhead  int
	NoOp          bool
	DryRun        bool
	Cleaned       bool
	ConflictFiles []string
	// Warnings lists non-fatal cleanup failures; they never revert a merge.
	Warnings []string
}

// Executor runs the merge state machine for one repository.
type Executor struct {
	git       *gitx.Runner
	store     artefact.Store
	records   *workstream.Store
	worktrees *worktree.Manager
	topo      *topology.Topology
	auditor   *audit.Logger
	// fetchTimeout bounds remote fetches during precondition checks.
	fetchTimeout time.Duration
}

// NewExecutor wires the executor's collaborators.
func NewExecutor(git *gitx.Runner, store artefact.Store, records *workstream.Store,
	worktrees *worktree.Manager, topo *topology.Topology, auditor *audit.Logger) *Executor {
	return &Executor{
		git:          git,
		store:        store,
		records:      records,
		worktrees:    worktrees,
		topo:         topo,
		auditor:      auditor,
		fetchTimeout: 30 * time.Second,
	}
}

// Check runs every merge precondition for a task without mutating anything.
// The returned result is PhaseChecked, or PhaseSucceeded with NoOp set when
// the branch has no commits ahead of its parent.
func (executor *Executor) Check(ctx context.Context, taskID string) (Result, error) {
	record, err := executor.records.Get(taskID)
	if err != nil {
		return Result{}, err
	}
	parent, err := executor.topo.ParentOfTask(taskID)
	if err != nil {
		return Result{}, err
	}
	branch := record.Branch

	result := Result{Phase: PhaseIdle, TaskID: taskID, Branch: branch, Parent: parent}

	if !workstream.CanTransition(record.Status, workstream.StatusMerged) {
		return result, fault.Precondition("workstream for task %s is %s, not mergeable", taskID, record.Status)
	}
	if !executor.git.HasCommits() {
		return result, fault.Precondition("repository has no commits")
	}

	// A failed fetch degrades to stale local refs rather than blocking.
	fetchCtx, cancel := context.WithTimeout(ctx, executor.fetchTimeout)
	defer cancel()
	if err := executor.git.Fetch(fetchCtx); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("fetch failed, using stale refs: %v", err))
	}

	exists, err := executor.worktrees.Exists(taskID)
	if err != nil {
		return result, err
	}
	if !exists {
		return result, fault.Precondition("worktree for task %s does not exist", taskID)
	}
	path, err := executor.worktrees.Path(taskID)
	if err != nil {
		return result, err
	}
	clean, err := executor.git.StatusClean(path)
	if err != nil {
		return result, err
	}
	if !clean {
		return result, fault.Precondition("worktree for task %s has uncommitted changes", taskID)
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
	return result, nil
}

// ExecuteTask merges a task branch into its parent. Preconditions run
// first and fail fast with no mutation; zero commits ahead is a successful
// no-op. Workstream and artefact writes happen only after git reports
// success, never speculatively.
func (executor *Executor) ExecuteTask(ctx context.Context, taskID string, opts Options) (Result, error) {
	result, err := executor.Check(ctx, taskID)
	if err != nil {
		return result, err
	}
	result.Strategy = opts.Strategy
	result.DryRun = opts.DryRun
	if result.NoOp || opts.DryRun {
		return result, nil
	}

	lock, err := repolock.Acquire(executor.git.Root(), "merge "+taskID)
	if err != nil {
		return result, err
	}
	defer func() { _ = lock.Release() }()

	result.Phase = PhaseApplying
	worktreePath, err := executor.worktrees.Path(taskID)
	if err != nil {
		return result, err
	}
	message := fmt.Sprintf("crewel: merge %s into %s", result.Branch, result.Parent)
	if err := executor.apply(applyInput{
		branch:       result.Branch,
		parent:       result.Parent,
		strategy:     opts.Strategy,
		message:      message,
		worktreePath: worktreePath,
	}); err != nil {
		if fault.IsKind(err, fault.KindMergeConflict) {
			result.Phase = PhaseAborted
			if conflictFault, ok := err.(*fault.Fault); ok {
				result.ConflictFiles = conflictFault.ConflictFiles
			}
			if executor.auditor != nil {
				_ = executor.auditor.LogMergeAbort(taskID, result.Branch, result.Parent, result.ConflictFiles)
			}
		}
		return result, err
	}

	result.Phase = PhaseSucceeded
	if executor.auditor != nil {
		_ = executor.auditor.LogMergeApply(taskID, result.Branch, result.Parent, string(opts.Strategy), result.CommitsAhead)
	}

	if opts.Cleanup {
		result.Cleaned, result.Warnings = executor.cleanup(ctx, taskID, result.Branch, opts.Strategy, result.Warnings)
	}

	if err := executor.persistSuccess(taskID, result); err != nil {
		return result, err
	}
	return result, nil
}

// applyInput carries the parameters for one apply-phase run.
type applyInput struct {
	branch       string
	parent       string
	strategy     config.MergeStrategy
	message      string
	worktreePath string
}

// apply performs the strategy-specific git mutation. Any conflict is
// aborted before returning, leaving the checkout at its pre-merge HEAD.
func (executor *Executor) apply(input applyInput) error {
	switch input.strategy {
	case config.StrategyMerge:
		return executor.applyMerge(input)
	case config.StrategySquash:
		return executor.applySquash(input)
	case config.StrategyRebase:
		return executor.applyRebase(input)
	default:
		return fault.Validation("unknown merge strategy %q", input.strategy)
	}
}

// applyMerge checks out the parent and merges the branch with a generated
// message, aborting on conflict.
func (executor *Executor) applyMerge(input applyInput) error {
	if err := executor.git.Checkout(input.parent); err != nil {
		return fault.ExternalTool(err, "checkout parent %s", input.parent)
	}
	if _, err := executor.git.Merge(input.branch, input.message); err != nil {
		if gitx.IsConflict(err) {
			conflicts, _ := executor.git.UnmergedFiles(executor.git.Root())
			if abortErr := executor.git.MergeAbort(); abortErr != nil {
				return fault.ExternalTool(abortErr, "abort conflicted merge of %s", input.branch)
			}
			return fault.MergeConflict(fmt.Sprintf("merge of %s into %s conflicts", input.branch, input.parent), conflicts)
		}
		return fault.ExternalTool(err, "merge %s into %s", input.branch, input.parent)
	}
	return nil
}

// applySquash stages the branch with --squash and synthesizes one commit;
// a conflict during the squash resets before any commit is made.
func (executor *Executor) applySquash(input applyInput) error {
	if err := executor.git.Checkout(input.parent); err != nil {
		return fault.ExternalTool(err, "checkout parent %s", input.parent)
	}
	if _, err := executor.git.MergeSquash(input.branch); err != nil {
		if gitx.IsConflict(err) {
			conflicts, _ := executor.git.UnmergedFiles(executor.git.Root())
			if resetErr := executor.git.ResetHard(); resetErr != nil {
				return fault.ExternalTool(resetErr, "reset conflicted squash of %s", input.branch)
			}
			return fault.MergeConflict(fmt.Sprintf("squash of %s into %s conflicts", input.branch, input.parent), conflicts)
		}
		return fault.ExternalTool(err, "squash %s into %s", input.branch, input.parent)
	}
	if err := executor.git.Commit(input.message); err != nil {
		return fault.ExternalTool(err, "commit squashed changes for %s", input.branch)
	}
	return nil
}

// applyRebase rebases the branch onto the parent inside its own worktree
// (the branch is checked out there and cannot be checked out twice), then
// fast-forwards the parent. A conflicted rebase is aborted in place.
func (executor *Executor) applyRebase(input applyInput) error {
	rebaseDir := input.worktreePath
	if rebaseDir == "" {
		if err := executor.git.Checkout(input.branch); err != nil {
			return fault.ExternalTool(err, "checkout branch %s", input.branch)
		}
		rebaseDir = executor.git.Root()
	}
	if _, err := executor.git.RunIn(rebaseDir, "rebase", input.parent); err != nil {
		if gitx.IsConflict(err) {
			conflicts, _ := executor.git.UnmergedFiles(rebaseDir)
			if _, abortErr := executor.git.RunIn(rebaseDir, "rebase", "--abort"); abortErr != nil {
				return fault.ExternalTool(abortErr, "abort conflicted rebase of %s", input.branch)
			}
			return fault.MergeConflict(fmt.Sprintf("rebase of %s onto %s conflicts", input.branch, input.parent), conflicts)
		}
		return fault.ExternalTool(err, "rebase %s onto %s", input.branch, input.parent)
	}
	if err := executor.git.Checkout(input.parent); err != nil {
		return fault.ExternalTool(err, "checkout parent %s", input.parent)
	}
	if _, err := executor.git.Run("merge", "--ff-only", input.branch); err != nil {
		return fault.ExternalTool(err, "fast-forward %s to %s", input.parent, input.branch)
	}
	return nil
}

// cleanup removes the worktree and branches after a successful merge.
// Failures are reported as warnings and never revert the merge.
func (executor *Executor) cleanup(ctx context.Context, taskID string, branch string,
	strategy config.MergeStrategy, warnings []string) (bool, []string) {
	cleaned := true
	if err := executor.worktrees.Remove(taskID, true); err != nil {
		cleaned = false
		warnings = append(warnings, fmt.Sprintf("remove worktree: %v", err))
	} else if executor.auditor != nil {
		if path, pathErr := executor.worktrees.Path(taskID); pathErr == nil {
			_ = executor.auditor.LogWorktreeRemove(taskID, path)
		}
	}

	// A squash leaves the branch unmerged in git's eyes, so deletion needs
	// the force flag there.
	if err := executor.git.DeleteBranch(branch, strategy == config.StrategySquash); err != nil {
		cleaned = false
		warnings = append(warnings, fmt.Sprintf("delete branch %s: %v", branch, err))
	}

	deleteCtx, cancel := context.WithTimeout(ctx, executor.fetchTimeout)
	defer cancel()
	if err := executor.git.DeleteRemoteBranch(deleteCtx, branch); err != nil {
		warnings = append(warnings, fmt.Sprintf("delete remote branch %s: %v", branch, err))
	}
	return cleaned, warnings
}

// persistSuccess records the merge outcome in the workstream record and the
// artefact store. It runs only after git reported success.
func (executor *Executor) persistSuccess(taskID string, result Result) error {
	if _, err := executor.records.Update(taskID, func(record *workstream.Record) {
		record.MergeStrategy = string(result.Strategy)
		record.CommitCount = result.CommitsAhead
		record.Cleaned = result.Cleaned
	}); err != nil {
		return fmt.Errorf("persist merge fields for %s: %w", taskID, err)
	}
	record, err := executor.records.Transition(taskID, workstream.StatusMerged)
	if err != nil {
		return fmt.Errorf("transition workstream %s to merged: %w", taskID, err)
	}
	if executor.auditor != nil {
		_ = executor.auditor.LogWorkstreamTransition(taskID, string(workstream.StatusCompleted), string(record.Status))
	}
	if err := executor.records.Archive(taskID); err != nil {
		return fmt.Errorf("archive workstream %s: %w", taskID, err)
	}
	if err := executor.store.SetTaskStatus(taskID, artefact.TaskDone); err != nil {
		return fmt.Errorf("mark task %s done: %w", taskID, err)
	}
	return nil
}
