// Package reconcile repairs drift between the branch hierarchy, the
// workstream records, and the actual state of the git repository.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/dlclark/regexp2"

	"github.com/crewel-dev/crewel/internal/audit"
	"github.com/crewel-dev/crewel/internal/branchstate"
	"github.com/crewel-dev/crewel/internal/config"
	"github.com/crewel-dev/crewel/internal/fault"
	"github.com/crewel-dev/crewel/internal/gitx"
	"github.com/crewel-dev/crewel/internal/repolock"
	"github.com/crewel-dev/crewel/internal/topology"
	"github.com/crewel-dev/crewel/internal/workstream"
)

// Reconciler diagnoses and repairs the branch hierarchy.
type Reconciler struct {
	git     *gitx.Runner
	topo    *topology.Topology
	records *workstream.Store
	auditor *audit.Logger
	cfg     config.Config
}

// New wires a reconciler for one repository.
func New(git *gitx.Runner, topo *topology.Topology, records *workstream.Store,
	auditor *audit.Logger, cfg config.Config) *Reconciler {
	return &Reconciler{git: git, topo: topo, records: records, auditor: auditor, cfg: cfg}
}

// ChainLink is the classified state of one parent/child edge in a task's
// branch chain, ordered leaf first.
type ChainLink struct {
	Branch string
	Parent string
	Report branchstate.Report
}

// Diagnosis is the full chain classification for one task.
type Diagnosis struct {
	TaskID string
	Links  []ChainLink
}

// Healthy reports whether every link in the chain is up to date.
func (diagnosis Diagnosis) Healthy() bool {
	for _, link := range diagnosis.Links {
		if link.Report.State != branchstate.StateUpToDate {
			return false
		}
	}
	return true
}

// Diagnose classifies every edge of a task's branch chain from the leaf
// up to the main branch. It reads the repository but never mutates it.
func (reconciler *Reconciler) Diagnose(taskID string) (Diagnosis, error) {
	chain, err := reconciler.topo.Chain(taskID)
	if err != nil {
		return Diagnosis{}, err
	}
	diagnosis := Diagnosis{TaskID: taskID}
	worktreePath := ""
	if record, recordErr := reconciler.records.Get(taskID); recordErr == nil {
		worktreePath = record.WorktreePath
	}
	for i := 0; i+1 < len(chain); i++ {
		input := branchstate.Input{Branch: chain[i], Parent: chain[i+1]}
		// Only the leaf edge has a worktree to inspect for dirtiness.
		if i == 0 {
			input.WorktreePath = worktreePath
		}
		report, err := branchstate.Classify(reconciler.git, input)
		if err != nil {
			return diagnosis, fmt.Errorf("classify %s against %s: %w", chain[i], chain[i+1], err)
		}
		diagnosis.Links = append(diagnosis.Links, ChainLink{Branch: chain[i], Parent: chain[i+1], Report: report})
	}
	return diagnosis, nil
}

// SyncAction describes one parent-into-child merge performed (or planned,
// under dry-run) to propagate upstream commits down the hierarchy.
type SyncAction struct {
	Branch   string
	Parent   string
	State    branchstate.State
	Applied  bool
	Conflict []string
}

// Sync merges each parent into its Behind or Diverged child, walking the
// chain from main downward so upstream commits propagate in one pass. Each
// edge is classified at walk time because syncing a parent moves it, which
// can leave its own child behind in turn. A conflicted sync is aborted and
// reported; later edges are still attempted.
func (reconciler *Reconciler) Sync(taskID string, dryRun bool) ([]SyncAction, error) {
	chain, err := reconciler.topo.Chain(taskID)
	if err != nil {
		return nil, err
	}
	worktreePath := ""
	if record, recordErr := reconciler.records.Get(taskID); recordErr == nil {
		worktreePath = record.WorktreePath
	}

	if !dryRun {
		lock, err := repolock.Acquire(reconciler.git.Root(), "sync "+taskID)
		if err != nil {
			return nil, err
		}
		defer func() { _ = lock.Release() }()
	}

	var actions []SyncAction
	checkedOut := false
	// Walk top-down: the last edge is closest to main, the first is the leaf.
	for i := len(chain) - 2; i >= 0; i-- {
		input := branchstate.Input{Branch: chain[i], Parent: chain[i+1]}
		if i == 0 {
			input.WorktreePath = worktreePath
		}
		report, err := branchstate.Classify(reconciler.git, input)
		if err != nil {
			return actions, fmt.Errorf("classify %s against %s: %w", chain[i], chain[i+1], err)
		}
		state := report.State
		if state != branchstate.StateBehind && state != branchstate.StateDiverged {
			continue
		}
		link := ChainLink{Branch: chain[i], Parent: chain[i+1], Report: report}
		action := SyncAction{Branch: link.Branch, Parent: link.Parent, State: state}
		if dryRun {
			actions = append(actions, action)
			continue
		}
		if link.Report.WorktreePath == "" {
			checkedOut = true
		}
		conflicts, err := reconciler.mergeParentIn(link)
		if err != nil {
			if !fault.IsKind(err, fault.KindMergeConflict) {
				return actions, err
			}
			action.Conflict = conflicts
			actions = append(actions, action)
			continue
		}
		action.Applied = true
		actions = append(actions, action)
		if reconciler.auditor != nil {
			_ = reconciler.auditor.LogHierarchySync(link.Branch, link.Parent, "merge")
		}
	}
	// Intermediate syncs run in the main checkout; leave it back on main.
	if checkedOut {
		if err := reconciler.git.Checkout(reconciler.topo.MainBranch()); err != nil {
			return actions, fault.ExternalTool(err, "restore %s checkout", reconciler.topo.MainBranch())
		}
	}
	return actions, nil
}

// mergeParentIn merges the parent branch into the child. The leaf branch is
// checked out in its worktree, so the merge runs there; intermediate
// branches are checked out in the main checkout. Conflicts are aborted.
func (reconciler *Reconciler) mergeParentIn(link ChainLink) ([]string, error) {
	message := fmt.Sprintf("crewel: sync %s into %s", link.Parent, link.Branch)
	if link.Report.WorktreePath != "" {
		if _, err := reconciler.git.RunIn(link.Report.WorktreePath, "merge", "--no-ff", "-m", message, link.Parent); err != nil {
			if gitx.IsConflict(err) {
				conflicts, _ := reconciler.git.UnmergedFiles(link.Report.WorktreePath)
				if _, abortErr := reconciler.git.RunIn(link.Report.WorktreePath, "merge", "--abort"); abortErr != nil {
					return conflicts, fault.ExternalTool(abortErr, "abort conflicted sync of %s", link.Branch)
				}
				return conflicts, fault.MergeConflict(
					fmt.Sprintf("sync of %s into %s conflicts", link.Parent, link.Branch), conflicts)
			}
			return nil, fault.ExternalTool(err, "sync %s into %s", link.Parent, link.Branch)
		}
		return nil, nil
	}

	if err := reconciler.git.Checkout(link.Branch); err != nil {
		return nil, fault.ExternalTool(err, "checkout %s", link.Branch)
	}
	if _, err := reconciler.git.Merge(link.Parent, message); err != nil {
		if gitx.IsConflict(err) {
			conflicts, _ := reconciler.git.UnmergedFiles(reconciler.git.Root())
			if abortErr := reconciler.git.MergeAbort(); abortErr != nil {
				return conflicts, fault.ExternalTool(abortErr, "abort conflicted sync of %s", link.Branch)
			}
			return conflicts, fault.MergeConflict(
				fmt.Sprintf("sync of %s into %s conflicts", link.Parent, link.Branch), conflicts)
		}
		return nil, fault.ExternalTool(err, "sync %s into %s", link.Parent, link.Branch)
	}
	return nil, nil
}

// PruneCandidate is one managed branch considered for deletion.
type PruneCandidate struct {
	Branch      string
	FullyMerged bool
	Pruned      bool
	Skipped     string
}

// PruneOrphans deletes managed branches that no live workstream record
// claims. A branch is managed when it matches the configured
// managed-branch pattern. Branches with commits their parent lacks are
// skipped unless force is set.
func (reconciler *Reconciler) PruneOrphans(dryRun bool, force bool) ([]PruneCandidate, error) {
	pattern, err := regexp2.Compile(reconciler.cfg.Branches.ManagedPattern, regexp2.RE2)
	if err != nil {
		return nil, fault.Validation("invalid managed branch pattern %q: %v", reconciler.cfg.Branches.ManagedPattern, err)
	}

	if !dryRun {
		lock, err := repolock.Acquire(reconciler.git.Root(), "prune")
		if err != nil {
			return nil, err
		}
		defer func() { _ = lock.Release() }()
	}

	branches, err := reconciler.git.LocalBranches()
	if err != nil {
		return nil, err
	}
	// Any live record protects its branch; only archived workstreams leave
	// orphans behind.
	live, err := reconciler.records.List()
	if err != nil {
		return nil, err
	}
	liveBranches := make(map[string]bool, len(live))
	for _, record := range live {
		liveBranches[record.Branch] = true
	}

	main := reconciler.topo.MainBranch()
	var candidates []PruneCandidate
	for _, branch := range branches {
		if branch == main {
			continue
		}
		matched, matchErr := pattern.MatchString(branch)
		if matchErr != nil || !matched {
			continue
		}
		if liveBranches[branch] {
			continue
		}
		candidate := PruneCandidate{Branch: branch}
		merged, countErr := reconciler.fullyMerged(branch)
		if countErr != nil {
			candidate.Skipped = fmt.Sprintf("cannot determine merge state: %v", countErr)
			candidates = append(candidates, candidate)
			continue
		}
		candidate.FullyMerged = merged
		if !merged && !force {
			candidate.Skipped = "has unmerged commits"
			candidates = append(candidates, candidate)
			continue
		}
		if dryRun {
			candidates = append(candidates, candidate)
			continue
		}
		// git's -d check is HEAD-relative; the parent-relative gate above
		// already decided this deletion, so it must not re-veto.
		if err := reconciler.git.DeleteBranch(branch, true); err != nil {
			candidate.Skipped = fmt.Sprintf("delete failed: %v", err)
			candidates = append(candidates, candidate)
			continue
		}
		candidate.Pruned = true
		candidates = append(candidates, candidate)
		if reconciler.auditor != nil {
			_ = reconciler.auditor.LogBranchPrune(branch, !merged)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Branch < candidates[j].Branch })
	return candidates, nil
}

// fullyMerged reports whether the branch has no commits absent from its
// parent. A task branch merged into its epic is fully merged even before
// the epic is promoted to main.
func (reconciler *Reconciler) fullyMerged(branch string) (bool, error) {
	ahead, err := reconciler.git.RevListCount(reconciler.parentOf(branch), branch)
	if err != nil {
		return false, err
	}
	return ahead == 0, nil
}

// parentOf resolves the hierarchy parent a branch merges into. Branches
// whose parent cannot be resolved (unparseable name, or the underlying
// artefact is gone) are measured against main.
func (reconciler *Reconciler) parentOf(branch string) string {
	main := reconciler.topo.MainBranch()
	level, id, ok := reconciler.topo.ParseBranch(branch)
	if !ok {
		return main
	}
	parent, err := reconciler.topo.ParentOf(level, id)
	if err != nil {
		return main
	}
	if exists, existsErr := reconciler.git.BranchExists(parent); existsErr != nil || !exists {
		return main
	}
	return parent
}
