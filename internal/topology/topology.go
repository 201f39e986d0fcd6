// Package topology resolves parent branches per branching strategy and
// ensures hierarchy branches exist before children reference them.
package topology

import (
	"fmt"
	"strings"

	"github.com/crewel-dev/crewel/internal/artefact"
	"github.com/crewel-dev/crewel/internal/config"
	"github.com/crewel-dev/crewel/internal/fault"
	"github.com/crewel-dev/crewel/internal/gitx"
)

// Level identifies a rung of the branch hierarchy.
type Level string

const (
	// LevelTask is a leaf task branch.
	LevelTask Level = "task"
	// LevelEpic is an epic roll-up branch (per-epic strategy only).
	LevelEpic Level = "epic"
	// LevelPRD is a PRD roll-up branch (per-prd and per-epic strategies).
	LevelPRD Level = "prd"
)

// ParseLevel validates a hierarchy level string.
func ParseLevel(value string) (Level, error) {
	switch Level(value) {
	case LevelTask, LevelEpic, LevelPRD:
		return Level(value), nil
	default:
		return "", fault.Validation("unknown hierarchy level %q (expected task, epic, or prd)", value)
	}
}

// Topology resolves branch names and parents for one repository.
type Topology struct {
	git      *gitx.Runner
	store    artefact.Store
	strategy config.BranchingStrategy
	main     string
	prefix   string
}

// New constructs a Topology from validated configuration.
func New(git *gitx.Runner, store artefact.Store, cfg config.Config) (*Topology, error) {
	strategy, err := cfg.BranchingStrategy()
	if err != nil {
		return nil, err
	}
	return &Topology{
		git:      git,
		store:    store,
		strategy: strategy,
		main:     cfg.Branches.Main,
		prefix:   cfg.Branches.Prefix,
	}, nil
}

// Strategy returns the branching strategy in effect.
func (topology *Topology) Strategy() config.BranchingStrategy {
	return topology.strategy
}

// MainBranch returns the configured trunk branch.
func (topology *Topology) MainBranch() string {
	return topology.main
}

// TaskBranch returns the branch name for a task.
func (topology *Topology) TaskBranch(taskID string) string {
	return fmt.Sprintf("%stask-%s", topology.prefix, taskID)
}

// EpicBranch returns the branch name for an epic.
func (topology *Topology) EpicBranch(epicID string) string {
	return fmt.Sprintf("%sepic-%s", topology.prefix, epicID)
}

// PRDBranch returns the branch name for a PRD.
func (topology *Topology) PRDBranch(prdID string) string {
	return fmt.Sprintf("%sprd-%s", topology.prefix, prdID)
}

// BranchFor returns the branch name for an id at the given level.
func (topology *Topology) BranchFor(level Level, id string) string {
	switch level {
	case LevelEpic:
		return topology.EpicBranch(id)
	case LevelPRD:
		return topology.PRDBranch(id)
	default:
		return topology.TaskBranch(id)
	}
}

// ParseBranch inverts BranchFor: it recovers the hierarchy level and id
// from a managed branch name. ok is false when the branch lacks the
// configured prefix or a known level marker.
func (topology *Topology) ParseBranch(branch string) (level Level, id string, ok bool) {
	rest, found := strings.CutPrefix(branch, topology.prefix)
	if !found {
		return "", "", false
	}
	for _, level := range []Level{LevelTask, LevelEpic, LevelPRD} {
		if id, found := strings.CutPrefix(rest, string(level)+"-"); found && id != "" {
			return level, id, true
		}
	}
	return "", "", false
}

// ParentOfTask resolves the immediate parent branch of a task branch: one
// level up the strategy chain.
func (topology *Topology) ParentOfTask(taskID string) (string, error) {
	switch topology.strategy {
	case config.BranchingFlat:
		return topology.main, nil
	case config.BranchingPerPRD:
		prdID, err := topology.prdForTask(taskID)
		if err != nil {
			return "", err
		}
		return topology.PRDBranch(prdID), nil
	case config.BranchingPerEpic:
		task, err := topology.store.Task(taskID)
		if err != nil {
			return "", err
		}
		if task.Epic == "" {
			return topology.main, nil
		}
		return topology.EpicBranch(task.Epic), nil
	default:
		return "", fault.Validation("unknown branching strategy %q", topology.strategy)
	}
}

// ParentOfEpic resolves the parent branch of an epic branch.
func (topology *Topology) ParentOfEpic(epicID string) (string, error) {
	if topology.strategy != config.BranchingPerEpic {
		return "", fault.Validation("epic branches exist only under the per-epic strategy")
	}
	epic, err := topology.store.Epic(epicID)
	if err != nil {
		return "", err
	}
	if epic.PRD == "" {
		return topology.main, nil
	}
	return topology.PRDBranch(epic.PRD), nil
}

// ParentOfPRD resolves the parent branch of a PRD branch, always main.
func (topology *Topology) ParentOfPRD(prdID string) (string, error) {
	if topology.strategy == config.BranchingFlat {
		return "", fault.Validation("prd branches exist only under the per-prd and per-epic strategies")
	}
	return topology.main, nil
}

// ParentOf resolves the parent branch for an id at the given level.
func (topology *Topology) ParentOf(level Level, id string) (string, error) {
	switch level {
	case LevelTask:
		return topology.ParentOfTask(id)
	case LevelEpic:
		return topology.ParentOfEpic(id)
	case LevelPRD:
		return topology.ParentOfPRD(id)
	default:
		return "", fault.Validation("unknown hierarchy level %q", level)
	}
}

// Chain returns the branch chain from a task branch up to main, inclusive.
func (topology *Topology) Chain(taskID string) ([]string, error) {
	chain := []string{topology.TaskBranch(taskID)}
	switch topology.strategy {
	case config.BranchingFlat:
	case config.BranchingPerPRD:
		prdID, err := topology.prdForTask(taskID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, topology.PRDBranch(prdID))
	case config.BranchingPerEpic:
		task, err := topology.store.Task(taskID)
		if err != nil {
			return nil, err
		}
		if task.Epic != "" {
			chain = append(chain, topology.EpicBranch(task.Epic))
			epic, err := topology.store.Epic(task.Epic)
			if err != nil {
				return nil, err
			}
			if epic.PRD != "" {
				chain = append(chain, topology.PRDBranch(epic.PRD))
			}
		}
	}
	return append(chain, topology.main), nil
}

// EnsureHierarchy idempotently creates any missing ancestor branches for a
// task, starting from main. Creation is a no-op when already present.
func (topology *Topology) EnsureHierarchy(taskID string) error {
	chain, err := topology.Chain(taskID)
	if err != nil {
		return err
	}
	// Walk top-down from main, skipping the task branch itself; each
	// hierarchy branch is created from its own parent.
	for i := len(chain) - 2; i >= 1; i-- {
		branch := chain[i]
		parent := chain[i+1]
		exists, err := topology.git.BranchExists(branch)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := topology.git.CreateBranch(branch, parent); err != nil {
			return fmt.Errorf("create hierarchy branch %s from %s: %w", branch, parent, err)
		}
	}
	return nil
}

// prdForTask resolves the PRD owning a task through its epic.
func (topology *Topology) prdForTask(taskID string) (string, error) {
	task, err := topology.store.Task(taskID)
	if err != nil {
		return "", err
	}
	if task.Epic == "" {
		return "", fault.Validation("task %s has no owning epic; per-prd branching requires one", taskID)
	}
	epic, err := topology.store.Epic(task.Epic)
	if err != nil {
		return "", err
	}
	if epic.PRD == "" {
		return "", fault.Validation("epic %s has no owning prd; per-prd branching requires one", task.Epic)
	}
	return epic.PRD, nil
}
