// Package branchstate diagnoses a branch's divergence relative to its
// parent. Classification is read-only and never mutates the repository.
package branchstate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/crewel-dev/crewel/internal/gitx"
)

// State is the derived divergence classification of a branch.
type State string

const (
	// StateUpToDate means the branch has no commits either side of parent.
	StateUpToDate State = "up-to-date"
	// StateAhead means the branch has commits the parent lacks.
	StateAhead State = "ahead"
	// StateBehind means the parent has commits the branch lacks.
	StateBehind State = "behind"
	// StateDiverged means both sides have commits the other lacks.
	StateDiverged State = "diverged"
	// StateMissing means the worktree does not exist; it takes priority
	// over every other classification.
	StateMissing State = "missing"
	// StateConflicted means files sit in an unresolved merge state.
	StateConflicted State = "conflicted"
)

// Report captures one branch's classification against its parent.
type Report struct {
	Branch        string
	Parent        string
	WorktreePath  string
	State         State
	Ahead         int
	Behind        int
	Clean         bool
	ConflictFiles []string
}

// Input names the branch under diagnosis.
type Input struct {
	WorktreePath string
	Branch       string
	Parent       string
}

// Classify diagnoses a single branch per the state table: Missing dominates
// everything; Conflicted overrides the divergence label but keeps the
// ahead/behind counts; otherwise the counts alone decide.
func Classify(git *gitx.Runner, input Input) (Report, error) {
	if strings.TrimSpace(input.Branch) == "" {
		return Report{}, errors.New("branch is required")
	}
	if strings.TrimSpace(input.Parent) == "" {
		return Report{}, errors.New("parent branch is required")
	}

	report := Report{
		Branch:       input.Branch,
		Parent:       input.Parent,
		WorktreePath: input.WorktreePath,
	}

	if input.WorktreePath != "" {
		if _, err := os.Stat(input.WorktreePath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				report.State = StateMissing
				return report, nil
			}
			return Report{}, fmt.Errorf("stat worktree %s: %w", input.WorktreePath, err)
		}
		clean, err := git.StatusClean(input.WorktreePath)
		if err != nil {
			return Report{}, err
		}
		report.Clean = clean

		conflicts, err := git.UnmergedFiles(input.WorktreePath)
		if err != nil {
			return Report{}, err
		}
		report.ConflictFiles = conflicts
	} else {
		exists, err := git.BranchExists(input.Branch)
		if err != nil {
			return Report{}, err
		}
		if !exists {
			report.State = StateMissing
			return report, nil
		}
		report.Clean = true
	}

	ahead, behind, err := git.AheadBehind(input.Branch, input.Parent)
	if err != nil {
		return Report{}, err
	}
	report.Ahead = ahead
	report.Behind = behind
	report.State = classify(ahead, behind, len(report.ConflictFiles) > 0)
	return report, nil
}

// classify applies the divergence state table.
func classify(ahead int, behind int, conflicted bool) State {
	if conflicted {
		return StateConflicted
	}
	switch {
	case ahead > 0 && behind > 0:
		return StateDiverged
	case ahead > 0:
		return StateAhead
	case behind > 0:
		return StateBehind
	default:
		return StateUpToDate
	}
}
