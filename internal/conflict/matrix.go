// Package conflict predicts file-level overlap between active agent
// branches and proposes a safe merge order.
package conflict

import (
	"fmt"
	"sort"

	"github.com/crewel-dev/crewel/internal/gitx"
	"github.com/crewel-dev/crewel/internal/workstream"
)

// Entry records the file overlap between one unordered pair of agents.
type Entry struct {
	// TaskA and TaskB identify the pair; TaskA sorts before TaskB.
	TaskA string
	TaskB string
	// Files lists the files both branches modified relative to their
	// common ancestor with the shared parent.
	Files []string
}

// Matrix holds the pairwise overlap between all active agent branches,
// plus the per-agent changed-file sets used to build it.
type Matrix struct {
	Entries []Entry
	// ChangedFiles maps task id to the files its branch modified.
	ChangedFiles map[string][]string
}

// Degree returns how many other agents' file sets a task's branch touches.
func (matrix Matrix) Degree(taskID string) int {
	degree := 0
	for _, entry := range matrix.Entries {
		if entry.TaskA == taskID || entry.TaskB == taskID {
			degree++
		}
	}
	return degree
}

// Pair returns the overlap entry for two tasks when one exists.
func (matrix Matrix) Pair(a string, b string) (Entry, bool) {
	if a > b {
		a, b = b, a
	}
	for _, entry := range matrix.Entries {
		if entry.TaskA == a && entry.TaskB == b {
			return entry, true
		}
	}
	return Entry{}, false
}

// BuildMatrix diffs every active workstream branch against its common
// ancestor with its parent and intersects changed-file sets pairwise.
// It is read-only analysis over a point-in-time snapshot.
func BuildMatrix(git *gitx.Runner, records []workstream.Record) (Matrix, error) {
	matrix := Matrix{ChangedFiles: make(map[string][]string, len(records))}

	sorted := append([]workstream.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TaskID < sorted[j].TaskID })

	for _, record := range sorted {
		files, err := changedFiles(git, record)
		if err != nil {
			return Matrix{}, err
		}
		matrix.ChangedFiles[record.TaskID] = files
	}

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			overlap := intersect(matrix.ChangedFiles[sorted[i].TaskID], matrix.ChangedFiles[sorted[j].TaskID])
			if len(overlap) == 0 {
				continue
			}
			matrix.Entries = append(matrix.Entries, Entry{
				TaskA: sorted[i].TaskID,
				TaskB: sorted[j].TaskID,
				Files: overlap,
			})
		}
	}
	return matrix, nil
}

// changedFiles diffs a branch against its merge base with its parent.
func changedFiles(git *gitx.Runner, record workstream.Record) ([]string, error) {
	base, err := git.MergeBase(record.ParentBranch, record.Branch)
	if err != nil {
		return nil, fmt.Errorf("merge base for %s: %w", record.Branch, err)
	}
	files, err := git.DiffFiles(base, record.Branch)
	if err != nil {
		return nil, fmt.Errorf("diff files for %s: %w", record.Branch, err)
	}
	sort.Strings(files)
	return files, nil
}

// intersect returns the sorted intersection of two sorted file lists.
func intersect(a []string, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, file := range a {
		set[file] = true
	}
	var overlap []string
	for _, file := range b {
		if set[file] {
			overlap = append(overlap, file)
		}
	}
	sort.Strings(overlap)
	return overlap
}
