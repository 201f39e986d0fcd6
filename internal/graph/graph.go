// Package graph builds the task/epic dependency graph and answers
// critical-path, impact, and transitive-unblock queries.
package graph

import (
	"fmt"
	"sort"

	"github.com/crewel-dev/crewel/internal/artefact"
)

// Graph is the dependency graph over one snapshot of the artefact store.
// It is built fresh per command invocation and never cached across calls.
type Graph struct {
	Tasks map[string]artefact.Task
	Epics map[string]artefact.Epic

	// TaskBlocks maps a task id to the ids it directly unblocks, i.e. the
	// reverse of the blocked_by relation. Slices are sorted for determinism.
	TaskBlocks map[string][]string
	// EpicBlocks is the same reverse adjacency at the epic level.
	EpicBlocks map[string][]string
}

// CycleError reports a dependency cycle encountered during traversal.
// Validation rejects cyclic edges at write time, so hitting one here means
// the artefact files were edited out-of-band.
type CycleError struct {
	ID string
}

// Error renders the cycle location.
func (err *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected at %s", err.ID)
}

// Build constructs the graph from the current artefact state.
func Build(store artefact.Store) (*Graph, error) {
	tasks, err := store.Tasks()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	epics, err := store.Epics()
	if err != nil {
		return nil, fmt.Errorf("load epics: %w", err)
	}

	g := &Graph{
		Tasks:      make(map[string]artefact.Task, len(tasks)),
		Epics:      make(map[string]artefact.Epic, len(epics)),
		TaskBlocks: make(map[string][]string),
		EpicBlocks: make(map[string][]string),
	}
	for _, task := range tasks {
		g.Tasks[task.ID] = task
	}
	for _, epic := range epics {
		g.Epics[epic.ID] = epic
	}

	for _, task := range tasks {
		for _, blocker := range task.BlockedBy {
			if _, ok := g.Tasks[blocker]; !ok {
				continue
			}
			g.TaskBlocks[blocker] = append(g.TaskBlocks[blocker], task.ID)
		}
	}
	for _, epic := range epics {
		for _, blocker := range epic.BlockedBy {
			if _, ok := g.Epics[blocker]; !ok {
				continue
			}
			g.EpicBlocks[blocker] = append(g.EpicBlocks[blocker], epic.ID)
		}
	}

	for id := range g.TaskBlocks {
		sort.Strings(g.TaskBlocks[id])
	}
	for id := range g.EpicBlocks {
		sort.Strings(g.EpicBlocks[id])
	}
	return g, nil
}

// PathResult holds a longest downstream chain starting at a task.
type PathResult struct {
	Length int
	Path   []string
}

// LongestPath returns the longest directed path over the blocks relation
// starting at id: zero for a task with no dependents. Shared subpaths are
// memoized within this single query; a cycle fails with CycleError instead
// of recursing indefinitely.
func (g *Graph) LongestPath(id string) (PathResult, error) {
	if _, ok := g.Tasks[id]; !ok {
		return PathResult{}, fmt.Errorf("task %s is not in the graph", id)
	}
	memo := make(map[string]PathResult, len(g.Tasks))
	onPath := make(map[string]bool)
	return g.longestPathFrom(id, memo, onPath)
}

// longestPathFrom is the memoized recursion behind LongestPath.
func (g *Graph) longestPathFrom(id string, memo map[string]PathResult, onPath map[string]bool) (PathResult, error) {
	if cached, ok := memo[id]; ok {
		return cached, nil
	}
	if onPath[id] {
		return PathResult{}, &CycleError{ID: id}
	}
	onPath[id] = true
	defer delete(onPath, id)

	best := PathResult{Length: 0, Path: []string{id}}
	for _, dependent := range g.TaskBlocks[id] {
		sub, err := g.longestPathFrom(dependent, memo, onPath)
		if err != nil {
			return PathResult{}, err
		}
		if sub.Length+1 > best.Length {
			best = PathResult{
				Length: sub.Length + 1,
				Path:   append([]string{id}, sub.Path...),
			}
		}
	}
	memo[id] = best
	return best, nil
}

// CountTotalUnblocked returns the size of the transitive closure reachable
// from id via the blocks relation, excluding id itself. Each node counts
// once regardless of how many paths reach it.
func (g *Graph) CountTotalUnblocked(id string) int {
	visited := map[string]bool{id: true}
	queue := append([]string(nil), g.TaskBlocks[id]...)
	count := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		count++
		queue = append(queue, g.TaskBlocks[current]...)
	}
	return count
}

// ImpactReport partitions the direct dependents of a task into those that
// would become workable if the task completed now versus those still held
// back by other unresolved blockers.
type ImpactReport struct {
	TaskID            string
	DirectlyUnblocked []string
	StillBlocked      []BlockedDependent
	TotalUnblocked    int
}

// BlockedDependent names a dependent together with its remaining blockers.
type BlockedDependent struct {
	ID                string
	RemainingBlockers []string
}

// Impact computes the impact report for completing the given task.
func (g *Graph) Impact(id string) (ImpactReport, error) {
	if _, ok := g.Tasks[id]; !ok {
		return ImpactReport{}, fmt.Errorf("task %s is not in the graph", id)
	}
	report := ImpactReport{TaskID: id, TotalUnblocked: g.CountTotalUnblocked(id)}
	for _, dependent := range g.TaskBlocks[id] {
		remaining := g.unresolvedBlockers(dependent, id)
		if len(remaining) == 0 {
			report.DirectlyUnblocked = append(report.DirectlyUnblocked, dependent)
			continue
		}
		report.StillBlocked = append(report.StillBlocked, BlockedDependent{
			ID:                dependent,
			RemainingBlockers: remaining,
		})
	}
	return report, nil
}

// unresolvedBlockers lists a task's blockers that are neither done nor
// cancelled, excluding the task whose completion is being evaluated.
func (g *Graph) unresolvedBlockers(id string, excluding string) []string {
	task, ok := g.Tasks[id]
	if !ok {
		return nil
	}
	var remaining []string
	for _, blocker := range task.BlockedBy {
		if blocker == excluding {
			continue
		}
		blockerTask, ok := g.Tasks[blocker]
		if !ok {
			continue
		}
		if !blockerTask.Status.Resolved() {
			remaining = append(remaining, blocker)
		}
	}
	sort.Strings(remaining)
	return remaining
}

// Unblocked reports whether every blocker of the task is resolved,
// including the epic-level gate on the task's parent epic.
func (g *Graph) Unblocked(id string) bool {
	task, ok := g.Tasks[id]
	if !ok {
		return false
	}
	for _, blocker := range task.BlockedBy {
		blockerTask, exists := g.Tasks[blocker]
		if !exists || !blockerTask.Status.Resolved() {
			return false
		}
	}
	return g.EpicBlockersResolved(task.Epic)
}

// BottleneckScore ranks a task by dependent fan-out times critical-path
// length: the tasks most worth finishing first score highest.
func (g *Graph) BottleneckScore(id string) (int, error) {
	longest, err := g.LongestPath(id)
	if err != nil {
		return 0, err
	}
	return len(g.TaskBlocks[id]) * longest.Length, nil
}

// EpicBlockersResolved reports whether every blocking epic of the given
// epic is done. Tasks inside an epic are not ready until this holds.
func (g *Graph) EpicBlockersResolved(epicID string) bool {
	epic, ok := g.Epics[epicID]
	if !ok {
		return true
	}
	for _, blocker := range epic.BlockedBy {
		blockerEpic, ok := g.Epics[blocker]
		if !ok {
			continue
		}
		if blockerEpic.Status != artefact.TaskDone {
			return false
		}
	}
	return true
}
