// Package scheduler selects and ranks tasks eligible for agent assignment.
package scheduler

import (
	"sort"

	"github.com/crewel-dev/crewel/internal/artefact"
	"github.com/crewel-dev/crewel/internal/graph"
)

// Filters narrows the ready-task listing.
type Filters struct {
	// PRD keeps only tasks whose owning epic belongs to this PRD.
	PRD string
	// Epic keeps only tasks owned by this epic.
	Epic string
	// Tags keeps only tasks carrying every listed tag.
	Tags []string
	// Resume additionally admits in-progress tasks.
	Resume bool
	// Limit truncates the result when positive.
	Limit int
}

// ReadyTask is an eligible task annotated with its scheduling weight.
type ReadyTask struct {
	Task artefact.Task
	// Impact is the count of tasks transitively unblocked by finishing this one.
	Impact int
	// CriticalPath is the longest downstream dependent chain length.
	CriticalPath int
}

// Ready returns the tasks currently safe to hand to an agent, ranked by
// impact then critical path, with ascending-id tie-breaks for reproducible
// output.
func Ready(g *graph.Graph, filters Filters) ([]ReadyTask, error) {
	ready := make([]ReadyTask, 0, len(g.Tasks))
	for _, task := range g.Tasks {
		if !statusEligible(task.Status, filters.Resume) {
			continue
		}
		if !matchesFilters(g, task, filters) {
			continue
		}
		if !blockersResolved(g, task) {
			continue
		}
		if !g.EpicBlockersResolved(task.Epic) {
			continue
		}
		longest, err := g.LongestPath(task.ID)
		if err != nil {
			return nil, err
		}
		ready = append(ready, ReadyTask{
			Task:         task,
			Impact:       g.CountTotalUnblocked(task.ID),
			CriticalPath: longest.Length,
		})
	}

	sort.SliceStable(ready, func(i, j int) bool {
		left := ready[i]
		right := ready[j]
		if left.Impact != right.Impact {
			return left.Impact > right.Impact
		}
		if left.CriticalPath != right.CriticalPath {
			return left.CriticalPath > right.CriticalPath
		}
		return left.Task.ID < right.Task.ID
	})

	if filters.Limit > 0 && len(ready) > filters.Limit {
		ready = ready[:filters.Limit]
	}
	return ready, nil
}

// statusEligible reports whether a task status permits assignment.
func statusEligible(status artefact.TaskStatus, resume bool) bool {
	if status == artefact.TaskNotStarted {
		return true
	}
	return resume && status == artefact.TaskInProgress
}

// matchesFilters applies the PRD, epic, and tag filters. Tag filtering uses
// AND semantics: every requested tag must be present.
func matchesFilters(g *graph.Graph, task artefact.Task, filters Filters) bool {
	if filters.Epic != "" && task.Epic != filters.Epic {
		return false
	}
	if filters.PRD != "" {
		epic, ok := g.Epics[task.Epic]
		if !ok || epic.PRD != filters.PRD {
			return false
		}
	}
	if len(filters.Tags) > 0 {
		tags := make(map[string]bool, len(task.Tags))
		for _, tag := range task.Tags {
			tags[tag] = true
		}
		for _, required := range filters.Tags {
			if !tags[required] {
				return false
			}
		}
	}
	return true
}

// blockersResolved reports whether every blocking task is done or cancelled.
func blockersResolved(g *graph.Graph, task artefact.Task) bool {
	for _, blocker := range task.BlockedBy {
		blockerTask, ok := g.Tasks[blocker]
		if !ok {
			// A blocker missing from the artefact store cannot be proven
			// resolved, so the task stays ineligible.
			return false
		}
		if !blockerTask.Status.Resolved() {
			return false
		}
	}
	return true
}

// Bottlenecks ranks tasks by dependent fan-out times critical-path length,
// descending, with ascending-id tie-breaks.
func Bottlenecks(g *graph.Graph, filters Filters) ([]BottleneckTask, error) {
	scored := make([]BottleneckTask, 0, len(g.Tasks))
	for _, task := range g.Tasks {
		if task.Status.Resolved() {
			continue
		}
		if !matchesFilters(g, task, filters) {
			continue
		}
		score, err := g.BottleneckScore(task.ID)
		if err != nil {
			return nil, err
		}
		if score == 0 {
			continue
		}
		longest, err := g.LongestPath(task.ID)
		if err != nil {
			return nil, err
		}
		scored = append(scored, BottleneckTask{
			Task:         task,
			Score:        score,
			CriticalPath: longest.Length,
			Dependents:   len(g.TaskBlocks[task.ID]),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Task.ID < scored[j].Task.ID
	})
	if filters.Limit > 0 && len(scored) > filters.Limit {
		scored = scored[:filters.Limit]
	}
	return scored, nil
}

// BottleneckTask is a task annotated with its critical-bottleneck score.
type BottleneckTask struct {
	Task         artefact.Task
	Score        int
	CriticalPath int
	Dependents   int
}
