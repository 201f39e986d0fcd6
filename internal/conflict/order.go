package conflict

import (
	"sort"

	"github.com/crewel-dev/crewel/internal/graph"
	"github.com/crewel-dev/crewel/internal/workstream"
)

// OrderStep is one position in a suggested merge sequence.
type OrderStep struct {
	TaskID string
	Branch string
	// ConflictDegree is the number of still-unmerged agents whose files this
	// branch overlaps at the time it would merge.
	ConflictDegree int
	// WaitsOn lists blocker tasks elsewhere in the sequence that this step
	// was ordered after.
	WaitsOn []string
}

// SuggestOrder proposes a merge sequence for the active agents. Dependency
// order is the primary key: an agent whose task has unmerged blockers among
// the other active agents never schedules before them. Among agents with no
// unresolved ordering, the branch touching the fewest other active agents'
// files merges first, recomputing degrees after each removal. Ties break on
// ascending task id. The sequence is advisory output, never auto-executed.
func SuggestOrder(matrix Matrix, g *graph.Graph, records []workstream.Record) []OrderStep {
	branches := make(map[string]string, len(records))
	remaining := make(map[string]bool, len(records))
	all := make(map[string]bool, len(records))
	for _, record := range records {
		branches[record.TaskID] = record.Branch
		remaining[record.TaskID] = true
		all[record.TaskID] = true
	}

	steps := make([]OrderStep, 0, len(records))
	for len(remaining) > 0 {
		eligible := eligibleTasks(g, remaining)
		if len(eligible) == 0 {
			// Blockers form a cycle among active agents; validation should
			// have prevented this. Fall back to pure degree ordering so the
			// suggestion still terminates.
			eligible = sortedKeys(remaining)
		}

		best := ""
		bestDegree := -1
		for _, taskID := range eligible {
			degree := remainingDegree(matrix, taskID, remaining)
			if best == "" || degree < bestDegree || (degree == bestDegree && taskID < best) {
				best = taskID
				bestDegree = degree
			}
		}

		steps = append(steps, OrderStep{
			TaskID:         best,
			Branch:         branches[best],
			ConflictDegree: bestDegree,
			WaitsOn:        activeBlockers(g, best, all),
		})
		delete(remaining, best)
	}
	return steps
}

// eligibleTasks returns the remaining tasks with no unmerged blockers among
// the remaining set, sorted ascending.
func eligibleTasks(g *graph.Graph, remaining map[string]bool) []string {
	var eligible []string
	for taskID := range remaining {
		if len(activeBlockers(g, taskID, remaining)) == 0 {
			eligible = append(eligible, taskID)
		}
	}
	sort.Strings(eligible)
	return eligible
}

// activeBlockers lists a task's blockers that are themselves still in the
// remaining active set, excluding the task itself.
func activeBlockers(g *graph.Graph, taskID string, remaining map[string]bool) []string {
	task, ok := g.Tasks[taskID]
	if !ok {
		return nil
	}
	var blockers []string
	for _, blocker := range task.BlockedBy {
		if blocker != taskID && remaining[blocker] {
			blockers = append(blockers, blocker)
		}
	}
	sort.Strings(blockers)
	return blockers
}

// remainingDegree counts conflict entries between taskID and tasks still in
// the remaining set.
func remainingDegree(matrix Matrix, taskID string, remaining map[string]bool) int {
	degree := 0
	for _, entry := range matrix.Entries {
		switch taskID {
		case entry.TaskA:
			if remaining[entry.TaskB] {
				degree++
			}
		case entry.TaskB:
			if remaining[entry.TaskA] {
				degree++
			}
		}
	}
	return degree
}

// sortedKeys returns the map keys in ascending order.
func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
