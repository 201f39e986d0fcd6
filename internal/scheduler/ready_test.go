package scheduler

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewel-dev/crewel/internal/artefact"
	"github.com/crewel-dev/crewel/internal/graph"
)

// memStore backs graph construction for scheduler tests.
type memStore struct {
	tasks []artefact.Task
	epics []artefact.Epic
}

func (store *memStore) Task(id string) (artefact.Task, error) {
	for _, task := range store.tasks {
		if task.ID == id {
			return task, nil
		}
	}
	return artefact.Task{}, errors.New("not found")
}

func (store *memStore) Epic(id string) (artefact.Epic, error) {
	for _, epic := range store.epics {
		if epic.ID == id {
			return epic, nil
		}
	}
	return artefact.Epic{}, errors.New("not found")
}

func (store *memStore) PRD(id string) (artefact.PRD, error) {
	return artefact.PRD{}, errors.New("not found")
}

func (store *memStore) Tasks() ([]artefact.Task, error) { return store.tasks, nil }
func (store *memStore) Epics() ([]artefact.Epic, error) { return store.epics, nil }
func (store *memStore) PRDs() ([]artefact.PRD, error)   { return nil, nil }

func (store *memStore) SetTaskStatus(string, artefact.TaskStatus) error {
	return errors.New("not supported")
}
func (store *memStore) SetTaskBlockers(string, []string) error { return errors.New("not supported") }
func (store *memStore) SetEpicBlockers(string, []string) error { return errors.New("not supported") }

func buildGraph(t *testing.T, store *memStore) *graph.Graph {
	t.Helper()
	g, err := graph.Build(store)
	require.NoError(t, err)
	return g
}

func readyIDs(t *testing.T, g *graph.Graph, filters Filters) []string {
	t.Helper()
	ready, err := Ready(g, filters)
	require.NoError(t, err)
	ids := make([]string, len(ready))
	for i, entry := range ready {
		ids[i] = entry.Task.ID
	}
	return ids
}

func TestReadyExcludesBlockedTasks(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "a", Status: artefact.TaskNotStarted},
		{ID: "b", Status: artefact.TaskNotStarted, BlockedBy: []string{"a"}},
	}})

	assert.Equal(t, []string{"a"}, readyIDs(t, g, Filters{}))
}

func TestReadyAdmitsResolvedBlockers(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "a", Status: artefact.TaskDone},
		{ID: "b", Status: artefact.TaskCancelled},
		{ID: "c", Status: artefact.TaskNotStarted, BlockedBy: []string{"a", "b"}},
	}})

	assert.Equal(t, []string{"c"}, readyIDs(t, g, Filters{}))
}

func TestReadyMissingBlockerIsIneligible(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "a", Status: artefact.TaskNotStarted, BlockedBy: []string{"ghost"}},
	}})

	assert.Empty(t, readyIDs(t, g, Filters{}))
}

func TestReadyStatusEligibility(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "fresh", Status: artefact.TaskNotStarted},
		{ID: "working", Status: artefact.TaskInProgress},
		{ID: "stuck", Status: artefact.TaskBlocked},
		{ID: "finished", Status: artefact.TaskDone},
		{ID: "dead", Status: artefact.TaskAborted},
	}})

	assert.Equal(t, []string{"fresh"}, readyIDs(t, g, Filters{}))
	assert.Equal(t, []string{"fresh", "working"}, readyIDs(t, g, Filters{Resume: true}))
}

func TestReadyEpicGate(t *testing.T) {
	g := buildGraph(t, &memStore{
		tasks: []artefact.Task{
			{ID: "a", Status: artefact.TaskNotStarted, Epic: "epic-b"},
		},
		epics: []artefact.Epic{
			{ID: "epic-a", Status: artefact.TaskInProgress},
			{ID: "epic-b", Status: artefact.TaskNotStarted, BlockedBy: []string{"epic-a"}},
		},
	})

	assert.Empty(t, readyIDs(t, g, Filters{}), "tasks in a gated epic are not ready")
}

func TestReadyTagFilterANDSemantics(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "a", Status: artefact.TaskNotStarted, Tags: []string{"backend", "urgent"}},
		{ID: "b", Status: artefact.TaskNotStarted, Tags: []string{"backend"}},
	}})

	assert.Equal(t, []string{"a"}, readyIDs(t, g, Filters{Tags: []string{"backend", "urgent"}}))
	assert.Equal(t, []string{"a", "b"}, readyIDs(t, g, Filters{Tags: []string{"backend"}}))
}

func TestReadyPRDAndEpicFilters(t *testing.T) {
	g := buildGraph(t, &memStore{
		tasks: []artefact.Task{
			{ID: "a", Status: artefact.TaskNotStarted, Epic: "epic-1"},
			{ID: "b", Status: artefact.TaskNotStarted, Epic: "epic-2"},
		},
		epics: []artefact.Epic{
			{ID: "epic-1", Status: artefact.TaskNotStarted, PRD: "prd-1"},
			{ID: "epic-2", Status: artefact.TaskNotStarted, PRD: "prd-2"},
		},
	})

	assert.Equal(t, []string{"a"}, readyIDs(t, g, Filters{Epic: "epic-1"}))
	assert.Equal(t, []string{"b"}, readyIDs(t, g, Filters{PRD: "prd-2"}))
}

func TestReadyDeterministicOrdering(t *testing.T) {
	// high unblocks two chained tasks (impact 2, critical path 2);
	// low unblocks one (impact 1); tie tasks have no dependents.
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "high", Status: artefact.TaskNotStarted},
		{ID: "low", Status: artefact.TaskNotStarted},
		{ID: "tie-b", Status: artefact.TaskNotStarted},
		{ID: "tie-a", Status: artefact.TaskNotStarted},
		{ID: "h1", Status: artefact.TaskNotStarted, BlockedBy: []string{"high"}},
		{ID: "h2", Status: artefact.TaskNotStarted, BlockedBy: []string{"h1"}},
		{ID: "l1", Status: artefact.TaskNotStarted, BlockedBy: []string{"low"}},
	}})

	ids := readyIDs(t, g, Filters{})
	assert.Equal(t, []string{"high", "low", "tie-a", "tie-b"}, ids)
}

func TestReadyLimit(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "a", Status: artefact.TaskNotStarted},
		{ID: "b", Status: artefact.TaskNotStarted},
		{ID: "c", Status: artefact.TaskNotStarted},
	}})

	assert.Len(t, readyIDs(t, g, Filters{Limit: 2}), 2)
}

func TestReadyAnnotations(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "a", Status: artefact.TaskNotStarted},
		{ID: "b", Status: artefact.TaskNotStarted, BlockedBy: []string{"a"}},
		{ID: "c", Status: artefact.TaskNotStarted, BlockedBy: []string{"b"}},
	}})

	ready, err := Ready(g, Filters{})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].Task.ID)
	assert.Equal(t, 2, ready[0].Impact)
	assert.Equal(t, 2, ready[0].CriticalPath)
}

// TestReadyRandomizedGraphs checks the readiness invariant across randomly
// generated acyclic graphs with random status assignments: no returned task
// may carry an unresolved task blocker or sit under a gated epic.
func TestReadyRandomizedGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []artefact.TaskStatus{
		artefact.TaskNotStarted, artefact.TaskInProgress, artefact.TaskBlocked,
		artefact.TaskDone, artefact.TaskCancelled,
	}

	for round := 0; round < 25; round++ {
		store := &memStore{}
		epicCount := 2 + rng.Intn(4)
		for i := 0; i < epicCount; i++ {
			epic := artefact.Epic{
				ID:     fmt.Sprintf("epic-%02d", i),
				Status: statuses[rng.Intn(len(statuses))],
			}
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					epic.BlockedBy = append(epic.BlockedBy, fmt.Sprintf("epic-%02d", j))
				}
			}
			store.epics = append(store.epics, epic)
		}
		taskCount := 20 + rng.Intn(30)
		for i := 0; i < taskCount; i++ {
			task := artefact.Task{
				ID:     fmt.Sprintf("task-%02d", i),
				Epic:   fmt.Sprintf("epic-%02d", rng.Intn(epicCount)),
				Status: statuses[rng.Intn(len(statuses))],
			}
			// Edges point from lower to higher ids, keeping the graph acyclic.
			for j := 0; j < i; j++ {
				if rng.Intn(6) == 0 {
					task.BlockedBy = append(task.BlockedBy, fmt.Sprintf("task-%02d", j))
				}
			}
			store.tasks = append(store.tasks, task)
		}

		g := buildGraph(t, store)
		ready, err := Ready(g, Filters{})
		require.NoError(t, err)

		for _, entry := range ready {
			assert.Equal(t, artefact.TaskNotStarted, entry.Task.Status,
				"round %d: %s admitted with status %s", round, entry.Task.ID, entry.Task.Status)
			for _, blocker := range entry.Task.BlockedBy {
				assert.True(t, g.Tasks[blocker].Status.Resolved(),
					"round %d: %s admitted with unresolved blocker %s", round, entry.Task.ID, blocker)
			}
			for _, blocker := range g.Epics[entry.Task.Epic].BlockedBy {
				assert.Equal(t, artefact.TaskDone, g.Epics[blocker].Status,
					"round %d: %s admitted under gated epic %s", round, entry.Task.ID, entry.Task.Epic)
			}
		}
	}
}

func TestBottlenecksRanking(t *testing.T) {
	// gate unblocks three parallel tasks; chain heads a two-deep chain.
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "gate", Status: artefact.TaskNotStarted},
		{ID: "g1", Status: artefact.TaskNotStarted, BlockedBy: []string{"gate"}},
		{ID: "g2", Status: artefact.TaskNotStarted, BlockedBy: []string{"gate"}},
		{ID: "g3", Status: artefact.TaskNotStarted, BlockedBy: []string{"gate"}},
		{ID: "chain", Status: artefact.TaskNotStarted},
		{ID: "c1", Status: artefact.TaskNotStarted, BlockedBy: []string{"chain"}},
		{ID: "c2", Status: artefact.TaskNotStarted, BlockedBy: []string{"c1"}},
	}})

	bottlenecks, err := Bottlenecks(g, Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, bottlenecks)
	// gate: 3 dependents * path 1 = 3; chain: 1 dependent * path 2 = 2.
	assert.Equal(t, "gate", bottlenecks[0].Task.ID)
	assert.Equal(t, 3, bottlenecks[0].Score)
}

func TestBottlenecksSkipsResolvedTasks(t *testing.T) {
	g := buildGraph(t, &memStore{tasks: []artefact.Task{
		{ID: "done", Status: artefact.TaskDone},
		{ID: "b", Status: artefact.TaskNotStarted, BlockedBy: []string{"done"}},
	}})

	bottlenecks, err := Bottlenecks(g, Filters{})
	require.NoError(t, err)
	assert.Empty(t, bottlenecks)
}
