package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewel-dev/crewel/internal/artefact"
)

// memStore is a minimal in-memory artefact store for graph construction.
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

func (store *memStore) SetTaskStatus(id string, status artefact.TaskStatus) error {
	return errors.New("not supported")
}
func (store *memStore) SetTaskBlockers(id string, blockerIDs []string) error {
	return errors.New("not supported")
}
func (store *memStore) SetEpicBlockers(id string, blockerIDs []string) error {
	return errors.New("not supported")
}

func task(id string, blockedBy ...string) artefact.Task {
	return artefact.Task{ID: id, Status: artefact.TaskNotStarted, BlockedBy: blockedBy}
}

func buildGraph(t *testing.T, tasks ...artefact.Task) *Graph {
	t.Helper()
	g, err := Build(&memStore{tasks: tasks})
	require.NoError(t, err)
	return g
}

func TestBuildReverseAdjacency(t *testing.T) {
	g := buildGraph(t,
		task("a"),
		task("b", "a"),
		task("c", "a", "b"),
	)

	assert.Equal(t, []string{"b", "c"}, g.TaskBlocks["a"])
	assert.Equal(t, []string{"c"}, g.TaskBlocks["b"])
	assert.Empty(t, g.TaskBlocks["c"])
}

func TestBuildIgnoresUnknownBlockers(t *testing.T) {
	g := buildGraph(t, task("a", "ghost"))

	assert.Empty(t, g.TaskBlocks["ghost"])
}

func TestLongestPathLinearChain(t *testing.T) {
	g := buildGraph(t,
		task("a"),
		task("b", "a"),
		task("c", "b"),
		task("d", "c"),
	)

	result, err := g.LongestPath("a")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Length)
	assert.Equal(t, []string{"a", "b", "c", "d"}, result.Path)
}

func TestLongestPathNoDependents(t *testing.T) {
	g := buildGraph(t, task("a"))

	result, err := g.LongestPath("a")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Length)
	assert.Equal(t, []string{"a"}, result.Path)
}

func TestLongestPathPicksDeepestBranch(t *testing.T) {
	// a unblocks b (dead end) and c -> d -> e.
	g := buildGraph(t,
		task("a"),
		task("b", "a"),
		task("c", "a"),
		task("d", "c"),
		task("e", "d"),
	)

	result, err := g.LongestPath("a")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Length)
	assert.Equal(t, []string{"a", "c", "d", "e"}, result.Path)
}

func TestLongestPathUnknownTask(t *testing.T) {
	g := buildGraph(t, task("a"))

	_, err := g.LongestPath("missing")
	assert.Error(t, err)
}

func TestLongestPathCycleFails(t *testing.T) {
	g := buildGraph(t,
		task("a", "b"),
		task("b", "a"),
	)

	_, err := g.LongestPath("a")
	require.Error(t, err)
	var cycleErr *CycleError
	assert.True(t, errors.As(err, &cycleErr))
}

func TestCountTotalUnblockedDiamond(t *testing.T) {
	// a unblocks b and c, both of which unblock d. d must count once.
	g := buildGraph(t,
		task("a"),
		task("b", "a"),
		task("c", "a"),
		task("d", "b", "c"),
	)

	assert.Equal(t, 3, g.CountTotalUnblocked("a"))
}

func TestImpactPartitionsDependents(t *testing.T) {
	// b depends only on a; c depends on a and the unresolved z.
	g := buildGraph(t,
		task("a"),
		task("z"),
		task("b", "a"),
		task("c", "a", "z"),
	)

	report, err := g.Impact("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, report.DirectlyUnblocked)
	require.Len(t, report.StillBlocked, 1)
	assert.Equal(t, "c", report.StillBlocked[0].ID)
	assert.Equal(t, []string{"z"}, report.StillBlocked[0].RemainingBlockers)
	assert.Equal(t, 2, report.TotalUnblocked)
}

func TestImpactResolvedBlockersDoNotHoldBack(t *testing.T) {
	done := task("z")
	done.Status = artefact.TaskDone
	g := buildGraph(t,
		task("a"),
		done,
		task("b", "a", "z"),
	)

	report, err := g.Impact("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, report.DirectlyUnblocked)
	assert.Empty(t, report.StillBlocked)
}

func TestBottleneckScore(t *testing.T) {
	// a directly unblocks b and c; longest chain a -> c -> d has length 2.
	g := buildGraph(t,
		task("a"),
		task("b", "a"),
		task("c", "a"),
		task("d", "c"),
	)

	score, err := g.BottleneckScore("a")
	require.NoError(t, err)
	assert.Equal(t, 4, score)

	leaf, err := g.BottleneckScore("d")
	require.NoError(t, err)
	assert.Equal(t, 0, leaf)
}

func TestUnblocked(t *testing.T) {
	resolved := task("done")
	resolved.Status = artefact.TaskDone

	g, err := Build(&memStore{
		tasks: []artefact.Task{
			resolved,
			task("open"),
			{ID: "ready", Status: artefact.TaskNotStarted, BlockedBy: []string{"done"}},
			{ID: "waiting", Status: artefact.TaskNotStarted, BlockedBy: []string{"open"}},
			{ID: "gated", Status: artefact.TaskNotStarted, Epic: "epic-b"},
		},
		epics: []artefact.Epic{
			{ID: "epic-a", Status: artefact.TaskNotStarted},
			{ID: "epic-b", Status: artefact.TaskNotStarted, BlockedBy: []string{"epic-a"}},
		},
	})
	require.NoError(t, err)

	assert.True(t, g.Unblocked("ready"))
	assert.False(t, g.Unblocked("waiting"))
	assert.False(t, g.Unblocked("gated"), "task in an epic blocked by an unfinished epic is gated")
	assert.False(t, g.Unblocked("missing"))
}

func TestEpicBlockersResolved(t *testing.T) {
	doneEpic := artefact.Epic{ID: "epic-a", Status: artefact.TaskDone}
	g, err := Build(&memStore{
		epics: []artefact.Epic{
			doneEpic,
			{ID: "epic-b", Status: artefact.TaskNotStarted, BlockedBy: []string{"epic-a"}},
			{ID: "epic-c", Status: artefact.TaskNotStarted, BlockedBy: []string{"epic-b"}},
		},
	})
	require.NoError(t, err)

	assert.True(t, g.EpicBlockersResolved("epic-b"), "blocking epic is done")
	assert.False(t, g.EpicBlockersResolved("epic-c"), "blocking epic is not done")
	assert.True(t, g.EpicBlockersResolved("unknown"))
}
