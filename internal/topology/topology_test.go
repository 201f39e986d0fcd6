package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewel-dev/crewel/internal/artefact"
	"github.com/crewel-dev/crewel/internal/config"
	"github.com/crewel-dev/crewel/internal/fault"
	"github.com/crewel-dev/crewel/internal/gitx"
	"github.com/crewel-dev/crewel/internal/testrepos"
)

// seededStore writes a task/epic/prd family used across topology tests:
// task-001 belongs to epic-001, which belongs to prd-001.
func seededStore(t *testing.T, root string) *artefact.FileStore {
	t.Helper()
	store, err := artefact.NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, store.Init())
	require.NoError(t, store.WritePRD(artefact.PRD{ID: "prd-001"}))
	require.NoError(t, store.WriteEpic(artefact.Epic{ID: "epic-001", PRD: "prd-001"}))
	require.NoError(t, store.WriteTask(artefact.Task{ID: "task-001", Epic: "epic-001"}))
	require.NoError(t, store.WriteTask(artefact.Task{ID: "task-orphan"}))
	return store
}

func newTopology(t *testing.T, strategy string) (*Topology, *testrepos.TempRepo) {
	t.Helper()
	repo := testrepos.New(t)
	store := seededStore(t, repo.Root)
	git, err := gitx.NewRunner(repo.Root)
	require.NoError(t, err)
	cfg := config.ApplyDefaults(config.Config{}, nil)
	cfg.Branches.Strategy = strategy
	topo, err := New(git, store, cfg)
	require.NoError(t, err)
	return topo, repo
}

func TestBranchNames(t *testing.T) {
	topo, _ := newTopology(t, "flat")

	assert.Equal(t, "crewel/task-task-001", topo.TaskBranch("task-001"))
	assert.Equal(t, "crewel/epic-epic-001", topo.EpicBranch("epic-001"))
	assert.Equal(t, "crewel/prd-prd-001", topo.PRDBranch("prd-001"))
}

func TestParseBranch(t *testing.T) {
	topo, _ := newTopology(t, "flat")

	cases := []struct {
		branch string
		level  Level
		id     string
		ok     bool
	}{
		{"crewel/task-task-001", LevelTask, "task-001", true},
		{"crewel/epic-epic-001", LevelEpic, "epic-001", true},
		{"crewel/prd-prd-001", LevelPRD, "prd-001", true},
		{"feature/unrelated", "", "", false},
		{"crewel/release-1", "", "", false},
		{"crewel/task-", "", "", false},
		{"main", "", "", false},
	}
	for _, tc := range cases {
		level, id, ok := topo.ParseBranch(tc.branch)
		assert.Equal(t, tc.ok, ok, tc.branch)
		assert.Equal(t, tc.level, level, tc.branch)
		assert.Equal(t, tc.id, id, tc.branch)
	}
}

func TestParentOfTaskFlat(t *testing.T) {
	topo, _ := newTopology(t, "flat")

	parent, err := topo.ParentOfTask("task-001")
	require.NoError(t, err)
	assert.Equal(t, "main", parent)
}

func TestParentOfTaskPerPRD(t *testing.T) {
	topo, _ := newTopology(t, "per-prd")

	parent, err := topo.ParentOfTask("task-001")
	require.NoError(t, err)
	assert.Equal(t, "crewel/prd-prd-001", parent)

	// A task with no owning epic cannot be placed under a PRD branch.
	_, err = topo.ParentOfTask("task-orphan")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestParentOfTaskPerEpic(t *testing.T) {
	topo, _ := newTopology(t, "per-epic")

	parent, err := topo.ParentOfTask("task-001")
	require.NoError(t, err)
	assert.Equal(t, "crewel/epic-epic-001", parent)

	// Epicless tasks fall back to main.
	parent, err = topo.ParentOfTask("task-orphan")
	require.NoError(t, err)
	assert.Equal(t, "main", parent)
}

func TestParentOfEpicRequiresPerEpicStrategy(t *testing.T) {
	topo, _ := newTopology(t, "flat")

	_, err := topo.ParentOfEpic("epic-001")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestParentOfEpicAndPRD(t *testing.T) {
	topo, _ := newTopology(t, "per-epic")

	parent, err := topo.ParentOfEpic("epic-001")
	require.NoError(t, err)
	assert.Equal(t, "crewel/prd-prd-001", parent)

	parent, err = topo.ParentOfPRD("prd-001")
	require.NoError(t, err)
	assert.Equal(t, "main", parent)
}

func TestChainPerStrategy(t *testing.T) {
	tests := []struct {
		strategy string
		want     []string
	}{
		{"flat", []string{"crewel/task-task-001", "main"}},
		{"per-prd", []string{"crewel/task-task-001", "crewel/prd-prd-001", "main"}},
		{"per-epic", []string{"crewel/task-task-001", "crewel/epic-epic-001", "crewel/prd-prd-001", "main"}},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			topo, _ := newTopology(t, tt.strategy)
			chain, err := topo.Chain("task-001")
			require.NoError(t, err)
			assert.Equal(t, tt.want, chain)
		})
	}
}

func TestEnsureHierarchyCreatesAncestors(t *testing.T) {
	topo, repo := newTopology(t, "per-epic")

	require.NoError(t, topo.EnsureHierarchy("task-001"))

	git, err := gitx.NewRunner(repo.Root)
	require.NoError(t, err)
	for _, branch := range []string{"crewel/prd-prd-001", "crewel/epic-epic-001"} {
		exists, err := git.BranchExists(branch)
		require.NoError(t, err)
		assert.True(t, exists, "expected %s to exist", branch)
	}

	// The task branch itself is the worktree manager's job.
	exists, err := git.BranchExists("crewel/task-task-001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEnsureHierarchyIdempotent(t *testing.T) {
	topo, repo := newTopology(t, "per-epic")

	require.NoError(t, topo.EnsureHierarchy("task-001"))

	// Diverge the epic branch, then re-run: existing branches are untouched.
	repo.CommitOnBranch(t, "crewel/epic-epic-001", "epic.txt", "epic work\n")
	git, err := gitx.NewRunner(repo.Root)
	require.NoError(t, err)
	before, err := git.RunIn(repo.Root, "rev-parse", "crewel/epic-epic-001")
	require.NoError(t, err)

	require.NoError(t, topo.EnsureHierarchy("task-001"))
	after, err := git.RunIn(repo.Root, "rev-parse", "crewel/epic-epic-001")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("epic")
	require.NoError(t, err)
	assert.Equal(t, LevelEpic, level)

	_, err = ParseLevel("galaxy")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}
