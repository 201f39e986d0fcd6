package gitx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewel-dev/crewel/internal/testrepos"
)

func newRunner(t *testing.T) (*Runner, *testrepos.TempRepo) {
	t.Helper()
	repo := testrepos.New(t)
	runner, err := NewRunner(repo.Root)
	require.NoError(t, err)
	return runner, repo
}

func TestHasCommits(t *testing.T) {
	runner, _ := newRunner(t)
	assert.True(t, runner.HasCommits())

	empty := t.TempDir()
	emptyRunner, err := NewRunner(empty)
	require.NoError(t, err)
	assert.False(t, emptyRunner.HasCommits())
}

func TestStatusClean(t *testing.T) {
	runner, repo := newRunner(t)

	clean, err := runner.StatusClean(repo.Root)
	require.NoError(t, err)
	assert.True(t, clean)

	repo.WriteFile(t, "dirty.txt", "uncommitted\n")
	clean, err = runner.StatusClean(repo.Root)
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestStatusCleanIgnoresCrewelState(t *testing.T) {
	runner, repo := newRunner(t)

	repo.WriteFile(t, ".crewel/state/audit.log", "event=test\n")
	clean, err := runner.StatusClean(repo.Root)
	require.NoError(t, err)
	assert.True(t, clean, "crewel's own state files never count as dirt")
}

func TestAheadBehind(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "feature")
	repo.CommitOnBranch(t, "feature", "feature.txt", "work\n")
	repo.CommitOnBranch(t, "feature", "feature2.txt", "more work\n")
	repo.CommitOnBranch(t, "main", "trunk.txt", "trunk moved\n")

	ahead, behind, err := runner.AheadBehind("feature", "main")
	require.NoError(t, err)
	assert.Equal(t, 2, ahead)
	assert.Equal(t, 1, behind)
}

func TestBranchExists(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "feature")

	exists, err := runner.BranchExists("feature")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = runner.BranchExists("nonexistent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateAndDeleteBranch(t *testing.T) {
	runner, _ := newRunner(t)

	require.NoError(t, runner.CreateBranch("crewel/task-001", "main"))
	exists, err := runner.BranchExists("crewel/task-001")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, runner.DeleteBranch("crewel/task-001", false))
	exists, err = runner.BranchExists("crewel/task-001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalBranches(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "crewel/task-a")
	repo.CreateBranch(t, "crewel/task-b")

	branches, err := runner.LocalBranches()
	require.NoError(t, err)
	assert.Contains(t, branches, "main")
	assert.Contains(t, branches, "crewel/task-a")
	assert.Contains(t, branches, "crewel/task-b")
}

func TestMergeFastPath(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "feature")
	repo.CommitOnBranch(t, "feature", "feature.txt", "work\n")

	_, err := runner.Merge("feature", "merge feature")
	require.NoError(t, err)

	count, err := runner.RevListCount("main", "feature")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "feature is fully contained in main after merge")
}

func TestMergeConflictDetection(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "feature")
	repo.CommitOnBranch(t, "feature", "shared.txt", "feature version\n")
	repo.CommitOnBranch(t, "main", "shared.txt", "main version\n")

	_, err := runner.Merge("feature", "merge feature")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	files, err := runner.UnmergedFiles(repo.Root)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared.txt"}, files)

	require.NoError(t, runner.MergeAbort())
	clean, err := runner.StatusClean(repo.Root)
	require.NoError(t, err)
	assert.True(t, clean, "aborted merge leaves the tree clean")
}

func TestMergeSquashThenCommit(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "feature")
	repo.CommitOnBranch(t, "feature", "one.txt", "1\n")
	repo.CommitOnBranch(t, "feature", "two.txt", "2\n")

	_, err := runner.MergeSquash("feature")
	require.NoError(t, err)
	require.NoError(t, runner.Commit("squash feature"))

	// Squash produces exactly one new commit on main.
	count, err := runner.RevListCount("feature", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWorktreeAddAndRemove(t *testing.T) {
	runner, repo := newRunner(t)
	path := filepath.Join(repo.Root, ".crewel", "worktrees", "task-001")

	require.NoError(t, runner.WorktreeAdd(path, "crewel/task-001", "main"))
	branch, err := runner.CurrentBranch(path)
	require.NoError(t, err)
	assert.Equal(t, "crewel/task-001", branch)

	require.NoError(t, runner.WorktreeRemove(path, false))
}

func TestDiffFiles(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "feature")
	repo.CommitOnBranch(t, "feature", "a.txt", "a\n")
	repo.CommitOnBranch(t, "feature", "sub/b.txt", "b\n")

	files, err := runner.DiffFiles("main", "feature")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, files)
}

func TestMergeBase(t *testing.T) {
	runner, repo := newRunner(t)
	repo.CreateBranch(t, "feature")
	repo.CommitOnBranch(t, "feature", "f.txt", "f\n")
	repo.CommitOnBranch(t, "main", "m.txt", "m\n")

	base, err := runner.MergeBase("main", "feature")
	require.NoError(t, err)
	assert.NotEmpty(t, base)

	// The merge base is an ancestor of both tips.
	_, err = runner.Run("merge-base", "--is-ancestor", base, "main")
	assert.NoError(t, err)
	_, err = runner.Run("merge-base", "--is-ancestor", base, "feature")
	assert.NoError(t, err)
}

func TestFetchWithoutRemoteIsNoOp(t *testing.T) {
	runner, _ := newRunner(t)
	assert.NoError(t, runner.Fetch(context.Background()))
}

func TestIsConflict(t *testing.T) {
	assert.False(t, IsConflict(nil))
	assert.False(t, IsConflict(context.Canceled))
}
