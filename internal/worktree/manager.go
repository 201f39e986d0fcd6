// Package worktree manages task-scoped git worktrees for agent isolation.
package worktree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crewel-dev/crewel/internal/gitx"
)

const (
	// worktreeDirMode defines permissions for the worktree base directory.
	worktreeDirMode = 0o755
	// taskDirPrefix prefixes per-task worktree directories.
	taskDirPrefix = "task-"
)

// Manager coordinates creation and reuse of task worktrees.
type Manager struct {
	git     *gitx.Runner
	baseDir string
}

// Spec defines the inputs needed to locate or create a task worktree.
type Spec struct {
	TaskID     string
	Branch     string
	BaseBranch string
}

// Result captures the resolved worktree location and whether it was reused.
type Result struct {
	Path   string
	Reused bool
}

// NewManager constructs a Manager using the configured worktree directory,
// resolved relative to the repository root when not absolute.
func NewManager(git *gitx.Runner, dir string) (*Manager, error) {
	if git == nil {
		return nil, errors.New("git runner is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("worktree directory is required")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(git.Root(), dir)
	}
	return &Manager{git: git, baseDir: dir}, nil
}

// Path returns the deterministic worktree path for a task.
func (manager *Manager) Path(taskID string) (string, error) {
	if err := validateTaskID(taskID); err != nil {
		return "", err
	}
	return filepath.Join(manager.baseDir, taskDirPrefix+taskID), nil
}

// Ensure returns a task worktree path, creating branch and worktree when
// needed. An existing worktree is validated to be on the expected branch.
func (manager *Manager) Ensure(spec Spec) (Result, error) {
	if err := validateTaskID(spec.TaskID); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(spec.Branch) == "" {
		return Result{}, errors.New("branch is required")
	}

	if err := os.MkdirAll(manager.baseDir, worktreeDirMode); err != nil {
		return Result{}, fmt.Errorf("create worktree directory %s: %w", manager.baseDir, err)
	}

	target, err := manager.Path(spec.TaskID)
	if err != nil {
		return Result{}, err
	}

	if _, err := os.Stat(target); err == nil {
		if err := manager.verifyWorktree(target, spec.Branch); err != nil {
			return Result{}, err
		}
		return Result{Path: target, Reused: true}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("stat worktree path %s: %w", target, err)
	}

	if err := manager.git.WorktreeAdd(target, spec.Branch, spec.BaseBranch); err != nil {
		return Result{}, err
	}
	return Result{Path: target, Reused: false}, nil
}

// Exists reports whether the task's worktree is present on disk.
func (manager *Manager) Exists(taskID string) (bool, error) {
	path, err := manager.Path(taskID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat worktree path %s: %w", path, err)
}

// Remove deletes the task's worktree and prunes stale metadata.
func (manager *Manager) Remove(taskID string, force bool) error {
	path, err := manager.Path(taskID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := manager.git.WorktreeRemove(path, force); err != nil {
		return err
	}
	return manager.git.WorktreePrune()
}

// verifyWorktree validates the path is a git worktree on the expected branch.
func (manager *Manager) verifyWorktree(path string, branch string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat worktree path %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("worktree path %s is not a directory", path)
	}
	current, err := manager.git.CurrentBranch(path)
	if err != nil {
		return fmt.Errorf("resolve worktree branch %s: %w", path, err)
	}
	if current != branch {
		return fmt.Errorf("worktree at %s is on branch %q, expected %q", path, current, branch)
	}
	return nil
}

// validateTaskID ensures the task id is safe for filesystem use.
func validateTaskID(taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return errors.New("task id is required")
	}
	if strings.Contains(taskID, "/") || strings.Contains(taskID, "\\") {
		return fmt.Errorf("task id %q must not contain path separators", taskID)
	}
	if strings.Contains(taskID, "..") {
		return fmt.Errorf("task id %q must not contain '..'", taskID)
	}
	return nil
}
