// Package repo resolves the primary repository root that holds the
// .crewel coordination state. Discovery is worktree-aware: crewel
// commands frequently run from inside a task worktree, and the state
// they operate on lives in the primary checkout.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// gitDirName is the filesystem entry that marks a git checkout.
const gitDirName = ".git"

// gitdirPrefix starts the pointer line in a linked worktree's .git file.
const gitdirPrefix = "gitdir:"

// ErrRepoNotFound is returned when no git repository root can be discovered.
var ErrRepoNotFound = errors.New("no git repository found")

// DiscoverRootFromCWD resolves the primary repository root from the current
// working directory.
func DiscoverRootFromCWD() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return DiscoverRoot(cwd)
}

// DiscoverRoot walks upward from start until it finds a git checkout, then
// resolves linked worktrees back to the primary checkout that owns them.
func DiscoverRoot(start string) (string, error) {
	if start == "" {
		return "", fmt.Errorf("%w: provide a start directory or run inside a repo", ErrRepoNotFound)
	}

	absStart, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %s: %w", start, err)
	}

	absStart, err = filepath.EvalSymlinks(absStart)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks for %s: %w", absStart, err)
	}

	info, err := os.Stat(absStart)
	if err != nil {
		return "", fmt.Errorf("stat start path %s: %w", absStart, err)
	}

	current := absStart
	if !info.IsDir() {
		current = filepath.Dir(absStart)
	}

	for {
		marker := filepath.Join(current, gitDirName)
		markerInfo, err := os.Stat(marker)
		if err == nil {
			if markerInfo.IsDir() {
				return current, nil
			}
			if markerInfo.Mode().IsRegular() {
				return resolvePrimaryRoot(current, marker)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", marker, err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("%w from %s; run inside a git repo or initialize one with `git init`", ErrRepoNotFound, absStart)
}

// resolvePrimaryRoot follows a linked worktree's .git pointer file back to
// the primary checkout. The pointer targets <primary>/.git/worktrees/<name>;
// anything else (a submodule checkout, say) keeps the checkout itself as
// the root.
func resolvePrimaryRoot(checkout string, gitFile string) (string, error) {
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return "", fmt.Errorf("read worktree pointer %s: %w", gitFile, err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, gitdirPrefix) {
		return checkout, nil
	}
	target := strings.TrimSpace(strings.TrimPrefix(line, gitdirPrefix))
	if target == "" {
		return checkout, nil
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(checkout, target)
	}
	target = filepath.Clean(target)

	// <primary>/.git/worktrees/<name> -> <primary>
	worktreesDir := filepath.Dir(target)
	gitDir := filepath.Dir(worktreesDir)
	if filepath.Base(worktreesDir) != "worktrees" || filepath.Base(gitDir) != gitDirName {
		return checkout, nil
	}
	primary := filepath.Dir(gitDir)
	if _, err := os.Stat(primary); err != nil {
		return "", fmt.Errorf("resolve primary checkout %s: %w", primary, err)
	}
	return primary, nil
}
