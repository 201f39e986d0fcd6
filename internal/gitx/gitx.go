// Package gitx wraps the git porcelain commands the coordination core needs.
// Every helper shells out to git the same way; nothing in this package holds
// state beyond the repository root.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/crewel-dev/crewel/internal/fault"
)

// Runner executes git commands against one repository checkout.
type Runner struct {
	root string
}

// NewRunner constructs a Runner rooted at the repository root.
func NewRunner(repoRoot string) (*Runner, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute repo root %s: %w", repoRoot, err)
	}
	return &Runner{root: absRoot}, nil
}

// Root returns the repository root the runner operates on.
func (runner *Runner) Root() string {
	return runner.root
}

// Run executes git with the given arguments in the repository root.
func (runner *Runner) Run(args ...string) (string, error) {
	return runGit(context.Background(), runner.root, args...)
}

// RunIn executes git with the given arguments in an arbitrary directory,
// typically a task worktree.
func (runner *Runner) RunIn(dir string, args ...string) (string, error) {
	return runGit(context.Background(), dir, args...)
}

// HasCommits reports whether the repository has at least one commit.
func (runner *Runner) HasCommits() bool {
	_, err := runner.Run("rev-parse", "--verify", "HEAD")
	return err == nil
}

// StatusClean reports whether the working copy at dir has no uncommitted
// changes, ignoring crewel's own local state directory.
func (runner *Runner) StatusClean(dir string) (bool, error) {
	output, err := runGit(context.Background(), dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		path := line
		if len(line) > 3 {
			path = strings.TrimSpace(line[3:])
		}
		if strings.HasPrefix(path, ".crewel/") {
			continue
		}
		return false, nil
	}
	return true, nil
}

// Fetch updates remote refs, bounded by the supplied context. A repository
// with no configured remote is treated as already up to date.
func (runner *Runner) Fetch(ctx context.Context) error {
	if _, err := runner.Run("remote", "get-url", "origin"); err != nil {
		return nil
	}
	if _, err := runGit(ctx, runner.root, "fetch", "origin"); err != nil {
		return fault.ExternalTool(err, "fetch origin")
	}
	return nil
}

// RevListCount counts commits reachable from b but not from a (a..b).
func (runner *Runner) RevListCount(a string, b string) (int, error) {
	output, err := runner.Run("rev-list", "--count", a+".."+b)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", strings.TrimSpace(output), err)
	}
	return count, nil
}

// AheadBehind returns how many commits branch is ahead of and behind parent.
func (runner *Runner) AheadBehind(branch string, parent string) (ahead int, behind int, err error) {
	ahead, err = runner.RevListCount(parent, branch)
	if err != nil {
		return 0, 0, err
	}
	behind, err = runner.RevListCount(branch, parent)
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

// Checkout switches the main checkout to the named branch.
func (runner *Runner) Checkout(branch string) error {
	if strings.TrimSpace(branch) == "" {
		return errors.New("branch is required")
	}
	_, err := runner.Run("checkout", branch)
	return err
}

// Merge merges branch into the current branch with the given message.
// The raw git output is returned for conflict inspection on failure.
func (runner *Runner) Merge(branch string, message string) (string, error) {
	return runner.Run("merge", "--no-ff", "-m", message, branch)
}

// MergeSquash stages branch's changes without committing them.
func (runner *Runner) MergeSquash(branch string) (string, error) {
	return runner.Run("merge", "--squash", branch)
}

// MergeAbort abandons an in-progress merge and restores the pre-merge HEAD.
func (runner *Runner) MergeAbort() error {
	_, err := runner.Run("merge", "--abort")
	return err
}

// ResetHard discards all staged and unstaged changes in the main checkout.
func (runner *Runner) ResetHard() error {
	_, err := runner.Run("reset", "--hard", "HEAD")
	return err
}

// Commit creates a commit with the given message.
func (runner *Runner) Commit(message string) error {
	_, err := runner.Run("commit", "-m", message)
	return err
}

// Rebase replays the current branch onto the named branch.
func (runner *Runner) Rebase(onto string) (string, error) {
	return runner.Run("rebase", onto)
}

// RebaseAbort abandons an in-progress rebase.
func (runner *Runner) RebaseAbort() error {
	_, err := runner.Run("rebase", "--abort")
	return err
}

// WorktreeAdd creates a worktree at path on branch, creating the branch
// from base when it does not exist yet.
func (runner *Runner) WorktreeAdd(path string, branch string, base string) error {
	exists, err := runner.BranchExists(branch)
	if err != nil {
		return err
	}
	if exists {
		_, err = runner.Run("worktree", "add", path, branch)
		return err
	}
	if strings.TrimSpace(base) == "" {
		return fmt.Errorf("branch %q does not exist; base branch is required", branch)
	}
	_, err = runner.Run("worktree", "add", "-b", branch, path, base)
	return err
}

// WorktreeRemove removes the worktree at path.
func (runner *Runner) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := runner.Run(args...)
	return err
}

// WorktreePrune drops stale worktree metadata.
func (runner *Runner) WorktreePrune() error {
	_, err := runner.Run("worktree", "prune")
	return err
}

// DiffFiles lists the files changed between two revisions.
func (runner *Runner) DiffFiles(a string, b string) ([]string, error) {
	output, err := runner.Run("diff", "--name-only", a, b)
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// MergeBase returns the best common ancestor of two revisions.
func (runner *Runner) MergeBase(a string, b string) (string, error) {
	output, err := runner.Run("merge-base", a, b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// BranchExists reports whether a local branch exists.
func (runner *Runner) BranchExists(branch string) (bool, error) {
	if strings.TrimSpace(branch) == "" {
		return false, errors.New("branch is required")
	}
	_, err := runner.Run("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if isExitStatus(err, 1) {
		return false, nil
	}
	return false, err
}

// CreateBranch creates branch at base without checking it out.
func (runner *Runner) CreateBranch(branch string, base string) error {
	_, err := runner.Run("branch", branch, base)
	return err
}

// DeleteBranch deletes a local branch. Force bypasses the merged check.
func (runner *Runner) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := runner.Run("branch", flag, branch)
	return err
}

// DeleteRemoteBranch deletes the branch on origin, bounded by ctx.
func (runner *Runner) DeleteRemoteBranch(ctx context.Context, branch string) error {
	if _, err := runner.Run("remote", "get-url", "origin"); err != nil {
		return nil
	}
	if _, err := runGit(ctx, runner.root, "push", "origin", "--delete", branch); err != nil {
		return fault.ExternalTool(err, "delete remote branch %s", branch)
	}
	return nil
}

// LocalBranches lists all local branch names.
func (runner *Runner) LocalBranches() ([]string, error) {
	output, err := runner.Run("for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// UnmergedFiles lists files in an unresolved merge state at dir.
func (runner *Runner) UnmergedFiles(dir string) ([]string, error) {
	output, err := runGit(context.Background(), dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// CurrentBranch resolves the branch checked out at dir.
func (runner *Runner) CurrentBranch(dir string) (string, error) {
	output, err := runGit(context.Background(), dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// HeadCommit returns the HEAD commit SHA of the main checkout.
func (runner *Runner) HeadCommit() (string, error) {
	output, err := runner.Run("rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// IsConflict reports whether a git failure indicates a content conflict
// rather than an operational error.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "conflict") ||
		strings.Contains(message, "could not apply") ||
		strings.Contains(message, "automatic merge failed")
}

// runGit executes a git command in the provided directory.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("git directory is required")
	}
	if len(args) == 0 {
		return "", errors.New("git arguments are required")
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return stdout.String(), fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, detail)
	}
	return stdout.String(), nil
}

// splitLines splits command output into trimmed non-empty lines.
func splitLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// isExitStatus reports whether the error wraps an exec.ExitError with the
// given status.
func isExitStatus(err error, status int) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == status
}
