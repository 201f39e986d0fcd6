// Package testrepos builds throwaway git repositories seeded with crewel
// artefact scaffolding for integration-style tests.
package testrepos

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TempRepo represents a temporary git repository that can be reused in tests.
type TempRepo struct {
	Root string
}

// New creates a temporary git repository with an initial commit and the
// .crewel artefact directories that tests can run against.
func New(tb testing.TB) *TempRepo {
	tb.Helper()
	root, err := os.MkdirTemp("", "crewel-test-repo-*")
	if err != nil {
		tb.Fatalf("create temp repo directory: %v", err)
	}

	repo := &TempRepo{Root: root}
	tb.Cleanup(func() {
		if cleanupErr := repo.Cleanup(); cleanupErr != nil {
			tb.Fatalf("cleanup temp repo: %v", cleanupErr)
		}
	})

	repo.initialize(tb)
	return repo
}

// RunGit executes git in the repository directory and fails the test if git
// returns an error.
func (r *TempRepo) RunGit(tb testing.TB, args ...string) string {
	tb.Helper()
	output, err := runGit(r.Root, args...)
	if err != nil {
		tb.Fatalf("git %s failed: %v: %s", strings.Join(args, " "), err, output)
	}
	return output
}

// WriteFile writes a file relative to the repository root, creating parent
// directories as needed.
func (r *TempRepo) WriteFile(tb testing.TB, relPath string, content string) {
	tb.Helper()
	path := filepath.Join(r.Root, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create directory for %s: %v", relPath, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", relPath, err)
	}
}

// CommitAll stages everything and commits it with the given message.
func (r *TempRepo) CommitAll(tb testing.TB, message string) {
	tb.Helper()
	r.RunGit(tb, "add", "-A")
	r.RunGit(tb, "commit", "-m", message)
}

// CreateBranch creates a branch at the current HEAD without switching to it.
func (r *TempRepo) CreateBranch(tb testing.TB, name string) {
	tb.Helper()
	r.RunGit(tb, "branch", name)
}

// CommitOnBranch checks the branch out, writes a file, and commits it,
// returning to the previous branch afterwards.
func (r *TempRepo) CommitOnBranch(tb testing.TB, branch string, relPath string, content string) {
	tb.Helper()
	previous := strings.TrimSpace(r.RunGit(tb, "rev-parse", "--abbrev-ref", "HEAD"))
	r.RunGit(tb, "checkout", branch)
	r.WriteFile(tb, relPath, content)
	r.CommitAll(tb, fmt.Sprintf("commit %s on %s", relPath, branch))
	r.RunGit(tb, "checkout", previous)
}

// Cleanup removes the temporary repository root. Missing directories are
// treated as success.
func (r *TempRepo) Cleanup() error {
	if r == nil || r.Root == "" {
		return nil
	}
	if err := os.RemoveAll(r.Root); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp repo %s: %w", r.Root, err)
	}
	return nil
}

func (r *TempRepo) initialize(tb testing.TB) {
	tb.Helper()
	r.RunGit(tb, "init", "--initial-branch=main")
	r.RunGit(tb, "config", "user.name", "Crewel Test")
	r.RunGit(tb, "config", "user.email", "test@example.com")

	readme := filepath.Join(r.Root, "README.md")
	if err := os.WriteFile(readme, []byte("# Temp Crewel Repository\n"), 0o644); err != nil {
		tb.Fatalf("write README: %v", err)
	}

	// Transient crewel state never belongs in commits.
	ignore := filepath.Join(r.Root, ".gitignore")
	if err := os.WriteFile(ignore, []byte(".crewel/\n"), 0o644); err != nil {
		tb.Fatalf("write .gitignore: %v", err)
	}

	for _, dir := range []string{"tasks", "epics", "prds", "state"} {
		if err := os.MkdirAll(filepath.Join(r.Root, ".crewel", dir), 0o755); err != nil {
			tb.Fatalf("create .crewel/%s: %v", dir, err)
		}
	}

	r.RunGit(tb, "add", "README.md", ".gitignore")
	r.RunGit(tb, "commit", "-m", "Initial commit")
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(output), nil
}
