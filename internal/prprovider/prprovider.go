// Package prprovider reads pull request state for managed branches via the
// gh CLI. Every call is bounded by a timeout and degrades to an unknown
// state when gh is missing, unauthenticated, or slow; PR state is advisory
// and never blocks a merge.
package prprovider

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// PRState is the lifecycle state of a branch's pull request.
type PRState string

const (
	// PROpen means an open pull request exists for the branch.
	PROpen PRState = "open"
	// PRMerged means the branch's pull request was merged.
	PRMerged PRState = "merged"
	// PRClosed means the pull request was closed without merging.
	PRClosed PRState = "closed"
	// PRNone means no pull request exists for the branch.
	PRNone PRState = "none"
	// PRUnknown means the provider could not determine the state.
	PRUnknown PRState = "unknown"
)

// Info describes one branch's pull request.
type Info struct {
	State  PRState
	Number int64
	Title  string
	URL    string
}

// Provider queries pull request state through the gh CLI.
type Provider struct {
	repoRoot string
	timeout  time.Duration
	// runCommand and lookPath are swapped in tests to avoid invoking gh.
	runCommand func(ctx context.Context, dir string, args ...string) ([]byte, error)
	lookPath   func(file string) (string, error)
}

// New builds a provider rooted at the repository with the given per-call
// timeout.
func New(repoRoot string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{repoRoot: repoRoot, timeout: timeout, runCommand: runGH, lookPath: exec.LookPath}
}

// Available reports whether the gh CLI is installed.
func (provider *Provider) Available() bool {
	_, err := provider.lookPath("gh")
	return err == nil
}

// Lookup returns the pull request state for one branch. Any provider
// failure degrades to PRUnknown rather than returning an error.
func (provider *Provider) Lookup(ctx context.Context, branch string) Info {
	if !provider.Available() {
		return Info{State: PRUnknown}
	}
	ctx, cancel := context.WithTimeout(ctx, provider.timeout)
	defer cancel()

	output, err := provider.runCommand(ctx, provider.repoRoot,
		"pr", "list",
		"--head", branch,
		"--state", "all",
		"--limit", "1",
		"--json", "number,title,url,state")
	if err != nil {
		return Info{State: PRUnknown}
	}
	return parseList(output)
}

// LookupAll resolves PR state for several branches, reusing one context
// budget per branch.
func (provider *Provider) LookupAll(ctx context.Context, branches []string) map[string]Info {
	results := make(map[string]Info, len(branches))
	for _, branch := range branches {
		results[branch] = provider.Lookup(ctx, branch)
	}
	return results
}

// parseList interprets gh's JSON output for a single-entry PR list.
func parseList(output []byte) Info {
	parsed := gjson.ParseBytes(output)
	if !parsed.IsArray() {
		return Info{State: PRUnknown}
	}
	entries := parsed.Array()
	if len(entries) == 0 {
		return Info{State: PRNone}
	}
	entry := entries[0]
	info := Info{
		Number: entry.Get("number").Int(),
		Title:  entry.Get("title").String(),
		URL:    entry.Get("url").String(),
	}
	switch strings.ToUpper(entry.Get("state").String()) {
	case "OPEN":
		info.State = PROpen
	case "MERGED":
		info.State = PRMerged
	case "CLOSED":
		info.State = PRClosed
	default:
		info.State = PRUnknown
	}
	return info
}

// runGH executes a gh subcommand in the repository directory.
func runGH(ctx context.Context, dir string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, "gh", args...)
	command.Dir = dir
	return command.Output()
}
