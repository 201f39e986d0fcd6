package prprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProvider(output []byte, err error) *Provider {
	provider := New("/tmp/repo", time.Second)
	provider.lookPath = func(string) (string, error) { return "/usr/bin/gh", nil }
	provider.runCommand = func(context.Context, string, ...string) ([]byte, error) {
		return output, err
	}
	return provider
}

func TestLookupOpenPR(t *testing.T) {
	provider := fakeProvider([]byte(
		`[{"number": 42, "title": "Add scheduler", "url": "https://example.com/pr/42", "state": "OPEN"}]`), nil)

	info := provider.Lookup(context.Background(), "crewel/task-task-001")
	assert.Equal(t, PROpen, info.State)
	assert.Equal(t, int64(42), info.Number)
	assert.Equal(t, "Add scheduler", info.Title)
	assert.Equal(t, "https://example.com/pr/42", info.URL)
}

func TestLookupPassesBranchToGH(t *testing.T) {
	provider := New("/tmp/repo", time.Second)
	provider.lookPath = func(string) (string, error) { return "/usr/bin/gh", nil }
	var captured []string
	provider.runCommand = func(_ context.Context, dir string, args ...string) ([]byte, error) {
		assert.Equal(t, "/tmp/repo", dir)
		captured = args
		return []byte("[]"), nil
	}

	provider.Lookup(context.Background(), "crewel/task-task-001")
	require.Contains(t, captured, "--head")
	assert.Contains(t, captured, "crewel/task-task-001")
}

func TestLookupNoPR(t *testing.T) {
	provider := fakeProvider([]byte("[]"), nil)
	info := provider.Lookup(context.Background(), "crewel/task-task-001")
	assert.Equal(t, PRNone, info.State)
}

func TestLookupDegradesToUnknown(t *testing.T) {
	cases := []struct {
		name     string
		provider *Provider
	}{
		{"gh missing", func() *Provider {
			provider := fakeProvider([]byte("[]"), nil)
			provider.lookPath = func(string) (string, error) { return "", errors.New("not found") }
			return provider
		}()},
		{"gh fails", fakeProvider(nil, errors.New("exit status 4"))},
		{"malformed output", fakeProvider([]byte("not json"), nil)},
		{"object instead of array", fakeProvider([]byte(`{"number": 1}`), nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := tc.provider.Lookup(context.Background(), "crewel/task-task-001")
			assert.Equal(t, PRUnknown, info.State)
		})
	}
}

func TestParseListStates(t *testing.T) {
	cases := []struct {
		state string
		want  PRState
	}{
		{"OPEN", PROpen},
		{"MERGED", PRMerged},
		{"CLOSED", PRClosed},
		{"merged", PRMerged},
		{"DRAFT", PRUnknown},
	}
	for _, tc := range cases {
		info := parseList([]byte(`[{"number": 1, "state": "` + tc.state + `"}]`))
		assert.Equal(t, tc.want, info.State, "state %q", tc.state)
	}
}

func TestLookupAll(t *testing.T) {
	provider := fakeProvider([]byte(`[{"number": 7, "state": "MERGED"}]`), nil)

	results := provider.LookupAll(context.Background(), []string{"crewel/task-a", "crewel/task-b"})
	require.Len(t, results, 2)
	for _, info := range results {
		assert.Equal(t, PRMerged, info.State)
		assert.Equal(t, int64(7), info.Number)
	}
}
