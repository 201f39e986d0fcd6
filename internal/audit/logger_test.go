package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	warnings := &bytes.Buffer{}
	logger, err := NewLogger(root, warnings)
	require.NoError(t, err)
	logger.now = func() time.Time {
		return time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	}
	return logger, filepath.Join(root, ".crewel", "state", "audit.log"), warnings
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestLogWritesLogfmtLine(t *testing.T) {
	logger, path, _ := newTestLogger(t)

	require.NoError(t, logger.LogMergeApply("task-001", "crewel/task-task-001", "main", "squash", 3))

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t,
		"ts=2026-08-29T10:30:00Z subject=task-001 event=merge.apply "+
			"branch=crewel/task-task-001 parent=main strategy=squash commits=3",
		lines[0])
}

func TestLogAppends(t *testing.T) {
	logger, path, _ := newTestLogger(t)

	require.NoError(t, logger.LogWorkstreamTransition("task-001", "spawned", "running"))
	require.NoError(t, logger.LogWorkstreamTransition("task-001", "running", "completed"))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "from=spawned to=running")
	assert.Contains(t, lines[1], "from=running to=completed")
}

func TestLogQuotesValuesWithSpaces(t *testing.T) {
	logger, path, _ := newTestLogger(t)

	require.NoError(t, logger.Log(Entry{
		Subject: "task-001",
		Event:   EventMergeAbort,
		Fields:  []Field{{Key: "reason", Value: `conflict in "shared" file`}},
	}))

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `reason="conflict in \"shared\" file"`)
}

func TestLogSanitizesNewlines(t *testing.T) {
	logger, path, _ := newTestLogger(t)

	require.NoError(t, logger.Log(Entry{
		Subject: "task-001",
		Event:   EventBranchPrune,
		Fields:  []Field{{Key: "detail", Value: "line one\nline two"}},
	}))

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `line one\nline two`)
}

func TestLogDropsEmptyFields(t *testing.T) {
	logger, path, _ := newTestLogger(t)

	require.NoError(t, logger.LogMergeAbort("task-001", "crewel/task-task-001", "main", nil))

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "conflicts=")
}

func TestLogRejectsIncompleteEntries(t *testing.T) {
	logger, path, warnings := newTestLogger(t)

	assert.Error(t, logger.Log(Entry{Event: EventMergeApply}))
	assert.Error(t, logger.Log(Entry{Subject: "task-001"}))
	assert.Error(t, logger.LogWorkstreamTransition("task-001", "", "running"))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, warnings.String(), "audit log entry rejected")
}

func TestNewLoggerRequiresRoot(t *testing.T) {
	_, err := NewLogger("", nil)
	assert.Error(t, err)
}
