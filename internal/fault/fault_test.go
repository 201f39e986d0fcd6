package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindNotFound:      "not-found",
		KindValidation:    "validation",
		KindPrecondition:  "precondition",
		KindMergeConflict: "merge-conflict",
		KindExternalTool:  "external-tool",
		Kind(99):          "unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestErrorRendering(t *testing.T) {
	err := NotFound("task %s does not exist", "task-404")
	assert.Equal(t, "not-found: task task-404 does not exist", err.Error())

	conflict := MergeConflict("merge of crewel/task-a conflicts", []string{"a.go", "b.go"})
	assert.Equal(t, "merge-conflict: merge of crewel/task-a conflicts (conflicts: a.go, b.go)", conflict.Error())

	wrapped := ExternalTool(errors.New("exit status 128"), "git merge %s", "crewel/task-a")
	assert.Equal(t, "external-tool: git merge crewel/task-a: exit status 128", wrapped.Error())
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := ExternalTool(cause, "git fetch")
	assert.ErrorIs(t, err, cause)
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := Precondition("worktree has uncommitted changes")
	wrapped := fmt.Errorf("merge task-001: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindPrecondition, kind)

	assert.True(t, IsKind(wrapped, KindPrecondition))
	assert.False(t, IsKind(wrapped, KindValidation))
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsKind(nil, KindNotFound))
}

func TestMergeConflictCarriesFiles(t *testing.T) {
	err := MergeConflict("conflict", []string{"shared.txt"})
	var f *Fault
	require.True(t, errors.As(error(err), &f))
	assert.Equal(t, []string{"shared.txt"}, f.ConflictFiles)
}
