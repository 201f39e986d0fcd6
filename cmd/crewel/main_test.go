package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crewel-dev/crewel/internal/fault"
)

func TestExitCodeSuccess(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
}

func TestExitCodeOperationalFailuresExitOne(t *testing.T) {
	assert.Equal(t, 1, exitCode(fault.Validation("unknown merge strategy %q", "octopus")))
	assert.Equal(t, 1, exitCode(fault.NotFound("task %s not found", "task-404")))
	assert.Equal(t, 1, exitCode(fault.Precondition("worktree has uncommitted changes")))
	assert.Equal(t, 1, exitCode(fault.MergeConflict("merge aborted", []string{"shared.txt"})))
	assert.Equal(t, 1, exitCode(errors.New("git exploded")))
	assert.Equal(t, 1, exitCode(fmt.Errorf("merging task-001: %w", fault.Validation("bad branch"))))
}

func TestExitCodeReservesTwoForUsage(t *testing.T) {
	assert.Equal(t, 2, exitCode(usageError{errors.New("unknown flag: --frobnicate")}))
	assert.Equal(t, 2, exitCode(fmt.Errorf("crewel merge: %w", usageError{errors.New("unknown shorthand flag")})))
}
