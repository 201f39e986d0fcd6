// Package workstream persists AgentWorkstream records keyed by task id.
package workstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewel-dev/crewel/internal/fault"
)

// Status labels the lifecycle stage of an agent workstream.
type Status string

const (
	// StatusSpawned indicates the worktree and branch were provisioned.
	StatusSpawned Status = "spawned"
	// StatusRunning indicates the agent process is active.
	StatusRunning Status = "running"
	// StatusCompleted indicates the agent finished and the branch awaits merge.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the agent exited without completing.
	StatusFailed Status = "failed"
	// StatusMerged indicates the branch was merged into its parent. Terminal.
	StatusMerged Status = "merged"
	// StatusRejected indicates the work was discarded. Terminal.
	StatusRejected Status = "rejected"
	// StatusKilled indicates the agent was terminated by an operator. Terminal.
	StatusKilled Status = "killed"
)

// Terminal reports whether the status permits no further transitions.
func (status Status) Terminal() bool {
	switch status {
	case StatusMerged, StatusRejected, StatusKilled:
		return true
	default:
		return false
	}
}

// Active reports whether the workstream's branch still participates in
// conflict analysis: running, or completed but not yet merged.
func (status Status) Active() bool {
	return status == StatusRunning || status == StatusCompleted
}

// allowedTransitions encodes the forward-only lifecycle. A terminal state
// is never re-opened; re-spawning creates a new record.
var allowedTransitions = map[Status][]Status{
	StatusSpawned:   {StatusRunning, StatusFailed, StatusKilled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusKilled},
	StatusCompleted: {StatusMerged, StatusRejected, StatusKilled},
	StatusFailed:    {StatusRejected, StatusKilled},
}

// CanTransition reports whether moving from one status to another is a
// legal forward step.
func CanTransition(from Status, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Record is the persisted state of one agent workstream.
type Record struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	Branch        string    `json:"branch"`
	WorktreePath  string    `json:"worktree_path"`
	ParentBranch  string    `json:"parent_branch"`
	Branching     string    `json:"branching_strategy"`
	Status        Status    `json:"status"`
	PR            string    `json:"pr,omitempty"`
	MergeStrategy string    `json:"merge_strategy,omitempty"`
	CommitCount   int       `json:"commit_count,omitempty"`
	Cleaned       bool      `json:"cleaned,omitempty"`
	SpawnedAt     time.Time `json:"spawned_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ArchivedAt    time.Time `json:"archived_at,omitzero"`

	// extra preserves unknown fields written by other tools. They round-trip
	// opaquely and are never interpreted.
	extra map[string]json.RawMessage
}

// knownRecordFields lists the JSON keys owned by this package.
var knownRecordFields = map[string]bool{
	"id": true, "task_id": true, "branch": true, "worktree_path": true,
	"parent_branch": true, "branching_strategy": true, "status": true,
	"pr": true, "merge_strategy": true, "commit_count": true,
	"cleaned": true, "spawned_at": true, "updated_at": true,
	"archived_at": true,
}

// recordAlias avoids recursion in the custom JSON round-trip.
type recordAlias Record

// UnmarshalJSON decodes known fields and retains unknown ones opaquely.
func (record *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if knownRecordFields[key] {
			delete(raw, key)
		}
	}
	*record = Record(alias)
	if len(raw) > 0 {
		record.extra = raw
	}
	return nil
}

// MarshalJSON re-emits known fields plus any preserved unknown fields.
func (record Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(recordAlias(record))
	if err != nil {
		return nil, err
	}
	if len(record.extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range record.extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// validate checks the fields required for any persisted record.
func (record Record) validate() error {
	if record.TaskID == "" {
		return fault.Validation("workstream task id is required")
	}
	if record.Branch == "" {
		return fault.Validation("workstream branch is required")
	}
	switch record.Status {
	case StatusSpawned, StatusRunning, StatusCompleted, StatusFailed,
		StatusMerged, StatusRejected, StatusKilled:
	default:
		return fault.Validation("unknown workstream status %q", record.Status)
	}
	return nil
}

// transitionError builds the error for an illegal lifecycle step.
func transitionError(taskID string, from Status, to Status) error {
	if from.Terminal() {
		return fault.Validation("workstream for task %s is %s and cannot be re-opened", taskID, from)
	}
	return fault.Validation("workstream for task %s cannot move %s -> %s", taskID, from, to)
}

// String renders a short identity for log lines.
func (record Record) String() string {
	return fmt.Sprintf("%s (%s, %s)", record.TaskID, record.Branch, record.Status)
}
