// Package artefact defines the task/epic/PRD data model and its file store.
package artefact

// TaskStatus labels the lifecycle state of a task.
type TaskStatus string

const (
	// TaskNotStarted indicates the task has not been picked up.
	TaskNotStarted TaskStatus = "not-started"
	// TaskInProgress indicates an agent is actively working the task.
	TaskInProgress TaskStatus = "in-progress"
	// TaskBlocked indicates the task cannot proceed without intervention.
	TaskBlocked TaskStatus = "blocked"
	// TaskDone indicates the task is complete.
	TaskDone TaskStatus = "done"
	// TaskCancelled indicates the task was abandoned intentionally.
	TaskCancelled TaskStatus = "cancelled"
	// TaskAborted indicates the task failed terminally.
	TaskAborted TaskStatus = "aborted"
)

// ValidTaskStatus reports whether the status string is a known task status.
func ValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskNotStarted, TaskInProgress, TaskBlocked, TaskDone, TaskCancelled, TaskAborted:
		return true
	default:
		return false
	}
}

// Resolved reports whether the status counts as a resolved blocker
// (the blocked task no longer has to wait on it).
func (status TaskStatus) Resolved() bool {
	return status == TaskDone || status == TaskCancelled
}

// Task is the atomic unit of work assigned to one agent.
type Task struct {
	ID        string     `yaml:"id"`
	Title     string     `yaml:"title,omitempty"`
	Status    TaskStatus `yaml:"status"`
	BlockedBy []string   `yaml:"blocked_by,omitempty"`
	Epic      string     `yaml:"epic,omitempty"`
	Tags      []string   `yaml:"tags,omitempty"`
}

// Epic groups tasks and participates in the dependency graph at its own level.
// BlockedBy may reference epic ids only; cross-type edges are rejected.
type Epic struct {
	ID        string     `yaml:"id"`
	Title     string     `yaml:"title,omitempty"`
	Status    TaskStatus `yaml:"status"`
	BlockedBy []string   `yaml:"blocked_by,omitempty"`
	PRD       string     `yaml:"prd,omitempty"`
}

// PRD is the top-level requirement grouping multiple epics.
type PRD struct {
	ID     string     `yaml:"id"`
	Title  string     `yaml:"title,omitempty"`
	Status TaskStatus `yaml:"status"`
}

// Store is the narrow artefact persistence surface the core depends on.
type Store interface {
	Task(id string) (Task, error)
	Epic(id string) (Epic, error)
	PRD(id string) (PRD, error)
	Tasks() ([]Task, error)
	Epics() ([]Epic, error)
	PRDs() ([]PRD, error)
	SetTaskStatus(id string, status TaskStatus) error
	SetTaskBlockers(id string, blockerIDs []string) error
	SetEpicBlockers(id string, blockerIDs []string) error
}
