// Package audit provides append-only audit logging for mutating crewel
// operations.
package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// stateDirName is the relative path for transient crewel state.
	stateDirName = ".crewel/state"
	// auditLogFileName is the filename used for audit logging.
	auditLogFileName = "audit.log"
	// auditLogFileMode defines the permissions for the audit log file.
	auditLogFileMode = 0o644
	// auditLogDirMode defines the permissions for the audit log directory.
	auditLogDirMode = 0o755
)

const (
	// EventMergeApply records a branch merge into its parent.
	EventMergeApply = "merge.apply"
	// EventMergeAbort records an automatic abort after a merge conflict.
	EventMergeAbort = "merge.abort"
	// EventPromote records a hierarchy-level promotion.
	EventPromote = "promote.apply"
	// EventBranchPrune records orphan branch deletion.
	EventBranchPrune = "branch.prune"
	// EventHierarchySync records a parent merged down into a child branch.
	EventHierarchySync = "hierarchy.sync"
	// EventWorktreeRemove records worktree removal after a merge.
	EventWorktreeRemove = "worktree.remove"
	// EventWorkstreamTransition records workstream lifecycle transitions.
	EventWorkstreamTransition = "workstream.transition"
)

// Logger appends audit entries to a log file.
type Logger struct {
	path     string
	warnings io.Writer
	now      func() time.Time
	mu       sync.Mutex
}

// Field represents a logfmt key/value pair.
type Field struct {
	Key   string
	Value string
}

// Entry captures the required audit log fields and any optional fields.
type Entry struct {
	// Subject identifies what the event acted on: a task id, branch name,
	// or hierarchy id.
	Subject string
	Event   string
	Fields  []Field
}

// NewLogger builds an audit logger rooted at the provided repo.
func NewLogger(repoRoot string, warnings io.Writer) (*Logger, error) {
	if repoRoot == "" {
		return nil, errors.New("repo root is required")
	}
	if warnings == nil {
		warnings = os.Stderr
	}
	return &Logger{
		path:     filepath.Join(repoRoot, stateDirName, auditLogFileName),
		warnings: warnings,
		now:      time.Now,
	}, nil
}

// Log writes a generic audit entry to the log file.
func (logger *Logger) Log(entry Entry) error {
	if logger == nil {
		return errors.New("audit logger is nil")
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()

	line, err := logger.formatEntry(entry)
	if err != nil {
		logger.warnf("audit log entry rejected: %v", err)
		return err
	}
	if err := logger.appendLine(line); err != nil {
		logger.warnf("audit log write failed for %s: %v", logger.path, err)
		return err
	}
	return nil
}

// LogMergeApply records a successful merge of branch into parent.
func (logger *Logger) LogMergeApply(taskID string, branch string, parent string, strategy string, commits int) error {
	return logger.Log(Entry{
		Subject: taskID,
		Event:   EventMergeApply,
		Fields: []Field{
			{Key: "branch", Value: branch},
			{Key: "parent", Value: parent},
			{Key: "strategy", Value: strategy},
			{Key: "commits", Value: strconv.Itoa(commits)},
		},
	})
}

// LogMergeAbort records a conflict-triggered abort with the conflicting files.
func (logger *Logger) LogMergeAbort(taskID string, branch string, parent string, conflicts []string) error {
	return logger.Log(Entry{
		Subject: taskID,
		Event:   EventMergeAbort,
		Fields: []Field{
			{Key: "branch", Value: branch},
			{Key: "parent", Value: parent},
			{Key: "conflicts", Value: strings.Join(conflicts, ",")},
		},
	})
}

// LogPromote records a hierarchy-level promotion.
func (logger *Logger) LogPromote(id string, level string, branch string, parent string, strategy string) error {
	return logger.Log(Entry{
		Subject: id,
		Event:   EventPromote,
		Fields: []Field{
			{Key: "level", Value: level},
			{Key: "branch", Value: branch},
			{Key: "parent", Value: parent},
			{Key: "strategy", Value: strategy},
		},
	})
}

// LogBranchPrune records deletion of an orphaned branch.
func (logger *Logger) LogBranchPrune(branch string, forced bool) error {
	return logger.Log(Entry{
		Subject: branch,
		Event:   EventBranchPrune,
		Fields: []Field{
			{Key: "forced", Value: strconv.FormatBool(forced)},
		},
	})
}

// LogHierarchySync records a parent branch merged down into a child.
func (logger *Logger) LogHierarchySync(child string, parent string, strategy string) error {
	return logger.Log(Entry{
		Subject: child,
		Event:   EventHierarchySync,
		Fields: []Field{
			{Key: "parent", Value: parent},
			{Key: "strategy", Value: strategy},
		},
	})
}

// LogWorktreeRemove records worktree removal.
func (logger *Logger) LogWorktreeRemove(taskID string, path string) error {
	return logger.Log(Entry{
		Subject: taskID,
		Event:   EventWorktreeRemove,
		Fields: []Field{
			{Key: "path", Value: path},
		},
	})
}

// LogWorkstreamTransition records a workstream lifecycle transition.
func (logger *Logger) LogWorkstreamTransition(taskID string, from string, to string) error {
	if from == "" || to == "" {
		return fmt.Errorf("workstream transition requires from and to states")
	}
	return logger.Log(Entry{
		Subject: taskID,
		Event:   EventWorkstreamTransition,
		Fields: []Field{
			{Key: "from", Value: from},
			{Key: "to", Value: to},
		},
	})
}

// formatEntry renders an audit entry in logfmt-style order.
func (logger *Logger) formatEntry(entry Entry) (string, error) {
	if entry.Subject == "" {
		return "", errors.New("subject is required")
	}
	if entry.Event == "" {
		return "", errors.New("event is required")
	}
	now := logger.now
	if now == nil {
		now = time.Now
	}

	ts := now().UTC().Format(time.RFC3339)
	fields := []string{
		formatField("ts", ts),
		formatField("subject", entry.Subject),
		formatField("event", entry.Event),
	}

	for _, field := range entry.Fields {
		if field.Value == "" {
			continue
		}
		if field.Key == "" {
			return "", errors.New("field key is required")
		}
		fields = append(fields, formatField(field.Key, field.Value))
	}
	return strings.Join(fields, " "), nil
}

// formatField encodes a logfmt key/value pair.
func formatField(key string, value string) string {
	encoded := sanitizeValue(value)
	if needsQuoting(encoded) {
		return fmt.Sprintf(`%s="%s"`, key, escapeLogfmt(encoded))
	}
	return fmt.Sprintf("%s=%s", key, encoded)
}

// sanitizeValue ensures values stay single-line.
func sanitizeValue(value string) string {
	value = strings.ReplaceAll(value, "\n", `\n`)
	return strings.ReplaceAll(value, "\r", `\r`)
}

// needsQuoting reports whether the value needs logfmt quoting.
func needsQuoting(value string) bool {
	if value == "" {
		return true
	}
	for _, r := range value {
		if r == ' ' || r == '\t' || r == '\n' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}

// escapeLogfmt escapes characters that must be quoted in logfmt values.
func escapeLogfmt(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

// appendLine writes the log entry to the audit log file.
func (logger *Logger) appendLine(line string) error {
	if logger.path == "" {
		return errors.New("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(logger.path), auditLogDirMode); err != nil {
		return fmt.Errorf("create audit log directory %s: %w", filepath.Dir(logger.path), err)
	}
	file, err := os.OpenFile(logger.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", logger.path, err)
	}
	if _, err := file.WriteString(line + "\n"); err != nil {
		_ = file.Close()
		return fmt.Errorf("write audit log %s: %w", logger.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close audit log %s: %w", logger.path, err)
	}
	return nil
}

// warnf writes a warning message to the configured warnings writer.
func (logger *Logger) warnf(format string, args ...any) {
	if logger == nil || logger.warnings == nil {
		return
	}
	_, _ = fmt.Fprintf(logger.warnings, format+"\n", args...)
}
