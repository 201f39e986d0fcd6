// Package fault defines the error taxonomy shared across crewel components.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a fault for exit-code mapping and caller branching.
type Kind int

const (
	// KindNotFound indicates a referenced task, epic, or branch is absent.
	KindNotFound Kind = iota
	// KindValidation indicates invalid input rejected before any git command ran.
	KindValidation
	// KindPrecondition indicates a merge/promote precondition failed with no mutation.
	KindPrecondition
	// KindMergeConflict indicates git reported a real content conflict.
	KindMergeConflict
	// KindExternalTool indicates a git or provider CLI failure or timeout.
	KindExternalTool
)

// String returns the taxonomy label for the kind.
func (kind Kind) String() string {
	switch kind {
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindMergeConflict:
		return "merge-conflict"
	case KindExternalTool:
		return "external-tool"
	default:
		return "unknown"
	}
}

// Fault is a classified error. ConflictFiles is populated only for
// merge-conflict faults, with the files git reported as conflicting.
type Fault struct {
	Kind          Kind
	Message       string
	ConflictFiles []string
	Err           error
}

// Error renders the fault with its taxonomy label and any conflict files.
func (fault *Fault) Error() string {
	var builder strings.Builder
	builder.WriteString(fault.Kind.String())
	builder.WriteString(": ")
	builder.WriteString(fault.Message)
	if fault.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(fault.Err.Error())
	}
	if len(fault.ConflictFiles) > 0 {
		builder.WriteString(" (conflicts: ")
		builder.WriteString(strings.Join(fault.ConflictFiles, ", "))
		builder.WriteString(")")
	}
	return builder.String()
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (fault *Fault) Unwrap() error {
	return fault.Err
}

// NotFound builds a not-found fault.
func NotFound(format string, args ...any) *Fault {
	return &Fault{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a validation fault.
func Validation(format string, args ...any) *Fault {
	return &Fault{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Precondition builds a precondition fault.
func Precondition(format string, args ...any) *Fault {
	return &Fault{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// MergeConflict builds a merge-conflict fault carrying the conflicting files.
func MergeConflict(message string, files []string) *Fault {
	return &Fault{Kind: KindMergeConflict, Message: message, ConflictFiles: files}
}

// ExternalTool wraps a git or provider CLI failure.
func ExternalTool(err error, format string, args ...any) *Fault {
	return &Fault{Kind: KindExternalTool, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the fault kind when err is (or wraps) a Fault.
func KindOf(err error) (Kind, bool) {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given fault kind.
func IsKind(err error, kind Kind) bool {
	actual, ok := KindOf(err)
	return ok && actual == kind
}
