package agentworld

import (
	"errors"
	"fmt"
)

// ErrProcessingCanceled is returned from suspension points when the
// processing handle for a (world, chat) scope has been stopped. The
// orchestrator recovers it silently (logged at info, no user-visible error).
var ErrProcessingCanceled = errors.New("message processing canceled")

// ErrTitleCanceled is the cancellation sentinel for the title-generation
// flow. Callers treat it as "no title change".
var ErrTitleCanceled = errors.New("title generation canceled")

// ToolErrorKind classifies tool failures. All kinds are recovered in-loop:
// a tool memory record is written and the continuation runs.
type ToolErrorKind string

const (
	ToolNotFound       ToolErrorKind = "not-found"
	ToolArgsInvalid    ToolErrorKind = "arguments-invalid"
	ToolExecFailed     ToolErrorKind = "execution-failed"
	ToolScopeViolation ToolErrorKind = "scope-violation"
)

// ToolError is a classified tool failure.
type ToolError struct {
	Kind ToolErrorKind
	Name string
	Err  error
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case ToolNotFound:
		return "Tool not found: " + e.Name
	case ToolArgsInvalid:
		return fmt.Sprintf("invalid arguments for tool %s: %v", e.Name, e.Err)
	case ToolScopeViolation:
		return fmt.Sprintf("scope violation in tool %s: %v", e.Name, e.Err)
	default:
		return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// ErrStorage wraps a storage backend failure. The pipeline logs and
// continues where possible — in-memory state stays authoritative and the
// next successful persist heals.
type ErrStorage struct {
	Op  string
	Err error
}

func (e *ErrStorage) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }
func (e *ErrStorage) Unwrap() error { return e.Err }
