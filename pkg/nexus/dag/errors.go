package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for definitions and handler lookup.
var (
	// ErrHandlerNotFound indicates a task references an unregistered handler.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrInvalidDefinition indicates a DAG definition failed validation.
	ErrInvalidDefinition = errors.New("invalid dag definition")

	// ErrUnsupportedFormat indicates a definition file with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported definition format")

	// ErrTaskNotFound indicates a task id that no loaded DAG defines.
	ErrTaskNotFound = errors.New("task not found")

	// ErrExecutionActive indicates the (task, event) execution is already live.
	ErrExecutionActive = errors.New("execution already active")

	// ErrShutdown indicates the orchestrator no longer starts executions.
	ErrShutdown = errors.New("orchestrator shut down")
)

// HandlerNotFoundError reports a trigger for a task whose handler is not registered.
type HandlerNotFoundError struct {
	TaskID  string
	Handler string
}

// Error implements the error interface.
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("task %s: handler %q not registered", e.TaskID, e.Handler)
}

// Unwrap returns ErrHandlerNotFound.
func (e *HandlerNotFoundError) Unwrap() error {
	return ErrHandlerNotFound
}

// HandlerExecutionError wraps a failed handler attempt.
type HandlerExecutionError struct {
	// TaskID is the task whose handler failed.
	TaskID string
	// EventID is the triggering event.
	EventID string
	// Attempt is the 1-based attempt number.
	Attempt int
	// Err is the error returned by the handler; nil after a panic.
	Err error
	// Panic is the recovered panic value, if the handler panicked.
	Panic any
}

// Error implements the error interface.
func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("task %s attempt %d on event %s: %s", e.TaskID, e.Attempt, e.EventID, e.Reason())
}

// Reason returns the handler's own error message, as reported in TaskResult.Error.
func (e *HandlerExecutionError) Reason() string {
	if e.Panic != nil {
		return fmt.Sprintf("panic: %v", e.Panic)
	}
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

// Unwrap returns the handler error for errors.Is/As support.
func (e *HandlerExecutionError) Unwrap() error {
	return e.Err
}

// ValidationError lists the problems found in a definition.
type ValidationError struct {
	DAGID    string
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("dag %q: %s", e.DAGID, strings.Join(e.Problems, "; "))
}

// Unwrap returns ErrInvalidDefinition.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidDefinition
}
