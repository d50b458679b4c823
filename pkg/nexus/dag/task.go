package dag

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// Task is a node of a DAG: a handler bound to trigger patterns.
type Task struct {
	// ID is unique within its DAG and appears in outcome event names.
	ID string `json:"id" yaml:"id" validate:"required,excludesall=.*"`

	// Handler is the name the handler was registered under.
	Handler string `json:"handler" yaml:"handler" validate:"required"`

	// Triggers are the event patterns that start the task, in order.
	// A task without triggers is valid but never runs.
	Triggers []string `json:"triggers" yaml:"triggers" validate:"dive,required"`

	// MaxRetries is how many times a failed attempt is retried.
	MaxRetries int `json:"max_retries" yaml:"max_retries" validate:"gte=0"`
}

// Definition is a named set of tasks.
type Definition struct {
	ID    string `json:"id" yaml:"id" validate:"required"`
	Tasks []Task `json:"tasks" yaml:"tasks" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the definition's structure: required fields, unique task
// ids, well-formed trigger patterns. Handler names are not checked here;
// they are resolved when a trigger fires.
func (d Definition) Validate() error {
	var problems []string

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate dag %q: %w", d.ID, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
		}
	}

	seen := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.ID != "" && seen[t.ID] {
			problems = append(problems, fmt.Sprintf("duplicate task id %q", t.ID))
		}
		seen[t.ID] = true

		for _, p := range t.Triggers {
			if p == "" {
				continue
			}
			if err := event.ValidatePattern(p); err != nil {
				problems = append(problems, fmt.Sprintf("task %q: %v", t.ID, err))
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{DAGID: d.ID, Problems: problems}
	}
	return nil
}

// Task returns the task with the given id.
func (d Definition) Task(id string) (Task, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// CompletedEvent returns the event name published when a task succeeds.
func CompletedEvent(taskID string) string {
	return "task." + taskID + ".completed"
}

// FailedEvent returns the event name published when a task exhausts its retries.
func FailedEvent(taskID string) string {
	return "task." + taskID + ".failed"
}

// Status is the outcome of an execution.
type Status string

const (
	// StatusSuccess marks a completed execution.
	StatusSuccess Status = "success"
	// StatusFailure marks an execution that exhausted its retries.
	StatusFailure Status = "failure"
)

// TaskResult is the payload of task outcome events.
type TaskResult struct {
	TaskID         string `json:"taskId"`
	Status         Status `json:"status"`
	Output         any    `json:"output,omitempty"`
	Error          string `json:"error,omitempty"`
	TriggerEventID string `json:"triggerEventId"`
}

// DecodeResult converts an outcome event payload into a TaskResult.
// It accepts the in-process value as well as JSON decoded from a log.
func DecodeResult(payload any) (TaskResult, error) {
	switch p := payload.(type) {
	case TaskResult:
		return p, nil
	case *TaskResult:
		if p == nil {
			return TaskResult{}, errors.New("nil task result")
		}
		return *p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return TaskResult{}, fmt.Errorf("encode task result: %w", err)
	}
	var r TaskResult
	if err := json.Unmarshal(data, &r); err != nil {
		return TaskResult{}, fmt.Errorf("decode task result: %w", err)
	}
	if r.TaskID == "" {
		return TaskResult{}, errors.New("payload is not a task result")
	}
	return r, nil
}
