// Package workflow implements the workflow engine: planning, per-step
// classification, executor dispatch, partial-failure aggregation, and event
// emission for a single free-form task submission.
package workflow

import (
	"time"
)

// Status is the terminal-or-not lifecycle state of a Workflow. Status is
// set exactly once to a terminal value.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusPartialSuccess Status = "partial_success"
)

// IsTerminal reports whether s is one of the terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartialSuccess:
		return true
	default:
		return false
	}
}

// Kind classifies a Step as requiring a registered tool or the generic LLM
// reasoner. Kind is immutable once assigned by the classifier.
type Kind string

const (
	KindTool    Kind = "tool"
	KindGeneric Kind = "generic"
)

// ErrorKind enumerates the stable error taxonomy surfaced in StepResult and
// terminal events. Values are wire-stable: callers match on them by
// string.
type ErrorKind string

const (
	ErrToolNotFound          ErrorKind = "tool_not_found"
	ErrToolExecutionFailed   ErrorKind = "tool_execution_failed"
	ErrInvalidArguments      ErrorKind = "invalid_arguments"
	ErrLLMFailed             ErrorKind = "llm_failed"
	ErrClassificationFailed  ErrorKind = "classification_failed"
	ErrCancelled             ErrorKind = "cancelled"
	ErrEmptyPlan             ErrorKind = "empty_plan"
	ErrDependencyUnavailable ErrorKind = "dependency_unavailable"
	ErrInternal              ErrorKind = "internal_error"
)

// fatalErrorKinds short-circuit the workflow to StatusFailed immediately.
// All other error kinds are recorded on the offending StepResult and the
// workflow continues, eventually landing on StatusPartialSuccess.
var fatalErrorKinds = map[ErrorKind]bool{
	ErrCancelled:             true,
	ErrEmptyPlan:             true,
	ErrDependencyUnavailable: true,
	ErrInternal:              true,
}

// IsFatal reports whether k short-circuits the workflow to StatusFailed.
func (k ErrorKind) IsFatal() bool { return fatalErrorKinds[k] }

type (
	// ToolHint carries a tool name and extracted argument map for a tool
	// step. The Tool Executor uses a non-empty hint as-is; an empty hint
	// makes it resolve the call through its own LLM round-trip.
	ToolHint struct {
		Name string         `json:"name,omitempty"`
		Args map[string]any `json:"args,omitempty"`
	}

	// Step is one indivisible item in a Plan.
	Step struct {
		// Index is the 1-based position in Plan.
		Index int `json:"index"`
		// Description is the natural-language step text produced by the
		// Planner.
		Description string `json:"description"`
		// Kind is assigned by the classifier and immutable thereafter.
		Kind Kind `json:"kind,omitempty"`
		// ToolHint is set only by the code that builds the Step. The
		// classifier leaves it empty, and the Tool Executor's resolution
		// result is not written back onto the Step.
		ToolHint ToolHint `json:"tool_hint,omitempty"`
	}

	// StepResult records the outcome of executing one Step. Exactly one of
	// Output or Error is populated.
	StepResult struct {
		StepIndex int       `json:"step_index"`
		Kind      Kind      `json:"kind"`
		Success   bool      `json:"success"`
		Output    any       `json:"output,omitempty"`
		Error     ErrorKind `json:"error,omitempty"`
		DurationMS int64    `json:"duration_ms"`
	}

	// Workflow is one instance of (initial_task -> plan -> per-step
	// execution -> aggregated result). The record is owned exclusively by
	// the Engine goroutine driving it while Status == StatusRunning;
	// afterwards it is an immutable snapshot.
	Workflow struct {
		WorkflowID   string         `json:"workflow_id"`
		InitialTask  string         `json:"initial_task"`
		Plan         []Step         `json:"plan,omitempty"`
		Status       Status         `json:"status"`
		CreatedAt    time.Time      `json:"created_at"`
		CompletedAt  *time.Time     `json:"completed_at,omitempty"`
		Results      []StepResult   `json:"results,omitempty"`
		Metadata     map[string]any `json:"metadata,omitempty"`
		ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
		ErrorMessage string         `json:"error_message,omitempty"`
	}
)

// Snapshot returns a deep-enough copy of w suitable for handing to readers
// outside the owning Engine goroutine (HTTP snapshot endpoint, tests).
// Slices and the metadata map are copied; Step/StepResult values are plain
// data so a shallow element copy is sufficient.
func (w *Workflow) Snapshot() Workflow {
	out := *w
	if w.Plan != nil {
		out.Plan = append([]Step(nil), w.Plan...)
	}
	if w.Results != nil {
		out.Results = append([]StepResult(nil), w.Results...)
	}
	if w.Metadata != nil {
		md := make(map[string]any, len(w.Metadata))
		for k, v := range w.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
