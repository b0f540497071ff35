package workflow

import "time"

// The following types are the payloads published on the event bus for each
// lifecycle topic, one per Broadcaster lifecycle call. They are plain data:
// consumers (the Connection Manager, loggers, metrics) read them without
// importing anything from the Engine itself.

// StartedEvent is published once, when a workflow starts, before its plan
// is requested.
type StartedEvent struct {
	WorkflowID  string    `json:"workflow_id"`
	InitialTask string    `json:"initial_task"`
	Timestamp   time.Time `json:"timestamp"`
}

// StepStartedEvent is published immediately before a step is dispatched to
// its executor.
type StepStartedEvent struct {
	WorkflowID string    `json:"workflow_id"`
	StepIndex  int       `json:"step_index"`
	Total      int       `json:"total"`
	Kind       Kind      `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// StepCompletedEvent is published once a step's executor returns,
// regardless of success.
type StepCompletedEvent struct {
	WorkflowID string     `json:"workflow_id"`
	Result     StepResult `json:"result"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CompletedEvent is published once, when a workflow reaches
// StatusCompleted or StatusPartialSuccess. PartialResultsNote is populated
// only when Status is StatusPartialSuccess, summarizing for a subscriber
// that some steps failed non-fatally alongside the ones that succeeded.
type CompletedEvent struct {
	WorkflowID         string       `json:"workflow_id"`
	Status             Status       `json:"status"`
	Results            []StepResult `json:"results"`
	PartialResultsNote string       `json:"partial_results_note,omitempty"`
	Timestamp          time.Time    `json:"timestamp"`
}

// FailedEvent is published once, when a workflow reaches StatusFailed.
type FailedEvent struct {
	WorkflowID   string    `json:"workflow_id"`
	ErrorKind    ErrorKind `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}
