// Package broadcast implements the Progress Broadcaster: it turns
// orchestrator-facing lifecycle calls into ProgressUpdate records and the
// corresponding lifecycle events, and publishes both on the event bus for
// the Connection Manager to fan out to subscribers.
package broadcast

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/taskflow-run/orchestrator/eventbus"
	"github.com/taskflow-run/orchestrator/telemetry"
	"github.com/taskflow-run/orchestrator/workflow"
)

// Status is the lifecycle state carried on a ProgressUpdate. It mirrors,
// but is distinct from, workflow.Status: a ProgressUpdate describes what a
// subscriber should render, not the internal workflow record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) isTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// ProgressUpdate is the wire record fanned out to subscribers. Progress is
// a percentage in [0, 100].
type ProgressUpdate struct {
	TaskID        string         `json:"task_id"`
	Stage         string         `json:"stage"`
	Progress      float64        `json:"progress"`
	Status        Status         `json:"status"`
	ExecutionType string         `json:"execution_type,omitempty"`
	Agents        []string       `json:"agents,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// DefaultGracePeriod is how long a terminal task's state is retained after
// its last update, so a late-arriving duplicate terminal broadcast is
// still recognized rather than treated as a new task.
const DefaultGracePeriod = 60 * time.Second

type taskState struct {
	lastProgress float64
	status       Status
	lastSeen     time.Time
}

// Broadcaster tracks per-task progress state and enforces the
// monotonic-progress invariant before publishing updates onto the bus.
type Broadcaster struct {
	mu     sync.Mutex
	bus    *eventbus.Bus
	logger telemetry.Logger
	clock  func() time.Time
	grace  time.Duration
	tasks  map[string]*taskState
}

// Option configures a Broadcaster at construction time.
type Option func(*Broadcaster)

// WithClock overrides the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Broadcaster) { b.clock = clock }
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(b *Broadcaster) { b.grace = d }
}

// New constructs a Broadcaster that publishes onto bus.
func New(bus *eventbus.Bus, logger telemetry.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	b := &Broadcaster{
		bus:    bus,
		logger: logger,
		clock:  time.Now,
		grace:  DefaultGracePeriod,
		tasks:  make(map[string]*taskState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BroadcastStarted records a new task and publishes workflow.started.
func (b *Broadcaster) BroadcastStarted(ctx context.Context, taskID, initialTask string, estimatedSteps int) {
	now := b.clock()
	b.mu.Lock()
	b.tasks[taskID] = &taskState{status: StatusRunning, lastSeen: now}
	b.mu.Unlock()

	b.bus.Publish(ctx, eventbus.TopicWorkflowStarted, workflow.StartedEvent{
		WorkflowID: taskID, InitialTask: initialTask, Timestamp: now,
	})
}

// BroadcastStepStarted publishes workflow.step.started for one step about
// to be dispatched.
func (b *Broadcaster) BroadcastStepStarted(ctx context.Context, taskID string, stepIndex, total int, kind workflow.Kind) {
	b.bus.Publish(ctx, eventbus.TopicWorkflowStepStarted, workflow.StepStartedEvent{
		WorkflowID: taskID, StepIndex: stepIndex, Total: total, Kind: kind, Timestamp: b.clock(),
	})
}

// BroadcastStepCompleted publishes workflow.step.completed once a step's
// executor has returned.
func (b *Broadcaster) BroadcastStepCompleted(ctx context.Context, taskID string, result workflow.StepResult) {
	b.mu.Lock()
	if st, ok := b.tasks[taskID]; ok {
		st.lastSeen = b.clock()
	}
	b.mu.Unlock()

	b.bus.Publish(ctx, eventbus.TopicWorkflowStepCompleted, workflow.StepCompletedEvent{
		WorkflowID: taskID, Result: result, Timestamp: b.clock(),
	})
}

// BroadcastProgress publishes an in-flight progress update for taskID.
// If progress is lower than the last value seen for a non-terminal task,
// it is clamped up to the last value and a warning is logged: progress
// must never appear to move backward to a subscriber.
func (b *Broadcaster) BroadcastProgress(ctx context.Context, taskID, stage string, progress float64, executionType string, agents []string) {
	b.publish(ctx, taskID, stage, progress, StatusRunning, executionType, agents, nil)
}

// ProgressForSteps derives the per-step progress percentage used by the
// Workflow Engine: floor(100 * completed / total).
func ProgressForSteps(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Floor(100 * float64(completed) / float64(total))
}

// BroadcastCompleted publishes the terminal success update and
// workflow.completed for taskID. Progress is always reported as exactly
// 100.0 regardless of what the last in-flight value was, per the terminal
// exemption to monotonicity.
func (b *Broadcaster) BroadcastCompleted(ctx context.Context, taskID string, status workflow.Status, results []workflow.StepResult) {
	now := b.clock()
	b.publish(ctx, taskID, "Finalizing", 100.0, StatusCompleted, "", nil, nil)
	var note string
	if status == workflow.StatusPartialSuccess {
		note = partialResultsNote(results)
	}
	b.bus.Publish(ctx, eventbus.TopicWorkflowCompleted, workflow.CompletedEvent{
		WorkflowID: taskID, Status: status, Results: results, PartialResultsNote: note, Timestamp: now,
	})
}

// partialResultsNote summarizes how many of results failed, for the
// workflow.completed frame's partial_results_note field.
func partialResultsNote(results []workflow.StepResult) string {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	return fmt.Sprintf("%d of %d steps failed; remaining results are included", failed, len(results))
}

// BroadcastFailed publishes the terminal failure update and
// workflow.failed for taskID. Unlike BroadcastCompleted, progress is
// reported as-is: a failure can occur at any completion percentage.
func (b *Broadcaster) BroadcastFailed(ctx context.Context, taskID string, progress float64, errKind workflow.ErrorKind, message string) {
	now := b.clock()
	b.publish(ctx, taskID, "Failed", progress, StatusFailed, "", nil, nil)
	b.bus.Publish(ctx, eventbus.TopicWorkflowFailed, workflow.FailedEvent{
		WorkflowID: taskID, ErrorKind: errKind, ErrorMessage: message, Timestamp: now,
	})
}

func (b *Broadcaster) publish(ctx context.Context, taskID, stage string, progress float64, status Status, executionType string, agents []string, metadata map[string]any) {
	now := b.clock()

	b.mu.Lock()
	state, ok := b.tasks[taskID]
	if !ok {
		state = &taskState{}
		b.tasks[taskID] = state
	}
	if state.status.isTerminal() {
		// A task that already reached a terminal status does not accept
		// further progress movement; only repeated terminal broadcasts
		// (idempotent retries) are allowed through unchanged.
		progress = state.lastProgress
	} else if status == StatusCompleted {
		progress = 100.0
	} else if status != StatusFailed && progress < state.lastProgress {
		b.logger.Warn(ctx, "broadcast: progress moved backward, clamping",
			"task_id", taskID, "reported", progress, "last", state.lastProgress)
		progress = state.lastProgress
	}
	state.lastProgress = progress
	state.status = status
	state.lastSeen = now
	b.mu.Unlock()

	update := ProgressUpdate{
		TaskID:        taskID,
		Stage:         stage,
		Progress:      progress,
		Status:        status,
		ExecutionType: executionType,
		Agents:        agents,
		Metadata:      metadata,
		Timestamp:     now,
	}
	b.bus.Publish(ctx, eventbus.TopicProgressUpdate, update)
}

// ActiveTasks returns the task IDs currently tracked as non-terminal,
// in no particular order; callers needing a stable order should sort the
// result themselves.
func (b *Broadcaster) ActiveTasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.tasks))
	for id, st := range b.tasks {
		if !st.status.isTerminal() {
			out = append(out, id)
		}
	}
	return out
}

// PurgeExpired drops tracked state for terminal tasks whose last update is
// older than the configured grace period. It should be called
// periodically (for example, alongside the Connection Manager's heartbeat
// tick) so Broadcaster's memory does not grow without bound across the
// lifetime of a long-running process.
func (b *Broadcaster) PurgeExpired() {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, st := range b.tasks {
		if st.status.isTerminal() && now.Sub(st.lastSeen) > b.grace {
			delete(b.tasks, id)
		}
	}
}
