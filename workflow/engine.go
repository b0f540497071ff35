package workflow

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/telemetry"
)

// StepExecutor runs one classified Step to completion. GenericExecutor and
// ToolExecutor both satisfy this from the executor package; Engine depends
// only on the narrow capability it actually uses.
type StepExecutor interface {
	Execute(ctx context.Context, step Step, rc *RollingContext) StepResult
}

// Progress is the narrow capability the Engine needs from the Progress
// Broadcaster. Defined here, at the point of use, so this package does not
// import the broadcast package directly.
type Progress interface {
	BroadcastStarted(ctx context.Context, taskID, initialTask string, estimatedSteps int)
	BroadcastStepStarted(ctx context.Context, taskID string, stepIndex, total int, kind Kind)
	BroadcastStepCompleted(ctx context.Context, taskID string, result StepResult)
	BroadcastProgress(ctx context.Context, taskID, stage string, progress float64, executionType string, agents []string)
	BroadcastCompleted(ctx context.Context, taskID string, status Status, results []StepResult)
	BroadcastFailed(ctx context.Context, taskID string, progress float64, errKind ErrorKind, message string)
}

const (
	progressPlanning   = 5
	progressPlanReady  = 10
	progressFinalizing = 100
	stepProgressBudget = 85.0 // percentage points spread across step execution
	stepProgressFloor  = 10.0 // percentage already spent on planning by the time steps start
)

// Engine drives a single workflow from initial task to terminal status:
// plan, classify, dispatch each step to its executor, aggregate, and report
// every transition through Progress.
type Engine struct {
	planner    *planner.Planner
	classifier *Classifier
	generic    StepExecutor
	tool       StepExecutor
	progress   Progress
	logger     telemetry.Logger
	maxSteps   int

	mu        sync.Mutex
	cancelled map[string]context.CancelFunc
	records   map[string]*Workflow
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxSteps overrides planner.DefaultMaxSteps for plans this Engine
// requests.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// New constructs an Engine.
func New(p *planner.Planner, classifier *Classifier, generic, tool StepExecutor, progress Progress, logger telemetry.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	e := &Engine{
		planner: p, classifier: classifier, generic: generic, tool: tool,
		progress: progress, logger: logger, maxSteps: planner.DefaultMaxSteps,
		cancelled: make(map[string]context.CancelFunc),
		records:   make(map[string]*Workflow),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start assigns a workflow id and runs it on a background goroutine,
// returning immediately so HTTP handlers never block on a full run.
func (e *Engine) Start(ctx context.Context, initialTask string, metadata map[string]any) string {
	workflowID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancelled[workflowID] = cancel
	e.mu.Unlock()
	go func() {
		defer e.forget(workflowID)
		e.run(runCtx, workflowID, initialTask, e.maxSteps, metadata)
	}()
	return workflowID
}

// RunSync runs a workflow to completion on the calling goroutine and
// returns its final record. maxSteps, when positive, overrides the
// Engine's configured default — the Multi-Agent Flow uses this to cap a
// single-strategy delegation at exactly one step.
func (e *Engine) RunSync(ctx context.Context, workflowID, initialTask string, maxSteps int, metadata map[string]any) Workflow {
	if maxSteps <= 0 {
		maxSteps = e.maxSteps
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelled[workflowID] = cancel
	e.mu.Unlock()
	defer e.forget(workflowID)
	return e.run(runCtx, workflowID, initialTask, maxSteps, metadata)
}

// Cancel requests cooperative cancellation of a running workflow. It is a
// no-op if workflowID is unknown or already terminal.
func (e *Engine) Cancel(workflowID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancelled[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (e *Engine) forget(workflowID string) {
	e.mu.Lock()
	delete(e.cancelled, workflowID)
	e.mu.Unlock()
}

// Snapshot returns the current state of workflowID as tracked by this
// Engine, for the GET /workflows/{id} submission-interface endpoint. The
// record is updated as the workflow progresses (plan, then each step
// result), so a caller observing a running workflow sees a partial but
// consistent view; ok is false if workflowID was never started on this
// Engine.
func (e *Engine) Snapshot(workflowID string) (Workflow, bool) {
	e.mu.Lock()
	rec, ok := e.records[workflowID]
	e.mu.Unlock()
	if !ok {
		return Workflow{}, false
	}
	return rec.Snapshot(), true
}

func (e *Engine) setRecord(workflowID string, wf Workflow) {
	e.mu.Lock()
	e.records[workflowID] = &wf
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, workflowID, initialTask string, maxSteps int, metadata map[string]any) Workflow {
	createdAt := time.Now()
	e.setRecord(workflowID, Workflow{WorkflowID: workflowID, InitialTask: initialTask, Status: StatusRunning, Metadata: metadata, CreatedAt: createdAt})
	e.progress.BroadcastStarted(ctx, workflowID, initialTask, 0)
	e.progress.BroadcastProgress(ctx, workflowID, "Planning", progressPlanning, "", nil)

	descriptions, err := e.planner.Decompose(ctx, initialTask, maxSteps, nil)
	if err != nil {
		kind := ErrLLMFailed
		if errors.Is(err, planner.ErrEmptyPlan) {
			kind = ErrEmptyPlan
		}
		e.progress.BroadcastFailed(ctx, workflowID, progressPlanning, kind, err.Error())
		completedAt := time.Now()
		wf := Workflow{WorkflowID: workflowID, InitialTask: initialTask, Status: StatusFailed, ErrorKind: kind, ErrorMessage: err.Error(), Metadata: metadata, CreatedAt: createdAt, CompletedAt: &completedAt}
		e.setRecord(workflowID, wf)
		return wf
	}

	plan := make([]Step, len(descriptions))
	for i, d := range descriptions {
		plan[i] = Step{Index: i + 1, Description: d, Kind: e.classifier.Classify(d)}
	}
	total := len(plan)
	e.setRecord(workflowID, Workflow{WorkflowID: workflowID, InitialTask: initialTask, Plan: plan, Status: StatusRunning, Metadata: metadata, CreatedAt: createdAt})
	e.progress.BroadcastProgress(ctx, workflowID, "Plan ready", progressPlanReady, "", nil)

	rc := NewRollingContext(0)
	results := make([]StepResult, 0, total)
	fatal := false
	var fatalKind ErrorKind
	var fatalMessage string

	for _, step := range plan {
		if ctx.Err() != nil {
			results = append(results, StepResult{StepIndex: step.Index, Kind: step.Kind, Success: false, Error: ErrCancelled})
			fatal = true
			fatalKind = ErrCancelled
			fatalMessage = "workflow cancelled"
			break
		}

		e.progress.BroadcastStepStarted(ctx, workflowID, step.Index, total, step.Kind)
		stageProgress := stepProgressFloor + math.Floor(stepProgressBudget*float64(step.Index-1)/float64(total))
		e.progress.BroadcastProgress(ctx, workflowID, stepStage(step.Index, total), stageProgress, "", nil)

		executor := e.generic
		if step.Kind == KindTool {
			executor = e.tool
		}
		result := executor.Execute(ctx, step, rc)
		results = append(results, result)
		e.setRecord(workflowID, Workflow{WorkflowID: workflowID, InitialTask: initialTask, Plan: plan, Results: append([]StepResult(nil), results...), Status: StatusRunning, Metadata: metadata, CreatedAt: createdAt})
		e.progress.BroadcastStepCompleted(ctx, workflowID, result)

		if result.Success {
			rc.Append(step.Index, Summarize(result.Output))
			continue
		}
		if result.Error.IsFatal() {
			fatal = true
			fatalKind = result.Error
			fatalMessage = "step " + stepStage(step.Index, total) + " failed fatally"
			break
		}
	}

	if fatal {
		e.progress.BroadcastFailed(ctx, workflowID, progressFinalizing, fatalKind, fatalMessage)
		completedAt := time.Now()
		wf := Workflow{WorkflowID: workflowID, InitialTask: initialTask, Plan: plan, Results: results, Status: StatusFailed, ErrorKind: fatalKind, ErrorMessage: fatalMessage, Metadata: metadata, CreatedAt: createdAt, CompletedAt: &completedAt}
		e.setRecord(workflowID, wf)
		return wf
	}

	status := aggregateStatus(results)
	e.progress.BroadcastProgress(ctx, workflowID, "Finalizing", progressFinalizing, "", nil)
	if status == StatusFailed {
		// aggregateStatus never returns StatusFailed today, but routing
		// on status here rather than assuming that keeps the emitted
		// topic aligned with the reported status even if that changes.
		e.progress.BroadcastFailed(ctx, workflowID, progressFinalizing, ErrInternal, "workflow failed")
	} else {
		e.progress.BroadcastCompleted(ctx, workflowID, status, results)
	}
	completedAt := time.Now()
	wf := Workflow{WorkflowID: workflowID, InitialTask: initialTask, Plan: plan, Results: results, Status: status, Metadata: metadata, CreatedAt: createdAt, CompletedAt: &completedAt}
	e.setRecord(workflowID, wf)
	return wf
}

func aggregateStatus(results []StepResult) Status {
	for _, r := range results {
		if !r.Success {
			// A fatal step failure already returns early in run(), before
			// aggregateStatus is ever consulted, so every non-fatal
			// failure here — even if every step failed — still resolves
			// to partial success rather than a third "all failed"
			// outcome.
			return StatusPartialSuccess
		}
	}
	return StatusCompleted
}

func stepStage(index, total int) string {
	return "Executing step " + strconv.Itoa(index) + " of " + strconv.Itoa(total)
}
