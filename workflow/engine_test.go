package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow-run/orchestrator/executor"
	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/toolregistry"
	"github.com/taskflow-run/orchestrator/workflow"
)

type stubLLM struct {
	mu       sync.Mutex
	planText string
	toolName string            // tool chosen when resolving a hint-less tool step
	results  map[string]string // keyed by step description substring, for generic step output
	err      error
	delay    time.Duration
}

func (s *stubLLM) Complete(ctx context.Context, messages []planner.Message, opts planner.CompleteOptions) (planner.CompleteResult, error) {
	s.mu.Lock()
	err := s.err
	delay := s.delay
	s.mu.Unlock()

	if err != nil {
		return planner.CompleteResult{}, err
	}
	if len(messages) > 0 && contains(messages[0].Content, "task planner") {
		return planner.CompleteResult{Text: s.planText}, nil
	}
	if len(messages) > 0 && contains(messages[0].Content, "Choose exactly one tool") {
		if s.toolName == "" {
			return planner.CompleteResult{}, nil
		}
		return planner.CompleteResult{ToolCall: &planner.ToolCall{Name: s.toolName}}, nil
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return planner.CompleteResult{}, ctx.Err()
		}
	}
	last := messages[len(messages)-1].Content
	for substr, out := range s.results {
		if contains(last, substr) {
			return planner.CompleteResult{Text: out}, nil
		}
	}
	return planner.CompleteResult{Text: "done: " + last}, nil
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// progressRecorder is a fake broadcast.Broadcaster satisfying
// workflow.Progress, recording every call for assertions without touching
// the event bus at all.
type progressRecorder struct {
	mu             sync.Mutex
	progress       []float64
	stages         []string
	stepsStarted   []int
	stepsCompleted []workflow.StepResult
	completed      *workflow.Status
	failedKind     workflow.ErrorKind
	failed         bool
}

func (p *progressRecorder) BroadcastStarted(ctx context.Context, taskID, initialTask string, estimatedSteps int) {
}

func (p *progressRecorder) BroadcastStepStarted(ctx context.Context, taskID string, stepIndex, total int, kind workflow.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepsStarted = append(p.stepsStarted, stepIndex)
}

func (p *progressRecorder) BroadcastStepCompleted(ctx context.Context, taskID string, result workflow.StepResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepsCompleted = append(p.stepsCompleted, result)
}

func (p *progressRecorder) BroadcastProgress(ctx context.Context, taskID, stage string, progress float64, executionType string, agents []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, stage)
	p.progress = append(p.progress, progress)
}

func (p *progressRecorder) BroadcastCompleted(ctx context.Context, taskID string, status workflow.Status, results []workflow.StepResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := status
	p.completed = &s
}

func (p *progressRecorder) BroadcastFailed(ctx context.Context, taskID string, progress float64, errKind workflow.ErrorKind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = true
	p.failedKind = errKind
}

func newEngine(t *testing.T, client planner.Client, registry *toolregistry.Registry) (*workflow.Engine, *progressRecorder) {
	t.Helper()
	p := planner.New(client)
	classifier := workflow.NewClassifier(nil)
	generic := executor.NewGenericExecutor(client)
	tool := executor.NewToolExecutor(registry, nil, client)
	rec := &progressRecorder{}
	return workflow.New(p, classifier, generic, tool, rec, nil), rec
}

type fakeTool struct {
	fn func(ctx context.Context, args map[string]any) toolregistry.Result
}

func (f fakeTool) Execute(ctx context.Context, args map[string]any) toolregistry.Result {
	return f.fn(ctx, args)
}

func TestEngine_SingleGenericStep(t *testing.T) {
	client := &stubLLM{planText: "1. Summarize the report"}
	reg := toolregistry.New()
	engine, rec := newEngine(t, client, reg)

	wf := engine.RunSync(context.Background(), "wf-1", "summarize the quarterly report", 0, nil)

	require.Equal(t, workflow.StatusCompleted, wf.Status)
	require.Len(t, wf.Results, 1)
	assert.True(t, wf.Results[0].Success)
	assert.Equal(t, workflow.StatusCompleted, *rec.completed)
}

func TestEngine_SequentialMixedSteps(t *testing.T) {
	client := &stubLLM{planText: "1. Search the archive for the file\n2. Summarize what was found", toolName: "search_tool"}
	reg := toolregistry.New()
	require.NoError(t, reg.Register("search_tool", fakeTool{fn: func(ctx context.Context, args map[string]any) toolregistry.Result {
		return toolregistry.Result{Success: true, Output: "file-42"}
	}}))
	engine, rec := newEngine(t, client, reg)

	wf := engine.RunSync(context.Background(), "wf-2", "find and summarize the file", 0, nil)

	require.Equal(t, workflow.StatusCompleted, wf.Status)
	require.Len(t, wf.Results, 2)
	assert.Equal(t, workflow.KindTool, wf.Results[0].Kind)
	assert.Equal(t, workflow.KindGeneric, wf.Results[1].Kind)
	assert.Equal(t, []int{1, 2}, rec.stepsStarted)
}

func TestEngine_PartialSuccessWhenNonFatalStepFails(t *testing.T) {
	client := &stubLLM{planText: "1. Search for the widget\n2. Describe the result"}
	reg := toolregistry.New() // no tools registered: the tool step fails with tool_not_found (non-fatal)
	engine, rec := newEngine(t, client, reg)

	wf := engine.RunSync(context.Background(), "wf-3", "search then describe", 0, nil)

	require.Equal(t, workflow.StatusPartialSuccess, wf.Status)
	require.Len(t, wf.Results, 2)
	assert.False(t, wf.Results[0].Success)
	assert.Equal(t, workflow.ErrToolNotFound, wf.Results[0].Error)
	assert.True(t, wf.Results[1].Success)
	assert.Equal(t, workflow.StatusPartialSuccess, *rec.completed)
}

func TestEngine_PartialSuccessWhenEveryStepFailsNonFatally(t *testing.T) {
	client := &stubLLM{planText: "1. Search for the widget\n2. Search for another widget"}
	reg := toolregistry.New() // no tools registered: both steps fail with tool_not_found (non-fatal)
	engine, rec := newEngine(t, client, reg)

	wf := engine.RunSync(context.Background(), "wf-10", "search twice", 0, nil)

	require.Equal(t, workflow.StatusPartialSuccess, wf.Status)
	require.Len(t, wf.Results, 2)
	assert.False(t, wf.Results[0].Success)
	assert.False(t, wf.Results[1].Success)
	assert.Equal(t, workflow.StatusPartialSuccess, *rec.completed)
	assert.False(t, rec.failed)
}

func TestEngine_FatalPlanningFailureNeverDispatchesSteps(t *testing.T) {
	client := &stubLLM{err: errors.New("provider unavailable")}
	reg := toolregistry.New()
	engine, rec := newEngine(t, client, reg)

	wf := engine.RunSync(context.Background(), "wf-4", "do something", 0, nil)

	require.Equal(t, workflow.StatusFailed, wf.Status)
	assert.Equal(t, workflow.ErrLLMFailed, wf.ErrorKind)
	assert.Empty(t, rec.stepsStarted)
	assert.True(t, rec.failed)
	assert.Equal(t, workflow.ErrLLMFailed, rec.failedKind)
}

func TestEngine_EmptyPlanIsFatal(t *testing.T) {
	client := &stubLLM{planText: ""}
	reg := toolregistry.New()
	engine, _ := newEngine(t, client, reg)

	wf := engine.RunSync(context.Background(), "wf-5", "do nothing describable", 0, nil)

	require.Equal(t, workflow.StatusFailed, wf.Status)
	assert.Equal(t, workflow.ErrEmptyPlan, wf.ErrorKind)
}

func TestEngine_CancellationStopsMidStep(t *testing.T) {
	client := &stubLLM{
		planText: "1. Reason about the records\n2. Reason about more records\n3. Reason about even more records",
		delay:    50 * time.Millisecond,
	}
	reg := toolregistry.New()
	engine, rec := newEngine(t, client, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	wf := engine.RunSync(ctx, "wf-6", "reason three times", 0, nil)

	assert.Equal(t, workflow.StatusFailed, wf.Status)
	assert.Equal(t, workflow.ErrCancelled, wf.ErrorKind)
	assert.Len(t, wf.Results, 1)
	assert.True(t, rec.failed)
}

func TestEngine_CancelMethodStopsAStartedWorkflow(t *testing.T) {
	client := &stubLLM{
		planText: "1. Reason about the records\n2. Reason about more records",
		delay:    100 * time.Millisecond,
	}
	reg := toolregistry.New()
	engine, _ := newEngine(t, client, reg)

	workflowID := engine.Start(context.Background(), "reason twice", nil)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, engine.Cancel(workflowID))
	assert.False(t, engine.Cancel("unknown-id"))
}

func TestEngine_ProgressIsMonotonicAcrossSteps(t *testing.T) {
	client := &stubLLM{planText: "1. First step\n2. Second step\n3. Third step"}
	reg := toolregistry.New()
	engine, rec := newEngine(t, client, reg)

	engine.RunSync(context.Background(), "wf-7", "do three things", 0, nil)

	last := -1.0
	for _, p := range rec.progress {
		require.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 100.0, rec.progress[len(rec.progress)-1])
}

func TestEngine_SnapshotReflectsTerminalRecord(t *testing.T) {
	client := &stubLLM{planText: "1. Summarize the report"}
	reg := toolregistry.New()
	engine, _ := newEngine(t, client, reg)

	_, ok := engine.Snapshot("wf-unknown")
	assert.False(t, ok)

	wf := engine.RunSync(context.Background(), "wf-9", "summarize the report", 0, nil)
	snap, ok := engine.Snapshot("wf-9")
	require.True(t, ok)
	assert.Equal(t, wf.Status, snap.Status)
	assert.Equal(t, wf.Plan, snap.Plan)
	assert.Equal(t, wf.Results, snap.Results)
}

func TestEngine_RunSyncHonorsMaxStepsOverride(t *testing.T) {
	client := &stubLLM{planText: "1. First step\n2. Second step\n3. Third step"}
	reg := toolregistry.New()
	engine, _ := newEngine(t, client, reg)

	wf := engine.RunSync(context.Background(), "wf-8", "multi step task", 1, nil)

	require.Len(t, wf.Plan, 1)
}
