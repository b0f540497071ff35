package multiagent

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/taskflow-run/orchestrator/broadcast"
	"github.com/taskflow-run/orchestrator/executor"
	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/telemetry"
	"github.com/taskflow-run/orchestrator/workflow"
)

var defaultToolKeywordSet = toKeywordSet(workflow.DefaultToolKeywords)

func toKeywordSet(keywords []string) map[string]bool {
	set := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		set[k] = true
	}
	return set
}

// Stage labels and their progress values, reported regardless of which
// strategy is ultimately selected. Executando's value depends on the
// selected strategy; the rest are fixed.
const (
	stageInitializing = "Inicializando análise da tarefa"
	stageAnalyzing    = "Analisando complexidade e requisitos"
	stageSelecting    = "Selecionando agentes necessários"
	stageExecuting    = "Executando"
	stageFinalizing   = "Finalizando execução"
	stageProcessing   = "Processando resultados"

	progressInitializing        = 5
	progressAnalyzing           = 15
	progressSelecting           = 25
	progressExecutingSingle     = 40
	progressExecutingSequential = 55
	progressExecutingParallel   = 65
	progressFinalizing          = 85
	progressProcessing          = 95
)

// EngineRunner is the narrow synchronous capability the Multi-Agent Flow
// needs from the Workflow Engine to delegate the single strategy; the
// sequential and parallel strategies run their steps inside the Flow
// itself. It is defined here, at the point of use, rather than
// depending on the concrete workflow.Engine type.
type EngineRunner interface {
	RunSync(ctx context.Context, workflowID, initialTask string, maxSteps int, metadata map[string]any) workflow.Workflow
}

// Flow drives the alternative multi-agent entry point: score complexity,
// pick a strategy, run it, and report coarse staged progress throughout.
type Flow struct {
	engine      EngineRunner
	planner     *planner.Planner
	classifier  *workflow.Classifier
	generic     *executor.GenericExecutor
	tool        *executor.ToolExecutor
	broadcaster *broadcast.Broadcaster
	logger      telemetry.Logger

	singleMax   float64
	parallelMin float64
	maxSteps    int
}

// Option configures a Flow at construction time.
type Option func(*Flow)

// WithThresholds overrides DefaultSingleMax/DefaultParallelMin.
func WithThresholds(singleMax, parallelMin float64) Option {
	return func(f *Flow) { f.singleMax = singleMax; f.parallelMin = parallelMin }
}

// WithMaxSteps overrides the step cap used for the sequential and
// parallel strategies' planning call.
func WithMaxSteps(n int) Option {
	return func(f *Flow) { f.maxSteps = n }
}

// New constructs a Flow.
func New(engine EngineRunner, p *planner.Planner, classifier *workflow.Classifier, generic *executor.GenericExecutor, tool *executor.ToolExecutor, broadcaster *broadcast.Broadcaster, logger telemetry.Logger, opts ...Option) *Flow {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	f := &Flow{
		engine: engine, planner: p, classifier: classifier,
		generic: generic, tool: tool, broadcaster: broadcaster, logger: logger,
		singleMax: DefaultSingleMax, parallelMin: DefaultParallelMin, maxSteps: planner.DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start assigns a task id and schedules Run on a background goroutine,
// mirroring the Workflow Engine's start_simple_workflow semantics.
func (f *Flow) Start(ctx context.Context, initialTask string, metadata map[string]any) string {
	taskID := uuid.NewString()
	go f.Run(context.WithoutCancel(ctx), taskID, initialTask, metadata)
	return taskID
}

// Run executes the full multi-agent flow synchronously for taskID.
func (f *Flow) Run(ctx context.Context, taskID, initialTask string, metadata map[string]any) workflow.Workflow {
	f.broadcaster.BroadcastStarted(ctx, taskID, initialTask, 0)
	f.broadcaster.BroadcastProgress(ctx, taskID, stageInitializing, progressInitializing, "", nil)

	score := ComplexityScore(initialTask, defaultToolKeywordSet)
	f.broadcaster.BroadcastProgress(ctx, taskID, stageAnalyzing, progressAnalyzing, "", nil)

	if score <= f.singleMax {
		return f.runSingle(ctx, taskID, initialTask, metadata)
	}

	plan, err := f.planner.Decompose(ctx, initialTask, f.maxSteps, nil)
	if err != nil {
		kind := workflow.ErrLLMFailed
		if errors.Is(err, planner.ErrEmptyPlan) {
			kind = workflow.ErrEmptyPlan
		}
		f.broadcaster.BroadcastFailed(ctx, taskID, progressAnalyzing, kind, err.Error())
		return workflow.Workflow{WorkflowID: taskID, InitialTask: initialTask, Status: workflow.StatusFailed, ErrorKind: kind, ErrorMessage: err.Error()}
	}
	steps := buildSteps(plan, f.classifier)

	waves := PartitionWaves(steps)
	strategy := StrategySequential
	if score >= f.parallelMin && len(waves) < len(steps) {
		strategy = StrategyParallel
	}

	f.broadcaster.BroadcastProgress(ctx, taskID, stageSelecting, progressSelecting, string(strategy), agentLabelsFor(steps))

	var (
		results []workflow.StepResult
		status  workflow.Status
	)
	switch strategy {
	case StrategyParallel:
		f.broadcaster.BroadcastProgress(ctx, taskID, stageExecuting, progressExecutingParallel, string(strategy), nil)
		results, status = f.runParallel(ctx, taskID, waves)
	default:
		f.broadcaster.BroadcastProgress(ctx, taskID, stageExecuting, progressExecutingSequential, string(strategy), nil)
		results, status = f.runSequential(ctx, taskID, steps)
	}

	f.broadcaster.BroadcastProgress(ctx, taskID, stageFinalizing, progressFinalizing, string(strategy), nil)
	f.broadcaster.BroadcastProgress(ctx, taskID, stageProcessing, progressProcessing, string(strategy), nil)

	wf := workflow.Workflow{WorkflowID: taskID, InitialTask: initialTask, Plan: steps, Results: results, Status: status, Metadata: metadata}
	if status == workflow.StatusFailed {
		f.broadcaster.BroadcastFailed(ctx, taskID, progressProcessing, workflow.ErrDependencyUnavailable, "parallel wave could not proceed")
	} else {
		f.broadcaster.BroadcastCompleted(ctx, taskID, status, results)
	}
	return wf
}

func (f *Flow) runSingle(ctx context.Context, taskID, initialTask string, metadata map[string]any) workflow.Workflow {
	f.broadcaster.BroadcastProgress(ctx, taskID, stageSelecting, progressSelecting, string(StrategySingle), nil)
	f.broadcaster.BroadcastProgress(ctx, taskID, stageExecuting, progressExecutingSingle, string(StrategySingle), nil)
	wf := f.engine.RunSync(ctx, taskID, initialTask, 1, metadata)
	f.broadcaster.BroadcastProgress(ctx, taskID, stageFinalizing, progressFinalizing, string(StrategySingle), nil)
	f.broadcaster.BroadcastProgress(ctx, taskID, stageProcessing, progressProcessing, string(StrategySingle), nil)
	if wf.Status == workflow.StatusFailed {
		f.broadcaster.BroadcastFailed(ctx, taskID, progressProcessing, wf.ErrorKind, wf.ErrorMessage)
	} else {
		f.broadcaster.BroadcastCompleted(ctx, taskID, wf.Status, wf.Results)
	}
	return wf
}

func (f *Flow) runSequential(ctx context.Context, taskID string, steps []workflow.Step) ([]workflow.StepResult, workflow.Status) {
	rc := workflow.NewRollingContext(0)
	results := make([]workflow.StepResult, 0, len(steps))
	hasFailure := false
	for _, step := range steps {
		result := f.dispatch(ctx, step, rc)
		results = append(results, result)
		if !result.Success {
			hasFailure = true
		} else {
			rc.Append(step.Index, workflow.Summarize(result.Output))
		}
	}
	if hasFailure {
		return results, workflow.StatusPartialSuccess
	}
	return results, workflow.StatusCompleted
}

func (f *Flow) runParallel(ctx context.Context, taskID string, waves [][]workflow.Step) ([]workflow.StepResult, workflow.Status) {
	rc := workflow.NewRollingContext(0)
	var rcMu sync.Mutex
	var all []workflow.StepResult
	hasFailure := false

	for _, wave := range waves {
		waveResults := make([]workflow.StepResult, len(wave))
		var wg sync.WaitGroup
		for i, step := range wave {
			wg.Add(1)
			go func(i int, step workflow.Step) {
				defer wg.Done()
				rcMu.Lock()
				snapshot := workflow.NewRollingContext(0)
				snapshot.Append(0, rc.String())
				rcMu.Unlock()
				waveResults[i] = f.dispatch(ctx, step, snapshot)
			}(i, step)
		}
		wg.Wait()

		waveSucceeded := false
		for i, r := range waveResults {
			all = append(all, r)
			if r.Success {
				waveSucceeded = true
				rcMu.Lock()
				rc.Append(wave[i].Index, workflow.Summarize(r.Output))
				rcMu.Unlock()
			} else {
				hasFailure = true
			}
		}
		if !waveSucceeded {
			return all, workflow.StatusFailed
		}
	}
	if hasFailure {
		return all, workflow.StatusPartialSuccess
	}
	return all, workflow.StatusCompleted
}

func (f *Flow) dispatch(ctx context.Context, step workflow.Step, rc *workflow.RollingContext) workflow.StepResult {
	if step.Kind == workflow.KindTool {
		return f.tool.Execute(ctx, step, rc)
	}
	return f.generic.Execute(ctx, step, rc)
}

func buildSteps(descriptions []string, classifier *workflow.Classifier) []workflow.Step {
	steps := make([]workflow.Step, len(descriptions))
	for i, d := range descriptions {
		steps[i] = workflow.Step{Index: i + 1, Description: d, Kind: classifier.Classify(d)}
	}
	return steps
}

func agentLabelsFor(steps []workflow.Step) []string {
	labels := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.Kind == workflow.KindTool {
			labels = append(labels, "tool-agent")
		} else {
			labels = append(labels, "reasoning-agent")
		}
	}
	return labels
}
