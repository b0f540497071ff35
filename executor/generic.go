// Package executor implements the two step executors the Workflow Engine
// dispatches to once a step has been classified: GenericExecutor for steps
// reasoned about purely in prose, and ToolExecutor for steps that resolve
// to a registered tool call.
package executor

import (
	"context"
	"time"

	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/workflow"
)

// GenericExecutor drives a single generic step to completion by asking an
// LLM client to reason about it in the context of everything executed so
// far. It never touches the tool registry.
type GenericExecutor struct {
	client planner.Client
}

// NewGenericExecutor constructs a GenericExecutor backed by client.
func NewGenericExecutor(client planner.Client) *GenericExecutor {
	return &GenericExecutor{client: client}
}

// Execute runs step against rolling context and returns its StepResult.
// Execute never returns a Go error: any failure is captured as a
// non-success StepResult so the caller can aggregate without a type
// switch.
func (e *GenericExecutor) Execute(ctx context.Context, step workflow.Step, rc *workflow.RollingContext) workflow.StepResult {
	start := time.Now()
	messages := []planner.Message{
		{Role: "system", Content: "You are executing one step of a larger task. " +
			"Carry out the step described by the user and reply with the result " +
			"in prose. Do not restate the step or add commentary about future steps."},
	}
	if rc != nil {
		if ctxStr := rc.String(); ctxStr != "" {
			messages = append(messages, planner.Message{Role: "user", Content: "Context so far:\n" + ctxStr})
		}
	}
	messages = append(messages, planner.Message{Role: "user", Content: step.Description})

	result, err := e.client.Complete(ctx, messages, planner.CompleteOptions{MaxTokens: 1024, Temperature: 0.3})
	duration := time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return workflow.StepResult{
				StepIndex: step.Index, Kind: workflow.KindGeneric, Success: false,
				Error: workflow.ErrCancelled, DurationMS: duration,
			}
		}
		return workflow.StepResult{
			StepIndex: step.Index, Kind: workflow.KindGeneric, Success: false,
			Error: workflow.ErrLLMFailed, DurationMS: duration,
		}
	}
	if result.Text == "" {
		return workflow.StepResult{
			StepIndex: step.Index, Kind: workflow.KindGeneric, Success: false,
			Error: workflow.ErrLLMFailed, DurationMS: duration,
		}
	}
	return workflow.StepResult{
		StepIndex: step.Index, Kind: workflow.KindGeneric, Success: true,
		Output: result.Text, DurationMS: duration,
	}
}
