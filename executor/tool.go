package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/toolregistry"
	"github.com/taskflow-run/orchestrator/workflow"
)

// ToolExecutor resolves a step to a registered tool call and runs it. When
// the step already carries a ToolHint, that hint is taken as authoritative
// and no LLM call is made. When the hint is absent (as it is for every step
// built by the Workflow Engine or the Multi-Agent Flow, since the
// classifier does not fill it in), ToolExecutor asks the LLM client to
// choose a tool and extract arguments.
type ToolExecutor struct {
	registry  *toolregistry.Registry
	validator *toolregistry.ArgumentValidator
	client    planner.Client
}

// NewToolExecutor constructs a ToolExecutor. client may be nil if callers
// guarantee every tool step arrives with a populated ToolHint; a nil
// client used on a hint-less step fails with ErrToolNotFound rather than
// panicking.
func NewToolExecutor(registry *toolregistry.Registry, validator *toolregistry.ArgumentValidator, client planner.Client) *ToolExecutor {
	return &ToolExecutor{registry: registry, validator: validator, client: client}
}

// Execute resolves and runs step's tool call, returning its StepResult.
func (e *ToolExecutor) Execute(ctx context.Context, step workflow.Step, rc *workflow.RollingContext) workflow.StepResult {
	start := time.Now()
	hint := step.ToolHint
	if hint.Name == "" {
		resolved, err := e.resolveViaLLM(ctx, step, rc)
		if err != nil {
			return workflow.StepResult{
				StepIndex: step.Index, Kind: workflow.KindTool, Success: false,
				Error: workflow.ErrToolNotFound, DurationMS: time.Since(start).Milliseconds(),
			}
		}
		hint = resolved
	}

	tool, ok := e.registry.Get(hint.Name)
	if !ok {
		return workflow.StepResult{
			StepIndex: step.Index, Kind: workflow.KindTool, Success: false,
			Error: workflow.ErrToolNotFound, DurationMS: time.Since(start).Milliseconds(),
		}
	}

	if e.validator != nil {
		if verr := e.validator.Validate(hint.Name, hint.Args); verr != nil {
			return workflow.StepResult{
				StepIndex: step.Index, Kind: workflow.KindTool, Success: false,
				Error: workflow.ErrInvalidArguments, DurationMS: time.Since(start).Milliseconds(),
			}
		}
	}

	result := tool.Execute(ctx, hint.Args)
	duration := time.Since(start).Milliseconds()
	if !result.Success {
		return workflow.StepResult{
			StepIndex: step.Index, Kind: workflow.KindTool, Success: false,
			Error: mapToolErrorKind(result.Error), DurationMS: duration,
		}
	}
	return workflow.StepResult{
		StepIndex: step.Index, Kind: workflow.KindTool, Success: true,
		Output: result.Output, DurationMS: duration,
	}
}

// resolveViaLLM asks the LLM client to pick a tool name and argument set
// for a step whose classification left ToolHint empty. The registry's
// known tool names are listed in the prompt so the model is constrained to
// a real tool.
func (e *ToolExecutor) resolveViaLLM(ctx context.Context, step workflow.Step, rc *workflow.RollingContext) (workflow.ToolHint, error) {
	if e.client == nil {
		return workflow.ToolHint{}, fmt.Errorf("executor: no tool hint and no resolver client configured")
	}
	names := e.registry.List()
	messages := []planner.Message{
		{Role: "system", Content: "Choose exactly one tool from this list to satisfy the step, and " +
			"extract its arguments as a JSON object. Available tools: " + strings.Join(names, ", ") +
			". Reply with only a JSON object of the form {\"name\": <tool name>, \"arguments\": {...}}."},
	}
	if rc != nil {
		if ctxStr := rc.String(); ctxStr != "" {
			messages = append(messages, planner.Message{Role: "user", Content: "Context so far:\n" + ctxStr})
		}
	}
	messages = append(messages, planner.Message{Role: "user", Content: step.Description})

	result, err := e.client.Complete(ctx, messages, planner.CompleteOptions{MaxTokens: 512, Temperature: 0})
	if err != nil {
		return workflow.ToolHint{}, err
	}
	if result.ToolCall != nil {
		return workflow.ToolHint{Name: result.ToolCall.Name, Args: result.ToolCall.Arguments}, nil
	}
	var parsed struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(result.Text), &parsed); err != nil || parsed.Name == "" {
		return workflow.ToolHint{}, fmt.Errorf("executor: could not parse tool resolution: %v", err)
	}
	return workflow.ToolHint{Name: parsed.Name, Args: parsed.Arguments}, nil
}

func mapToolErrorKind(err *toolregistry.Error) workflow.ErrorKind {
	if err == nil {
		return workflow.ErrInternal
	}
	switch err.Kind {
	case toolregistry.ErrInvalidArguments:
		return workflow.ErrInvalidArguments
	default:
		// ErrUnavailable and ErrExecutionFailed both map to the same
		// non-fatal kind: dependency_unavailable is reserved for the
		// Multi-Agent Flow's parallel-wave failure condition, not a
		// single tool reporting itself unavailable.
		return workflow.ErrToolExecutionFailed
	}
}
