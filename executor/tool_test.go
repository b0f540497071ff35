package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow-run/orchestrator/executor"
	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/toolregistry"
	"github.com/taskflow-run/orchestrator/workflow"
)

type fakeTool struct {
	schema []byte
	fn     func(ctx context.Context, args map[string]any) toolregistry.Result
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) toolregistry.Result {
	return f.fn(ctx, args)
}

func (f *fakeTool) ArgumentSchema() []byte { return f.schema }

func TestToolExecutor_UsesHintWithoutCallingLLM(t *testing.T) {
	registry := toolregistry.New()
	called := false
	require.NoError(t, registry.Register("search_web", &fakeTool{fn: func(ctx context.Context, args map[string]any) toolregistry.Result {
		called = true
		return toolregistry.Result{Success: true, Output: "3 results"}
	}}))
	llm := &failOnCallLLM{t: t}
	exec := executor.NewToolExecutor(registry, nil, llm)

	step := workflow.Step{
		Index: 1, Kind: workflow.KindTool,
		ToolHint: workflow.ToolHint{Name: "search_web", Args: map[string]any{"query": "go modules"}},
	}
	res := exec.Execute(context.Background(), step, nil)

	require.True(t, res.Success)
	assert.True(t, called)
	assert.Equal(t, "3 results", res.Output)
}

func TestToolExecutor_UnknownToolName(t *testing.T) {
	registry := toolregistry.New()
	exec := executor.NewToolExecutor(registry, nil, nil)

	step := workflow.Step{Index: 1, Kind: workflow.KindTool, ToolHint: workflow.ToolHint{Name: "does_not_exist"}}
	res := exec.Execute(context.Background(), step, nil)

	assert.False(t, res.Success)
	assert.Equal(t, workflow.ErrToolNotFound, res.Error)
}

func TestToolExecutor_SchemaViolationSkipsExecution(t *testing.T) {
	registry := toolregistry.New()
	invoked := false
	require.NoError(t, registry.Register("send_email", &fakeTool{fn: func(ctx context.Context, args map[string]any) toolregistry.Result {
		invoked = true
		return toolregistry.Result{Success: true}
	}}))
	validator := toolregistry.NewArgumentValidator()
	require.NoError(t, validator.Compile("send_email", []byte(`{
		"type": "object",
		"required": ["to"],
		"properties": {"to": {"type": "string"}}
	}`)))
	exec := executor.NewToolExecutor(registry, validator, nil)

	step := workflow.Step{Index: 1, Kind: workflow.KindTool, ToolHint: workflow.ToolHint{Name: "send_email", Args: map[string]any{}}}
	res := exec.Execute(context.Background(), step, nil)

	assert.False(t, res.Success)
	assert.Equal(t, workflow.ErrInvalidArguments, res.Error)
	assert.False(t, invoked)
}

func TestToolExecutor_ResolvesViaLLMWhenHintMissing(t *testing.T) {
	registry := toolregistry.New()
	require.NoError(t, registry.Register("lookup_weather", &fakeTool{fn: func(ctx context.Context, args map[string]any) toolregistry.Result {
		return toolregistry.Result{Success: true, Output: args["city"]}
	}}))
	llm := &stubLLM{result: planner.CompleteResult{Text: `{"name": "lookup_weather", "arguments": {"city": "Recife"}}`}}
	exec := executor.NewToolExecutor(registry, nil, llm)

	step := workflow.Step{Index: 1, Kind: workflow.KindTool, Description: "find out the weather in Recife"}
	res := exec.Execute(context.Background(), step, nil)

	require.True(t, res.Success)
	assert.Equal(t, "Recife", res.Output)
}

func TestToolExecutor_MapsUnavailableToNonFatalExecutionFailed(t *testing.T) {
	registry := toolregistry.New()
	require.NoError(t, registry.Register("flaky", &fakeTool{fn: func(ctx context.Context, args map[string]any) toolregistry.Result {
		return toolregistry.Result{Success: false, Error: toolregistry.NewError(toolregistry.ErrUnavailable, "upstream down")}
	}}))
	exec := executor.NewToolExecutor(registry, nil, nil)

	step := workflow.Step{Index: 1, Kind: workflow.KindTool, ToolHint: workflow.ToolHint{Name: "flaky"}}
	res := exec.Execute(context.Background(), step, nil)

	assert.False(t, res.Success)
	assert.Equal(t, workflow.ErrToolExecutionFailed, res.Error)
	assert.False(t, res.Error.IsFatal())
}

// failOnCallLLM fails the test if Complete is ever invoked, proving the
// hinted path skips LLM resolution entirely.
type failOnCallLLM struct{ t *testing.T }

func (f *failOnCallLLM) Complete(ctx context.Context, messages []planner.Message, opts planner.CompleteOptions) (planner.CompleteResult, error) {
	f.t.Fatal("LLM should not be called when a tool hint is already present")
	return planner.CompleteResult{}, nil
}
