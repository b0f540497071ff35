package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow-run/orchestrator/executor"
	"github.com/taskflow-run/orchestrator/planner"
	"github.com/taskflow-run/orchestrator/workflow"
)

type stubLLM struct {
	result planner.CompleteResult
	err    error
}

func (s *stubLLM) Complete(ctx context.Context, messages []planner.Message, opts planner.CompleteOptions) (planner.CompleteResult, error) {
	return s.result, s.err
}

func TestGenericExecutor_Success(t *testing.T) {
	llm := &stubLLM{result: planner.CompleteResult{Text: "done: wrote the summary"}}
	exec := executor.NewGenericExecutor(llm)
	step := workflow.Step{Index: 1, Description: "Summarize the findings", Kind: workflow.KindGeneric}

	res := exec.Execute(context.Background(), step, workflow.NewRollingContext(0))

	require.True(t, res.Success)
	assert.Equal(t, workflow.KindGeneric, res.Kind)
	assert.Equal(t, "done: wrote the summary", res.Output)
	assert.Empty(t, res.Error)
}

func TestGenericExecutor_LLMFailure(t *testing.T) {
	llm := &stubLLM{err: errors.New("connection reset")}
	exec := executor.NewGenericExecutor(llm)
	step := workflow.Step{Index: 2, Description: "Draft the reply"}

	res := exec.Execute(context.Background(), step, nil)

	assert.False(t, res.Success)
	assert.Equal(t, workflow.ErrLLMFailed, res.Error)
}

func TestGenericExecutor_CancelledContext(t *testing.T) {
	llm := &stubLLM{err: errors.New("context canceled")}
	exec := executor.NewGenericExecutor(llm)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.Execute(ctx, workflow.Step{Index: 3, Description: "Anything"}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, workflow.ErrCancelled, res.Error)
}

func TestGenericExecutor_EmptyTextIsFailure(t *testing.T) {
	llm := &stubLLM{result: planner.CompleteResult{Text: ""}}
	exec := executor.NewGenericExecutor(llm)

	res := exec.Execute(context.Background(), workflow.Step{Index: 4, Description: "Think quietly"}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, workflow.ErrLLMFailed, res.Error)
}
