package planner

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxSteps is the default cap on the number of steps Decompose will
// return, used when the caller does not specify its own planner.max_steps.
const DefaultMaxSteps = 20

// Error kinds returned by Decompose. The Workflow Engine maps both to a
// workflow.ErrorKind via errors.Is; both are fatal to the workflow.
var (
	// ErrLLMFailed indicates the LLM call errored beyond the client's own
	// retry budget.
	ErrLLMFailed = errors.New("planner: llm call failed")
	// ErrEmptyPlan indicates the LLM returned zero usable steps.
	ErrEmptyPlan = errors.New("planner: llm returned an empty plan")
)

// Planner decomposes a free-form task description into an ordered list of
// step descriptions by consulting an LLM client. Planners do not classify
// steps; that is the Workflow Engine's job once the plan is returned.
type Planner struct {
	client Client
}

// New constructs a Planner backed by the given LLM client.
func New(client Client) *Planner {
	return &Planner{client: client}
}

// Decompose builds a planning prompt, invokes the LLM client, parses the
// response into an ordered step list, and validates it. maxSteps <= 0 falls
// back to DefaultMaxSteps. hints are opaque caller-supplied planning
// guidance folded into the prompt as additional context.
func (p *Planner) Decompose(ctx context.Context, initialTask string, maxSteps int, hints map[string]any) ([]string, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	messages := buildPlanningPrompt(initialTask, maxSteps, hints)
	result, err := p.client.Complete(ctx, messages, CompleteOptions{MaxTokens: 1024, Temperature: 0.2})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}
	steps := ParseSteps(result.Text)
	if len(steps) == 0 {
		return nil, ErrEmptyPlan
	}
	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	validated := make([]string, 0, len(steps))
	for _, s := range steps {
		if s == "" {
			continue
		}
		validated = append(validated, s)
	}
	if len(validated) == 0 {
		return nil, ErrEmptyPlan
	}
	return validated, nil
}

func buildPlanningPrompt(task string, maxSteps int, hints map[string]any) []Message {
	system := fmt.Sprintf(
		"You are a task planner. Decompose the user's task into at most %d "+
			"atomic steps. Each step must be a single declarative sentence "+
			"describing one unit of work, in the order it should execute. "+
			"Reply with only the numbered list, no preamble and no closing "+
			"remarks.",
		maxSteps,
	)
	user := task
	if len(hints) > 0 {
		user = fmt.Sprintf("%s\n\nPlanning hints: %v", task, hints)
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
