// Package planner decomposes a free-form task into an ordered plan by
// consulting an LLM client. The LLM client itself is an external
// collaborator; this package only defines the contract it must satisfy and
// the decomposition algorithm built on top of it.
package planner

import "context"

type (
	// Message is one turn of a conversation passed to an LLM client.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// CompleteOptions carries per-call knobs recognized by LLM clients.
	// TimeoutMS, when zero, lets the client apply its own default deadline;
	// callers may also enforce a timeout of their own around Complete.
	CompleteOptions struct {
		MaxTokens      int     `json:"max_tokens,omitempty"`
		Temperature    float64 `json:"temperature,omitempty"`
		TimeoutMS      int     `json:"timeout_ms,omitempty"`
		ResponseFormat string  `json:"response_format,omitempty"`
	}

	// ToolCall describes a structured tool invocation request returned by
	// the LLM instead of free text.
	ToolCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	// CompleteResult is returned by a single LLM call. Exactly one of Text
	// or ToolCall is populated.
	CompleteResult struct {
		Text     string    `json:"text,omitempty"`
		ToolCall *ToolCall `json:"tool_call,omitempty"`
	}

	// Client is the LLM client contract consumed by the Planner, the
	// Generic Executor, and the Tool Executor's resolution step. A single
	// call either returns a result or fails with an error; retry and
	// provider fallback, if any, are the client's own concern and are not
	// visible to callers in this package.
	Client interface {
		Complete(ctx context.Context, messages []Message, opts CompleteOptions) (CompleteResult, error)
	}
)
