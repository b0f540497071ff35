// Package anthropic provides a planner.Client implementation backed by the
// Anthropic Claude Messages API. It is the orchestrator's one concrete LLM
// adapter: the LLM client contract itself is an external collaborator, but
// something has to satisfy it for the orchestrator to run end to end.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/taskflow-run/orchestrator/planner"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter, letting tests substitute a stub for *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Client implements planner.Client on top of Anthropic Claude Messages.
	Client struct {
		msg       MessagesClient
		model     string
		maxTokens int
	}
)

// New builds a planner.Client from an Anthropic Messages client, a default
// model identifier, and a default max-tokens cap applied when a call does
// not specify one.
func New(msg MessagesClient, model string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// transport, reading connection defaults (base URL, retry policy) from the
// SDK's own environment handling.
func NewFromAPIKey(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, model, maxTokens)
}

// Complete implements planner.Client. It issues a non-streaming
// Messages.New request and translates the text content blocks into a
// CompleteResult. Tool-use content blocks are not translated, so ToolCall
// is never set; the Tool Executor's resolution step also accepts the tool
// name and arguments as a JSON object in the text reply.
func (c *Client) Complete(ctx context.Context, messages []planner.Message, opts planner.CompleteOptions) (planner.CompleteResult, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return planner.CompleteResult{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return planner.CompleteResult{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return planner.CompleteResult{Text: text}, nil
}

func (c *Client) buildParams(messages []planner.Message, opts planner.CompleteOptions) (sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	maxTokens := int64(c.maxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	var system string
	var turns []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			turns = append(turns, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			turns = append(turns, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	return params, nil
}
