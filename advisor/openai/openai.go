// Package openai provides an advisor backed by the OpenAI Chat Completions
// API. It issues single-shot, non-streaming completions; advisory commentary
// has no use for streaming or tool calling.
package openai

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentcoord/advisor"
	"github.com/openai/openai-go"
)

// Options configure the OpenAI advisor. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Advisor wraps the OpenAI Chat Completions API behind the advisor.Advisor
// interface.
type Advisor struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI advisor using the official client.
func New(optFns ...func(o *Options)) *Advisor {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI advisor from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Advisor {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Advisor{client: client, opts: opts}
}

// Explain implements advisor.Advisor with a non-streaming completion.
func (a *Advisor) Explain(ctx context.Context, req advisor.Context) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt())},
		Model:               a.opts.Model,
		Temperature:         openai.Float(a.opts.Temperature),
		MaxCompletionTokens: openai.Int(a.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
