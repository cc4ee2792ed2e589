// Package openai adapts the OpenAI chat completions API to resolve.Completer.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/linnemanlabs/leadwatch/internal/resolve"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Client implements resolve.Completer with chat completions.
type Client struct {
	sdk   openai.Client
	model string
}

// New creates an OpenAI client. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:   openai.NewClient(all...),
		model: model,
	}
}

// Complete returns the first choice's message text.
func (c *Client) Complete(ctx context.Context, req *resolve.CompletionRequest) (string, error) {
	resp, err := c.sdk.Chat.Completions.New(ctx, toParams(c.model, req))
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func toParams(model string, req *resolve.CompletionRequest) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	}
}
