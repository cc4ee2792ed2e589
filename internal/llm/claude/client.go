// Package claude adapts the Anthropic Messages API to resolve.Completer.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/leadwatch/internal/resolve"
)

// Client implements resolve.Completer for the Claude API.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a Claude client for the given API key and model name. Extra
// request options are passed through to the SDK (base URL, HTTP client,
// retries).
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:   anthropic.NewClient(all...),
		model: model,
	}
}

// Complete sends a single-turn message and returns the concatenated text
// of the reply.
func (c *Client) Complete(ctx context.Context, req *resolve.CompletionRequest) (string, error) {
	msg, err := c.sdk.Messages.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKResponse(msg), nil
}

func toSDKParams(model string, req *resolve.CompletionRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func fromSDKResponse(msg *anthropic.Message) string {
	var b strings.Builder
	for i := range msg.Content {
		if msg.Content[i].Type == "text" {
			b.WriteString(msg.Content[i].Text)
		}
	}
	return b.String()
}
