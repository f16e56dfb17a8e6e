// Package anthropic adapts Anthropic's Messages API to the orchestrator's
// Adapter contract. It is the first-tier adapter: a 200,000-token window
// with tool-use and streaming support.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ralph/pkg/adapter"
	"ralph/pkg/llm"
)

const (
	contextLimitTokens = 200_000
	defaultMaxTokens   = int64(4096)
)

// Client is the Anthropic-backed Adapter implementation.
type Client struct {
	sdk       anthropicsdk.Client
	model     string
	maxTokens int64
}

// New builds a Client. apiKey/baseURL empty values fall back to SDK
// defaults (environment-derived API key, production base URL).
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{}
	if strings.TrimSpace(apiKey) != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if strings.TrimSpace(model) == "" {
		model = string(anthropicsdk.ModelClaude3_7SonnetLatest)
	}
	return &Client{
		sdk:       anthropicsdk.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

func (c *Client) Name() string               { return "anthropic" }
func (c *Client) ContextLimitTokens() int     { return contextLimitTokens }
func (c *Client) SupportsStreaming() bool     { return true }
func (c *Client) SupportsToolCalls() bool     { return true }

func (c *Client) CountTokens(text string) int {
	return llm.EstimateTokens(text)
}

func (c *Client) EnhancePrompt(prompt string, iteration int, skillbookExcerpt string) string {
	return adapter.DefaultEnhancePrompt(c.Name(), prompt, iteration, skillbookExcerpt)
}

// AExecute sends the already-enriched prompt as a single user message. Ralph
// iterations are stateless at the adapter boundary: conversation state lives
// in the prompt file and the Context Pipeline, not in adapter-held history.
func (c *Client) AExecute(ctx context.Context, prompt string, promptPath string, verbose bool) (adapter.Response, error) {
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start).Seconds()
	if err != nil {
		return adapter.Response{}, fmt.Errorf("anthropic transport: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if tb := block.AsAny(); tb != nil {
			if txt, ok := tb.(anthropicsdk.TextBlock); ok {
				out.WriteString(txt.Text)
			}
		}
	}

	return adapter.Response{
		Success:         true,
		Output:          out.String(),
		InputTokens:     int(resp.Usage.InputTokens),
		OutputTokens:    int(resp.Usage.OutputTokens),
		DurationSeconds: dur,
	}, nil
}
