// Package openai adapts OpenAI's Chat Completions API to the orchestrator's
// Adapter contract. It is the mid-tier adapter (~32,000-token window by
// default configuration).
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	tiktoken "github.com/pkoukk/tiktoken-go"

	"ralph/pkg/adapter"
	"ralph/pkg/llm"
)

const defaultContextLimitTokens = 32_000

// Client is the OpenAI-backed Adapter implementation.
type Client struct {
	sdk                sdk.Client
	model              string
	contextLimitTokens int
	enc                *tiktoken.Tiktoken
}

// New builds a Client against the OpenAI Chat Completions API.
func New(apiKey, baseURL, model string, contextLimitTokens int) *Client {
	opts := []option.RequestOption{}
	if strings.TrimSpace(apiKey) != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if contextLimitTokens <= 0 {
		contextLimitTokens = defaultContextLimitTokens
	}
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Client{
		sdk:                sdk.NewClient(opts...),
		model:              model,
		contextLimitTokens: contextLimitTokens,
		enc:                enc,
	}
}

func (c *Client) Name() string           { return "openai" }
func (c *Client) ContextLimitTokens() int { return c.contextLimitTokens }
func (c *Client) SupportsStreaming() bool { return true }
func (c *Client) SupportsToolCalls() bool { return true }

// CountTokens uses tiktoken-go's cl100k_base encoding, falling back to the
// byte-based heuristic when that encoding table failed to load.
func (c *Client) CountTokens(text string) int {
	if c.enc == nil {
		return llm.EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *Client) EnhancePrompt(prompt string, iteration int, skillbookExcerpt string) string {
	return adapter.DefaultEnhancePrompt(c.Name(), prompt, iteration, skillbookExcerpt)
}

func (c *Client) AExecute(ctx context.Context, prompt string, promptPath string, verbose bool) (adapter.Response, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
	}

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start).Seconds()
	if err != nil {
		return adapter.Response{}, fmt.Errorf("openai transport: %w", err)
	}
	if len(comp.Choices) == 0 {
		return adapter.Response{Success: false, Error: "openai returned no choices"}, nil
	}

	return adapter.Response{
		Success:         true,
		Output:          comp.Choices[0].Message.Content,
		InputTokens:     int(comp.Usage.PromptTokens),
		OutputTokens:    int(comp.Usage.CompletionTokens),
		DurationSeconds: dur,
	}, nil
}
