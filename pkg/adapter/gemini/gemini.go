// Package gemini adapts Google's Gemini API to the orchestrator's Adapter
// contract. It is the minimal-profile adapter: a small context window and no
// tool-use support, intended for cheap/fast iterations.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"ralph/pkg/adapter"
	"ralph/pkg/llm"
)

const defaultContextLimitTokens = 8_000

// Client is the Gemini-backed Adapter implementation.
type Client struct {
	sdk                *genai.Client
	model              string
	contextLimitTokens int
}

// New builds a Client against the Gemini API. ctx is only used for client
// construction, not retained.
func New(ctx context.Context, apiKey, model string, contextLimitTokens int) (*Client, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if contextLimitTokens <= 0 {
		contextLimitTokens = defaultContextLimitTokens
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	sdk, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}
	return &Client{sdk: sdk, model: model, contextLimitTokens: contextLimitTokens}, nil
}

func (c *Client) Name() string           { return "gemini" }
func (c *Client) ContextLimitTokens() int { return c.contextLimitTokens }
func (c *Client) SupportsStreaming() bool { return true }
func (c *Client) SupportsToolCalls() bool { return false }

// CountTokens falls back to the shared byte-based heuristic; Gemini's own
// CountTokens RPC costs a network round trip we don't want on the hot path
// of per-section budget estimation.
func (c *Client) CountTokens(text string) int {
	return llm.EstimateTokens(text)
}

func (c *Client) EnhancePrompt(prompt string, iteration int, skillbookExcerpt string) string {
	return adapter.DefaultEnhancePrompt(c.Name(), prompt, iteration, skillbookExcerpt)
}

func (c *Client) AExecute(ctx context.Context, prompt string, promptPath string, verbose bool) (adapter.Response, error) {
	start := time.Now()
	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	dur := time.Since(start).Seconds()
	if err != nil {
		return adapter.Response{}, fmt.Errorf("gemini transport: %w", err)
	}

	var out strings.Builder
	inputTokens, outputTokens := 0, 0
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			out.WriteString(part.Text)
		}
	}

	return adapter.Response{
		Success:         true,
		Output:          out.String(),
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		DurationSeconds: dur,
	}, nil
}
