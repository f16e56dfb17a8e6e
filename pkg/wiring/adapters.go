// Package wiring builds the shared adapter.Registry both the engine CLI and
// the subagent worker binary need, from the same environment credentials.
package wiring

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"ralph/pkg/adapter"
	"ralph/pkg/adapter/anthropic"
	"ralph/pkg/adapter/claudecode"
	"ralph/pkg/adapter/gemini"
	"ralph/pkg/adapter/openai"
	"ralph/pkg/envcreds"
)

// BuildAdapterRegistry registers one adapter per configured credential plus
// the always-available cooperative subprocess adapter, and sets the
// fallback order the engine consults on transport failure.
func BuildAdapterRegistry(creds envcreds.Credentials) (*adapter.Registry, error) {
	registry := adapter.NewRegistry()

	if envcreds.IsSet(creds.AnthropicAPIKey) {
		registry.Register("anthropic", anthropic.New(creds.AnthropicAPIKey, "", ""))
	}
	if envcreds.IsSet(creds.OpenAIAPIKey) {
		registry.Register("openai", openai.New(creds.OpenAIAPIKey, "", "", 0))
	}
	if envcreds.IsSet(creds.GeminiAPIKey) {
		client, err := gemini.New(context.Background(), creds.GeminiAPIKey, "", 0)
		if err != nil {
			log.Warn().Err(err).Msg("gemini adapter init failed, continuing without it")
		} else {
			registry.Register("gemini", client)
		}
	}
	registry.Register("claudecode", claudecode.New("claude", []string{"--print", "--output-format", "json"}, 0, 0))

	registry.SetFallbackOrder([]string{"anthropic", "openai", "gemini", "claudecode"})

	if registry.Len() == 0 {
		return nil, fmt.Errorf("no adapter credentials configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY)")
	}
	return registry, nil
}
