// Package contextpipeline assembles the per-iteration enriched prompt from
// its six deterministic sections, enforces the adapter's token budget per
// section, and records per-component instrumentation.
package contextpipeline

import (
	"ralph/pkg/llm"
)

// Budget is the per-section token allocation derived from an adapter's
// context limit L:
//
//   - Runtime:      25% of L
//   - Ambient:      25% of L (instructions + skills + scratchpad + history)
//   - Prompt:       remainder, minimum 25% of L
//   - ResponseRes:  >= 10% of L, reserved and never included in the prompt
type Budget struct {
	Limit       int
	Runtime     int
	Ambient     int
	Prompt      int
	ResponseRes int
}

// NewBudget computes the section allocation for context limit L tokens.
func NewBudget(limit int) Budget {
	if limit <= 0 {
		limit = 1
	}
	runtime := limit * 25 / 100
	ambient := limit * 25 / 100
	responseRes := limit / 10
	if responseRes < limit*10/100 {
		responseRes = limit * 10 / 100
	}
	prompt := limit - runtime - ambient - responseRes
	minPrompt := limit / 4
	if prompt < minPrompt {
		prompt = minPrompt
	}
	return Budget{
		Limit:       limit,
		Runtime:     runtime,
		Ambient:     ambient,
		Prompt:      prompt,
		ResponseRes: responseRes,
	}
}

// AmbientSubBudgets splits the Ambient allocation evenly across the four
// sections that share it: instructions, skills, scratchpad, history. Each
// section is held to its own share; an under-filled section's slack is not
// passed on to the others.
func (b Budget) AmbientSubBudgets() (instructions, skills, scratchpad, history int) {
	quarter := b.Ambient / 4
	return quarter, quarter, quarter, b.Ambient - 3*quarter
}

// fitToBudget truncates s to approximately maxTokens using the shared
// byte-based heuristic, keeping the head of the string.
func fitToBudget(s string, maxTokens int) (out string, truncated bool) {
	if maxTokens <= 0 {
		return "", s != ""
	}
	if llm.EstimateTokens(s) <= maxTokens {
		return s, false
	}
	maxBytes := maxTokens * 4
	if maxBytes >= len(s) {
		return s, false
	}
	return s[:maxBytes], true
}

// tailToBudget truncates s to approximately maxTokens keeping the tail,
// used for the scratchpad's "tail-truncate" policy.
func tailToBudget(s string, maxTokens int) (out string, truncated bool) {
	if maxTokens <= 0 {
		return "", s != ""
	}
	if llm.EstimateTokens(s) <= maxTokens {
		return s, false
	}
	maxBytes := maxTokens * 4
	if maxBytes >= len(s) {
		return s, false
	}
	return s[len(s)-maxBytes:], true
}
