// Package adapter defines the uniform contract over LLM execution backends
// (the "Adapter Abstraction") so the iteration engine can swap and combine
// them deterministically.
package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ralph/pkg/llm"
)

// Response is the normalized result of one adapter call. Success=false means
// the adapter completed the round trip but the backend reported a failure;
// a non-nil error from AExecute signals a transport failure instead.
type Response struct {
	Success         bool
	Output          string
	InputTokens     int
	OutputTokens    int
	DurationSeconds float64
	ToolCalls       []llm.ToolCall
	Error           string
}

// Adapter is the capability set every LLM execution backend must expose.
type Adapter interface {
	Name() string
	AExecute(ctx context.Context, prompt string, promptPath string, verbose bool) (Response, error)
	ContextLimitTokens() int
	SupportsStreaming() bool
	SupportsToolCalls() bool
	CountTokens(text string) int
	// EnhancePrompt applies the adapter's own instruction-format preferences
	// on top of the Context Pipeline's enriched prompt. The default
	// implementation (DefaultEnhancePrompt) is a templated header followed
	// by the raw prompt; adapters may override while preserving semantic
	// content.
	EnhancePrompt(prompt string, iteration int, skillbookExcerpt string) string
}

// DefaultEnhancePrompt implements the default templated-header behavior
// shared by adapters that do not need a bespoke instruction format.
func DefaultEnhancePrompt(name, prompt string, iteration int, skillbookExcerpt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- SECTION: ADAPTER(%s) iteration=%d -->\n", name, iteration)
	if strings.TrimSpace(skillbookExcerpt) != "" {
		b.WriteString(skillbookExcerpt)
		b.WriteString("\n")
	}
	b.WriteString(prompt)
	return b.String()
}

// Registry resolves adapters by configured name. Unknown names fail at
// startup per the Selection contract. All methods are guarded by an
// RWMutex, so registration and lookup are safe to call concurrently.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string // fallback order, first entry is primary
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds name to an Adapter instance. The first registered adapter
// becomes the default fallback head unless SetFallbackOrder is called.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
}

// SetFallbackOrder overrides the order adapters are consulted on transport
// failure. Names not present in the registry are ignored.
func (r *Registry) SetFallbackOrder(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := r.adapters[n]; ok {
			filtered = append(filtered, n)
		}
	}
	if len(filtered) > 0 {
		r.order = filtered
	}
}

// Get resolves an adapter by name. ok is false for unknown names, which the
// engine must treat as FatalConfig at startup.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// FallbackChain returns the configured fallback order starting at primary,
// for transport-failure retries only (never consulted on semantic failure).
func (r *Registry) FallbackChain(primary string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order)+1)
	seen := make(map[string]bool)
	if a, ok := r.adapters[primary]; ok {
		out = append(out, a)
		seen[primary] = true
	}
	for _, n := range r.order {
		if seen[n] {
			continue
		}
		if a, ok := r.adapters[n]; ok {
			out = append(out, a)
			seen[n] = true
		}
	}
	return out
}

// Len reports how many adapters are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
