package subagent

import (
	"context"
	"fmt"
	"strings"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"ralph/pkg/obs"
)

// MCPPool holds connected MCP client sessions keyed by server name, the way
// a subagent's prompt resolves "available MCP-style tool definitions"
// against live servers rather than static placeholders.
type MCPPool struct {
	sessions map[string]*mcppkg.ClientSession
	disabled map[string]struct{}
}

// NewMCPPool builds an empty pool. disabled names never resolve, regardless
// of whether a session exists for them.
func NewMCPPool(disabled []string) *MCPPool {
	d := make(map[string]struct{}, len(disabled))
	for _, n := range disabled {
		d[n] = struct{}{}
	}
	return &MCPPool{sessions: make(map[string]*mcppkg.ClientSession), disabled: d}
}

// Connect adds a session for name, replacing any prior session of the same
// name (closing it first).
func (p *MCPPool) Connect(name string, session *mcppkg.ClientSession) {
	if old, ok := p.sessions[name]; ok {
		_ = old.Close()
	}
	p.sessions[name] = session
}

// Close closes every connected session.
func (p *MCPPool) Close() {
	for _, s := range p.sessions {
		_ = s.Close()
	}
}

// ToolDefinition is a filtered, renderable MCP tool schema.
type ToolDefinition struct {
	Server      string
	Name        string
	Description string
}

// ResolveTools fetches tool definitions for the named servers (required ∪
// optional), skipping any server that is disabled or unreachable — a
// missing MCP never blocks spawning, it simply narrows the tool list.
func (p *MCPPool) ResolveTools(ctx context.Context, required, optional []string) []ToolDefinition {
	log := obs.WithTrace(ctx)
	var out []ToolDefinition

	for _, name := range append(append([]string{}, required...), optional...) {
		if _, blocked := p.disabled[name]; blocked {
			continue
		}
		session, ok := p.sessions[name]
		if !ok || session == nil {
			continue
		}
		for tool, err := range session.Tools(ctx, nil) {
			if err != nil {
				log.Debug().Err(err).Str("mcp_server", name).Msg("subagent_mcp_list_tools_failed")
				break
			}
			out = append(out, ToolDefinition{Server: name, Name: tool.Name, Description: tool.Description})
		}
	}
	return out
}

// RenderToolDefinitions formats tool definitions for substitution into a
// subagent prompt template's {{tools}} placeholder.
func RenderToolDefinitions(defs []ToolDefinition) string {
	if len(defs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s_%s: %s\n", d.Server, d.Name, d.Description)
	}
	return b.String()
}
