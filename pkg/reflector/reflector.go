// Package reflector adapts any adapter.Adapter into a skillbook.Reflector,
// prompting for the strict new/updated/discard-skills JSON schema the
// learning worker requires and parsing the model's raw text response.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ralph/pkg/adapter"
	"ralph/pkg/ralpherr"
	"ralph/pkg/skillbook"
)

const systemTemplate = `You are the reflection component of a learning subsystem. Given one
completed task attempt, decide what durable lessons (skills) should be
recorded so future attempts benefit.

Respond with a single JSON object and nothing else, matching exactly:
{
  "new_skills": [{"title": string, "body": string, "tags": [string]}],
  "updated_skills": [{"id": string, "body": string}],
  "discard_skills": [string]
}

Only propose updated_skills/discard_skills entries whose id appears in
existing_skill_titles below. Prefer zero new skills over a vague one.

Request:
%s`

// Client implements skillbook.Reflector over an adapter.Adapter.
type Client struct {
	adapter adapter.Adapter
}

// New binds a reflection-capable adapter.
func New(a adapter.Adapter) *Client {
	return &Client{adapter: a}
}

// Reflect satisfies skillbook.Reflector.
func (c *Client) Reflect(ctx context.Context, req skillbook.ReflectorRequest) (skillbook.ReflectorResponse, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return skillbook.ReflectorResponse{}, fmt.Errorf("%w: marshal reflector request: %v", ralpherr.ErrSchema, err)
	}

	prompt := fmt.Sprintf(systemTemplate, string(payload))
	resp, err := c.adapter.AExecute(ctx, prompt, "", false)
	if err != nil {
		return skillbook.ReflectorResponse{}, fmt.Errorf("%w: %v", ralpherr.ErrTransport, err)
	}
	if !resp.Success {
		return skillbook.ReflectorResponse{}, fmt.Errorf("%w: reflector adapter reported failure: %s", ralpherr.ErrSemantic, resp.Error)
	}

	var out skillbook.ReflectorResponse
	if err := json.Unmarshal(extractJSONObject(resp.Output), &out); err != nil {
		return skillbook.ReflectorResponse{}, fmt.Errorf("%w: parse reflector response: %v", ralpherr.ErrSchema, err)
	}
	return out, nil
}

// extractJSONObject returns the first balanced {...} substring in s, since
// adapters may wrap the JSON in prose or a markdown fence despite
// instructions not to.
func extractJSONObject(s string) []byte {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return []byte(s)
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(s[start : i+1])
			}
		}
	}
	return []byte(s[start:])
}
