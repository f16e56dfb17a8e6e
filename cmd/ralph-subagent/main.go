// Command ralph-subagent is the process the orchestrator's Coordinator
// spawns once per delegated profile. It reads its task off stdin, does the
// profile's work (optionally fetching a web page for the researcher
// profile), and writes its verdict to results/<type>.json in the
// coordination directory the parent points it at.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"ralph/pkg/envcreds"
	"ralph/pkg/obs"
	"ralph/pkg/subagent"
	"ralph/pkg/wiring"
)

const responseSchema = `Respond with a single JSON object and nothing else, matching exactly:
{"verdict": "pass" | "fail" | "uncertain", "summary": string, "error_detail": string}`

var urlPattern = regexp.MustCompile(`https?://\S+`)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("ralph-subagent")
		os.Exit(1)
	}
}

func run() error {
	obs.InitLogger("", "info")

	subagentType := os.Getenv("RALPH_SUBAGENT_TYPE")
	coordDir := os.Getenv("RALPH_COORD_DIR")
	if subagentType == "" || coordDir == "" {
		return fmt.Errorf("RALPH_SUBAGENT_TYPE and RALPH_COORD_DIR must be set by the spawning coordinator")
	}
	adapterName := envOr("RALPH_SUBAGENT_ADAPTER", "anthropic")

	taskBytes, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read task from stdin: %w", err)
	}
	task := string(taskBytes)

	ctx := context.Background()
	registry, err := wiring.BuildAdapterRegistry(envcreds.Load())
	if err != nil {
		return fmt.Errorf("build adapter registry: %w", err)
	}
	a, ok := registry.Get(adapterName)
	if !ok {
		return fmt.Errorf("adapter %q not registered", adapterName)
	}

	prompt := task
	if subagentType == "researcher" {
		if target := urlPattern.FindString(task); target != "" {
			if fetched, err := subagent.WebFetch(ctx, target); err != nil {
				log.Warn().Err(err).Str("url", target).Msg("web_fetch_failed")
			} else {
				prompt += fmt.Sprintf("\n\nFetched page %q (%s):\n%s", fetched.Title, fetched.URL, truncate(fetched.Content, 6000))
			}
		}
	}
	prompt += "\n\n" + responseSchema

	resp, err := a.AExecute(ctx, prompt, "", false)
	result := subagent.SubagentResult{Type: subagentType}
	switch {
	case err != nil:
		result.Verdict = subagent.VerdictFail
		result.ErrorDetail = err.Error()
	case !resp.Success:
		result.Verdict = subagent.VerdictFail
		result.ErrorDetail = resp.Error
	default:
		parsed, perr := parseVerdict(resp.Output)
		if perr != nil {
			result.Verdict = subagent.VerdictUncertain
			result.Summary = truncate(resp.Output, 500)
			result.ErrorDetail = "unparseable subagent response: " + perr.Error()
		} else {
			result = parsed
			result.Type = subagentType
		}
	}

	return writeResult(coordDir, subagentType, result)
}

func parseVerdict(output string) (subagent.SubagentResult, error) {
	start := strings.IndexByte(output, '{')
	end := strings.LastIndexByte(output, '}')
	if start < 0 || end < start {
		return subagent.SubagentResult{}, fmt.Errorf("no JSON object found in response")
	}
	var result subagent.SubagentResult
	if err := json.Unmarshal([]byte(output[start:end+1]), &result); err != nil {
		return subagent.SubagentResult{}, err
	}
	return result, nil
}

func writeResult(coordDir, subagentType string, result subagent.SubagentResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	resultsDir := filepath.Join(coordDir, "results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("mkdir results dir: %w", err)
	}
	path := filepath.Join(resultsDir, subagentType+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
