package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ralph/pkg/obs"
)

// Verdict is a subagent's pass/fail/uncertain conclusion.
type Verdict string

const (
	VerdictPass      Verdict = "pass"
	VerdictFail      Verdict = "fail"
	VerdictUncertain Verdict = "uncertain"
)

// SubagentResult is the parsed content of <coord-dir>/results/<type>.json.
type SubagentResult struct {
	Type        string  `json:"type"`
	Verdict     Verdict `json:"verdict"`
	Summary     string  `json:"summary"`
	ErrorDetail string  `json:"error_detail,omitempty"`
}

// State is the coordinator's current position in its state machine.
type State string

const (
	StateIdle       State = "IDLE"
	StatePrepared   State = "PREPARED"
	StateSpawned    State = "SPAWNED"
	StateAggregated State = "AGGREGATED"
)

const minSubagentTimeout = 300 * time.Second

// Coordinator drives one iteration's subagent delegation: IDLE → PREPARED →
// SPAWNED → AGGREGATED → IDLE. All transitions are single-threaded; a
// Coordinator must not be shared across concurrent iterations.
type Coordinator struct {
	CoordDir string
	Timeout  time.Duration

	state State
}

// NewCoordinator binds a Coordinator to its coordination directory.
func NewCoordinator(coordDir string, timeout time.Duration) *Coordinator {
	if timeout < minSubagentTimeout {
		timeout = minSubagentTimeout
	}
	return &Coordinator{CoordDir: coordDir, Timeout: timeout, state: StateIdle}
}

// State reports the coordinator's current state machine position.
func (c *Coordinator) State() State { return c.state }

// Prepare writes the shared context once and clears the results directory,
// transitioning IDLE → PREPARED.
func (c *Coordinator) Prepare(sharedContext string) error {
	if err := os.MkdirAll(c.CoordDir, 0o755); err != nil {
		return fmt.Errorf("subagent: mkdir coord dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.CoordDir, "shared-context.md"), []byte(sharedContext), 0o644); err != nil {
		return fmt.Errorf("subagent: write shared context: %w", err)
	}

	resultsDir := filepath.Join(c.CoordDir, "results")
	if err := os.RemoveAll(resultsDir); err != nil {
		return fmt.Errorf("subagent: clear results dir: %w", err)
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("subagent: recreate results dir: %w", err)
	}

	c.state = StatePrepared
	return nil
}

// Spawn launches the selected profiles concurrently (bounded by the single
// active iteration invariant: one Coordinator instance per iteration),
// waits for each, and collects SubagentResult entries — synthesizing a fail
// verdict for any subagent that times out or exits non-zero.
// Transitions PREPARED → SPAWNED → AGGREGATED.
func (c *Coordinator) Spawn(ctx context.Context, profiles []SubagentProfile, prompts map[string]string) ([]SubagentResult, error) {
	if c.state != StatePrepared {
		return nil, fmt.Errorf("subagent: Spawn called outside PREPARED state (got %s)", c.state)
	}
	c.state = StateSpawned

	results := make([]SubagentResult, len(profiles))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range profiles {
		i, p := i, p
		g.Go(func() error {
			results[i] = c.spawnOne(gctx, p, prompts[p.Type])
			return nil
		})
	}
	_ = g.Wait() // spawnOne never returns an error; failures become fail verdicts

	c.state = StateAggregated
	return results, nil
}

func (c *Coordinator) spawnOne(ctx context.Context, profile SubagentProfile, prompt string) SubagentResult {
	log := obs.WithTrace(ctx)

	timeoutCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, profile.Binary, profile.Args...)
	cmd.Dir = c.CoordDir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = append(os.Environ(), "RALPH_SUBAGENT_TYPE="+profile.Type, "RALPH_COORD_DIR="+c.CoordDir)

	out, err := cmd.CombinedOutput()
	resultPath := filepath.Join(c.CoordDir, "results", profile.Type+".json")

	if err != nil {
		log.Warn().Err(err).Str("subagent", profile.Type).Bytes("output", truncateOutput(out)).Msg("subagent_spawn_failed")
		return SubagentResult{Type: profile.Type, Verdict: VerdictFail, ErrorDetail: spawnErrorDetail(timeoutCtx, err)}
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		log.Warn().Err(err).Str("subagent", profile.Type).Msg("subagent_result_file_missing")
		return SubagentResult{Type: profile.Type, Verdict: VerdictFail, ErrorDetail: "result file missing: " + err.Error()}
	}

	var res SubagentResult
	if err := json.Unmarshal(data, &res); err != nil {
		log.Warn().Err(err).Str("subagent", profile.Type).Msg("subagent_result_unparseable")
		return SubagentResult{Type: profile.Type, Verdict: VerdictFail, ErrorDetail: "result file unparseable: " + err.Error()}
	}
	res.Type = profile.Type
	return res
}

func spawnErrorDetail(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("exit code %d", exitErr.ExitCode())
	}
	return err.Error()
}

func truncateOutput(b []byte) []byte {
	const limit = 2000
	if len(b) <= limit {
		return b
	}
	return b[:limit]
}

// Aggregate derives the iteration verdict: pass iff every result is pass,
// fail if any is fail, otherwise uncertain.
func Aggregate(results []SubagentResult) Verdict {
	if len(results) == 0 {
		return VerdictUncertain
	}
	sawFail, sawNonPass := false, false
	for _, r := range results {
		switch r.Verdict {
		case VerdictFail:
			sawFail = true
		case VerdictPass:
		default:
			sawNonPass = true
		}
	}
	switch {
	case sawFail:
		return VerdictFail
	case sawNonPass:
		return VerdictUncertain
	default:
		return VerdictPass
	}
}

// AppendJournal appends one summary line per attempt to attempt-journal.md
// and resets the coordinator to IDLE.
func (c *Coordinator) AppendJournal(iteration int, results []SubagentResult, now time.Time) error {
	f, err := os.OpenFile(filepath.Join(c.CoordDir, "attempt-journal.md"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("subagent: open journal: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "## iteration %d (%s)\n", iteration, now.UTC().Format(time.RFC3339))
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s", r.Type, r.Verdict)
		if r.Summary != "" {
			fmt.Fprintf(&b, " — %s", r.Summary)
		}
		if r.ErrorDetail != "" {
			fmt.Fprintf(&b, " (%s)", r.ErrorDetail)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "overall: %s\n\n", Aggregate(results))

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("subagent: write journal: %w", err)
	}

	c.state = StateIdle
	return nil
}
