package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralph/pkg/adapter"
	"ralph/pkg/skillbook"
	"ralph/pkg/subagent"
)

// fakeAdapter is a scriptable adapter.Adapter for engine tests.
type fakeAdapter struct {
	name      string
	responses []adapter.Response
	errs      []error
	calls     int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) AExecute(ctx context.Context, prompt, promptPath string, verbose bool) (adapter.Response, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.responses[i], err
}

func (f *fakeAdapter) ContextLimitTokens() int                   { return 200_000 }
func (f *fakeAdapter) SupportsStreaming() bool                   { return false }
func (f *fakeAdapter) SupportsToolCalls() bool                   { return false }
func (f *fakeAdapter) CountTokens(text string) int               { return len(text) / 4 }
func (f *fakeAdapter) EnhancePrompt(prompt string, iteration int, skills string) string {
	return adapter.DefaultEnhancePrompt(f.name, prompt, iteration, skills)
}

func newTestEngine(t *testing.T, a *fakeAdapter, cfg RalphConfig) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("- [ ] do the thing\n"), 0o644))

	cfg.AgentDir = filepath.Join(dir, "agent")
	cfg.PromptPath = promptPath
	cfg.AdapterName = a.name

	registry := adapter.NewRegistry()
	registry.Register(a.name, a)

	eng, err := New(cfg, registry, nil, nil, nil)
	require.NoError(t, err)
	return eng, dir
}

func TestRunCompletesOnTaskCompleteMarker(t *testing.T) {
	a := &fakeAdapter{name: "fake", responses: []adapter.Response{
		{Success: true, Output: "done\n- [x] TASK_COMPLETE", InputTokens: 10, OutputTokens: 5},
	}}
	eng, _ := newTestEngine(t, a, RalphConfig{MaxIterations: 5})

	outcome, metrics, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, metrics.IterationsAttempted)
	assert.Equal(t, 1, metrics.IterationsCompleted)
}

func TestRunExhaustsIterationsWithoutCompletion(t *testing.T) {
	a := &fakeAdapter{name: "fake", responses: []adapter.Response{
		{Success: true, Output: "still working"},
	}}
	eng, _ := newTestEngine(t, a, RalphConfig{MaxIterations: 3})

	outcome, metrics, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhaustedIterations, outcome)
	assert.Equal(t, 3, metrics.IterationsAttempted)
}

func TestRunAbortsAfterConsecutiveFailures(t *testing.T) {
	a := &fakeAdapter{
		name: "fake",
		responses: []adapter.Response{
			{Success: false, Error: "bad"},
		},
	}
	eng, _ := newTestEngine(t, a, RalphConfig{MaxIterations: 10, FailureCap: 2})

	outcome, metrics, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFatalError, outcome)
	assert.Equal(t, 2, metrics.FailuresConsecutive)
	assert.GreaterOrEqual(t, metrics.IterationsFailed, 2)
}

func TestRunFatalOnMissingPromptFile(t *testing.T) {
	a := &fakeAdapter{name: "fake", responses: []adapter.Response{{Success: true}}}
	dir := t.TempDir()
	cfg := RalphConfig{
		AgentDir:      filepath.Join(dir, "agent"),
		PromptPath:    filepath.Join(dir, "missing.md"),
		AdapterName:   a.name,
		MaxIterations: 3,
	}
	registry := adapter.NewRegistry()
	registry.Register(a.name, a)
	eng, err := New(cfg, registry, nil, nil, nil)
	require.NoError(t, err)

	outcome, _, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFatalError, outcome)
}

func TestRunTriggersRollbackOnFailureAfterCheckpoint(t *testing.T) {
	a := &fakeAdapter{
		name: "fake",
		responses: []adapter.Response{
			{Success: true, Output: "iter1 ok"},
			{Success: true, Output: "iter2 ok"},
			{Success: true, Output: "iter3 ok"},
			{Success: false, Error: "regression"},
			{Success: true, Output: "iter5 ok"},
		},
	}
	reflectCalls := 0
	reflector := skillbook.ReflectorFunc(func(ctx context.Context, req skillbook.ReflectorRequest) (skillbook.ReflectorResponse, error) {
		reflectCalls++
		return skillbook.ReflectorResponse{}, nil
	})

	dir := t.TempDir()
	promptPath := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("- [ ] do the thing\n"), 0o644))
	agentDir := filepath.Join(dir, "agent")

	store := skillbook.NewStore(filepath.Join(agentDir, "skillbook", "skillbook.json"))
	cache := skillbook.NewCache()
	worker := skillbook.NewWorker(skillbook.WorkerConfig{WorkerTimeout: time.Second}, reflector, store, cache)

	cfg := RalphConfig{
		AgentDir:           agentDir,
		PromptPath:         promptPath,
		AdapterName:        a.name,
		MaxIterations:      10,
		FailureCap:         5,
		CheckpointInterval: 1,
		EnableLearning:     true,
	}
	registry := adapter.NewRegistry()
	registry.Register(a.name, a)

	require.NoError(t, worker.Load(agentDir, time.Now()))
	worker.Start(context.Background())

	eng, err := New(cfg, registry, worker, nil, nil)
	require.NoError(t, err)

	outcome, metrics, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhaustedIterations, outcome)
	assert.Equal(t, 1, metrics.RollbackCount)
}

func TestRunDryRunNeverCallsAdapter(t *testing.T) {
	a := &fakeAdapter{name: "fake", responses: []adapter.Response{{Success: true}}}
	eng, _ := newTestEngine(t, a, RalphConfig{MaxIterations: 2, DryRun: true})

	outcome, metrics, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhaustedIterations, outcome)
	assert.Equal(t, 0, a.calls)
	assert.Equal(t, 2, metrics.IterationsCompleted)
}

func TestRunCancelledByContext(t *testing.T) {
	a := &fakeAdapter{name: "fake", responses: []adapter.Response{{Success: true, Output: "ok"}}}
	eng, _ := newTestEngine(t, a, RalphConfig{MaxIterations: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, _, err := eng.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)
}

func TestRunOrchestrationUsesCoordinatorVerdict(t *testing.T) {
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("investigate why the test is failing\n"), 0o644))

	coordDir := filepath.Join(dir, "coord")
	coord := subagent.NewCoordinator(coordDir, 300*time.Second)
	profiles := subagent.DefaultProfiles()

	a := &fakeAdapter{name: "fake", responses: []adapter.Response{{Success: true}}}
	cfg := RalphConfig{
		AgentDir:            filepath.Join(dir, "agent"),
		PromptPath:          promptPath,
		AdapterName:         a.name,
		MaxIterations:       1,
		EnableOrchestration: true,
	}
	registry := adapter.NewRegistry()
	registry.Register(a.name, a)

	eng, err := New(cfg, registry, nil, coord, profiles)
	require.NoError(t, err)

	// The coordinator will spawn a real subprocess per profile; with no
	// binary configured this synthesizes a fail verdict, which the engine
	// must treat as a failed (non-rollback-eligible, no prior checkpoint)
	// iteration rather than panicking.
	outcome, metrics, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhaustedIterations, outcome)
	assert.GreaterOrEqual(t, metrics.IterationsFailed, 1)
}
