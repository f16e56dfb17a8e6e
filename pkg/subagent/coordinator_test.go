package subagent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutePriorityOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "analyst", Route("please debug this crash"))
	assert.Equal(t, "validator", Route("verify the output is correct"))
	assert.Equal(t, "researcher", Route("research the best library for this"))
	assert.Equal(t, "implementer", Route("add a retry loop"))
	// analyst keyword takes priority even if a validator keyword also appears
	assert.Equal(t, "analyst", Route("investigate why the test is failing"))
}

func TestRenderPromptSubstitutesPlaceholders(t *testing.T) {
	t.Parallel()
	p := SubagentProfile{PromptTemplate: "task={{task}} criteria={{criteria}} skills={{skills}} tools={{tools}} dir={{coordination_dir}}"}
	out := RenderPrompt(p, "T", "C", "S", "Tools", "/coord")
	assert.Equal(t, "task=T criteria=C skills=S tools=Tools dir=/coord", out)
}

func TestAggregateVerdicts(t *testing.T) {
	t.Parallel()
	assert.Equal(t, VerdictPass, Aggregate([]SubagentResult{{Verdict: VerdictPass}, {Verdict: VerdictPass}}))
	assert.Equal(t, VerdictFail, Aggregate([]SubagentResult{{Verdict: VerdictPass}, {Verdict: VerdictFail}}))
	assert.Equal(t, VerdictUncertain, Aggregate([]SubagentResult{{Verdict: VerdictPass}, {Verdict: VerdictUncertain}}))
	assert.Equal(t, VerdictUncertain, Aggregate(nil))
}

func TestCoordinatorStateMachine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a unix shell subprocess")
	}
	dir := t.TempDir()
	c := NewCoordinator(dir, time.Second)
	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Prepare("shared context"))
	assert.Equal(t, StatePrepared, c.State())

	data, err := os.ReadFile(filepath.Join(dir, "shared-context.md"))
	require.NoError(t, err)
	assert.Equal(t, "shared context", string(data))

	profile := SubagentProfile{
		Type:   "implementer",
		Binary: "/bin/sh",
		Args:   []string{"-c", `echo '{"verdict":"pass","summary":"ok"}' > "$RALPH_COORD_DIR/results/implementer.json"`},
	}
	results, err := c.Spawn(context.Background(), []SubagentProfile{profile}, map[string]string{"implementer": "do it"})
	require.NoError(t, err)
	assert.Equal(t, StateAggregated, c.State())
	require.Len(t, results, 1)
	assert.Equal(t, VerdictPass, results[0].Verdict)

	require.NoError(t, c.AppendJournal(1, results, time.Now()))
	assert.Equal(t, StateIdle, c.State())

	journal, err := os.ReadFile(filepath.Join(dir, "attempt-journal.md"))
	require.NoError(t, err)
	assert.Contains(t, string(journal), "implementer: pass")
}

func TestCoordinatorSpawnSynthesizesFailOnMissingResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a unix shell subprocess")
	}
	dir := t.TempDir()
	c := NewCoordinator(dir, time.Second)
	require.NoError(t, c.Prepare(""))

	profile := SubagentProfile{Type: "validator", Binary: "/bin/sh", Args: []string{"-c", "exit 1"}}
	results, err := c.Spawn(context.Background(), []SubagentProfile{profile}, map[string]string{"validator": "check"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, VerdictFail, results[0].Verdict)
	assert.NotEmpty(t, results[0].ErrorDetail)
}
