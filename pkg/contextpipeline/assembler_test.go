package contextpipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleSectionOrderAndTags(t *testing.T) {
	t.Parallel()

	a := NewAssembler(10_000, nil, nil)
	out := a.Assemble(context.Background(), Input{
		Iteration:     1,
		CWD:           "/work/agent",
		PromptPath:    "/work/agent/prompt.md",
		SkillsExcerpt: "- use rg not grep",
		Scratchpad:    "notes from last run",
		UserPrompt:    "implement the thing",
	})

	runtimeIdx := indexOf(out.Prompt, tagRuntime)
	instrIdx := indexOf(out.Prompt, tagInstructions)
	skillsIdx := indexOf(out.Prompt, tagSkills)
	scratchIdx := indexOf(out.Prompt, tagScratchpad)
	histIdx := indexOf(out.Prompt, tagHistory)
	promptIdx := indexOf(out.Prompt, tagPrompt)

	require.True(t, runtimeIdx >= 0 && instrIdx > runtimeIdx && skillsIdx > instrIdx &&
		scratchIdx > skillsIdx && histIdx > scratchIdx && promptIdx > histIdx,
		"sections must appear in deterministic order")
}

func TestAssembleInstructionBandSwitchesTemplate(t *testing.T) {
	t.Parallel()

	a := NewAssembler(50_000, nil, nil)
	early := a.Assemble(context.Background(), Input{Iteration: 1, UserPrompt: "x"})
	late := a.Assemble(context.Background(), Input{Iteration: 6, UserPrompt: "x"})

	assert.Contains(t, early.Sections.Instructions, "Tool etiquette")
	assert.NotContains(t, late.Sections.Instructions, "Tool etiquette")
}

func TestPrefixStableAcrossIterationsWhenBandUnchanged(t *testing.T) {
	t.Parallel()

	a := NewAssembler(50_000, nil, nil)
	in := Input{CWD: "/c", PromptPath: "/c/p.md", SkillsExcerpt: "- tip one", UserPrompt: "go"}

	in.Iteration = 2
	first := a.Assemble(context.Background(), in)
	in.Iteration = 3
	second := a.Assemble(context.Background(), in)

	assert.Equal(t, first.Sections.Runtime, second.Sections.Runtime)
	assert.Equal(t, first.Sections.Instructions, second.Sections.Instructions)
	assert.Equal(t, first.Sections.Skills, second.Sections.Skills)
}

func TestAssembleRecordsFiveMeasurePointsOverLifecycle(t *testing.T) {
	t.Parallel()

	timeline := NewTimeline()
	a := NewAssembler(10_000, timeline, nil)
	ctx := context.Background()

	a.Assemble(ctx, Input{Iteration: 1, UserPrompt: "hello"})
	a.RecordAfterTools(1, 42)
	a.RecordAfterResponse(1, 100)

	points := map[MeasurePoint]bool{}
	for _, m := range timeline.ForIteration(1) {
		points[m.Point] = true
	}
	assert.True(t, points[IterationStart])
	assert.True(t, points[AfterSkills])
	assert.True(t, points[AfterPrompt])
	assert.True(t, points[AfterTools])
	assert.True(t, points[AfterResponse])
}

func TestHealthBands(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HealthOK, Health(10))
	assert.Equal(t, HealthElevated, Health(60))
	assert.Equal(t, HealthElevated, Health(85))
	assert.Equal(t, HealthCritical, Health(85.01))
}

func TestBuildHistorySectionSummarizesOlderRecords(t *testing.T) {
	t.Parallel()

	var records []IterationRecord
	for i := 1; i <= 20; i++ {
		records = append(records, IterationRecord{Iteration: i, Note: "did a fairly long thing with lots of detail to pad tokens out"})
	}

	called := false
	summarizer := SummarizerFunc(func(ctx context.Context, text string) (string, error) {
		called = true
		return "condensed summary", nil
	})

	out := BuildHistorySection(context.Background(), records, 40, summarizer)
	assert.True(t, called)
	assert.Contains(t, out, "condensed summary")
	assert.Contains(t, out, "iteration 20")
}

func TestBuildHistorySectionNoSummarizerFallsBackToTail(t *testing.T) {
	t.Parallel()

	var records []IterationRecord
	for i := 1; i <= 20; i++ {
		records = append(records, IterationRecord{Iteration: i, Note: "did a fairly long thing with lots of detail to pad tokens out"})
	}

	out := BuildHistorySection(context.Background(), records, 40, nil)
	assert.Contains(t, out, "oldest iterations dropped")
	assert.Contains(t, out, "iteration 20")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
