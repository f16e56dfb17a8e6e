package contextpipeline

import (
	"context"
	"fmt"
	"strings"

	"ralph/pkg/llm"
)

// Input is everything the assembler needs to build one iteration's prompt.
// Skills and history are passed in pre-rendered by their owning subsystems
// (skillbook, engine) so this package stays free of cross-subsystem
// dependencies; it only owns ordering, budgeting, tagging, and measurement.
type Input struct {
	Iteration      int
	CWD            string
	PromptPath     string
	SkillsExcerpt  string // already top-K selected and formatted by the skillbook
	Scratchpad     string // raw content of scratchpad.md, or ""
	History        []IterationRecord
	UserPrompt     string
	InstructionBand int // 0 means DefaultFullInstructionBand
}

// Assembled is the result of one assembly pass.
type Assembled struct {
	Prompt       string
	Measurements []ContextMeasurement
	Sections     SectionBreakdown
}

// SectionBreakdown records the final per-section text, including the
// prefix-stable sections (runtime, instructions, skills), so callers can
// assert byte-identity across consecutive iterations in tests.
type SectionBreakdown struct {
	Runtime      string
	Instructions string
	Skills       string
	Scratchpad   string
	History      string
	Prompt       string
}

const (
	tagRuntime      = "<!-- SECTION: RUNTIME -->"
	tagInstructions = "<!-- SECTION: INSTRUCTIONS -->"
	tagSkills       = "<!-- SECTION: SKILLS -->"
	tagScratchpad   = "<!-- SECTION: SCRATCHPAD -->"
	tagHistory      = "<!-- SECTION: HISTORY -->"
	tagPrompt       = "<!-- SECTION: PROMPT -->"
	sectionDelim    = "\n\n"
)

// Assembler builds the enriched prompt per the six-section deterministic
// order and records instrumentation to a shared Timeline.
type Assembler struct {
	Limit      int
	Timeline   *Timeline
	Summarizer Summarizer
}

// NewAssembler builds an Assembler bound to an adapter's context limit.
func NewAssembler(contextLimit int, timeline *Timeline, summarizer Summarizer) *Assembler {
	if timeline == nil {
		timeline = NewTimeline()
	}
	return &Assembler{Limit: contextLimit, Timeline: timeline, Summarizer: summarizer}
}

// Assemble produces the enriched prompt for one iteration.
func (a *Assembler) Assemble(ctx context.Context, in Input) Assembled {
	budget := NewBudget(a.Limit)
	instrBudget, skillsBudget, scratchBudget, historyBudget := budget.AmbientSubBudgets()

	a.Timeline.Record(in.Iteration, IterationStart, 0, a.Limit)

	runtime := fmt.Sprintf("%s\ncwd: %s\nprompt_path: %s", tagRuntime, in.CWD, in.PromptPath)
	runtime, _ = fitToBudget(runtime, budget.Runtime)

	instructions := SelectInstructions(in.Iteration, in.InstructionBand)
	instructions, _ = fitToBudget(instructions, instrBudget)
	instructionsSection := tagInstructions + "\n" + instructions

	skills, _ := fitToBudget(in.SkillsExcerpt, skillsBudget)
	skillsSection := tagSkills
	if skills != "" {
		skillsSection += "\n" + skills
	}
	a.Timeline.Record(in.Iteration, AfterSkills, llm.EstimateTokens(strings.Join([]string{runtime, instructionsSection, skillsSection}, sectionDelim)), a.Limit)

	scratchpad, _ := tailToBudget(in.Scratchpad, scratchBudget)
	scratchSection := tagScratchpad
	if scratchpad != "" {
		scratchSection += "\n" + scratchpad
	}

	history := BuildHistorySection(ctx, in.History, historyBudget, a.Summarizer)
	historySection := tagHistory
	if history != "" {
		historySection += "\n" + history
	}

	prompt := buildPromptSection(in.UserPrompt, budget.Prompt)
	promptSection := tagPrompt + "\n" + prompt

	full := strings.Join([]string{
		runtime,
		instructionsSection,
		skillsSection,
		scratchSection,
		historySection,
		promptSection,
	}, sectionDelim)

	a.Timeline.Record(in.Iteration, AfterPrompt, llm.EstimateTokens(full), a.Limit)

	return Assembled{
		Prompt: full,
		Sections: SectionBreakdown{
			Runtime:      runtime,
			Instructions: instructionsSection,
			Skills:       skillsSection,
			Scratchpad:   scratchSection,
			History:      historySection,
			Prompt:       promptSection,
		},
	}
}

// RecordAfterTools and RecordAfterResponse let the engine record the
// remaining two measure points once it knows tool-call and final-response
// token counts, without the assembler needing to see execution results.
func (a *Assembler) RecordAfterTools(iteration, tokens int) ContextMeasurement {
	return a.Timeline.Record(iteration, AfterTools, tokens, a.Limit)
}

func (a *Assembler) RecordAfterResponse(iteration, tokens int) ContextMeasurement {
	return a.Timeline.Record(iteration, AfterResponse, tokens, a.Limit)
}

// buildPromptSection applies the prompt section's own truncation policy: the
// prompt itself is never silently truncated. If it exceeds budget, the
// caller is expected to have already summarized upstream content; as a last
// resort this keeps the last 2000 characters verbatim with a note.
func buildPromptSection(prompt string, budget int) string {
	if llm.EstimateTokens(prompt) <= budget {
		return prompt
	}
	const keepChars = 2000
	if len(prompt) <= keepChars {
		return prompt
	}
	return fmt.Sprintf("[prompt exceeds budget; showing last %d characters verbatim]\n%s", keepChars, prompt[len(prompt)-keepChars:])
}
