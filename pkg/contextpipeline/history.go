package contextpipeline

import (
	"context"
	"fmt"
	"strings"

	"ralph/pkg/llm"
)

// IterationRecord is one prior iteration's contribution to rolling history:
// a short record of what happened, not the full transcript.
type IterationRecord struct {
	Iteration int
	Note      string // e.g. outcome + a one-line synopsis of the adapter's output
}

// Summarizer condenses older history into a short synopsis. The engine wires
// this to an adapter call; contextpipeline has no adapter dependency of its
// own so it can be tested without a live backend.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// SummarizerFunc adapts a plain function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, text string) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

const minKeepRecentRecords = 4

// BuildHistorySection renders records into the "summarized history" section
// within tokenBudget. Following the teacher's preflight-then-summarize
// pattern: if the rendered records already fit, render verbatim; otherwise
// keep a recent tail and summarize the rest via summarizer, falling back to
// oldest-dropped truncation if summarization fails or summarizer is nil.
func BuildHistorySection(ctx context.Context, records []IterationRecord, tokenBudget int, summarizer Summarizer) string {
	if len(records) == 0 {
		return ""
	}

	full := renderRecords(records)
	if llm.EstimateTokens(full) <= tokenBudget {
		return full
	}

	keep := minKeepRecentRecords
	if keep > len(records) {
		keep = len(records)
	}
	recent := records[len(records)-keep:]
	older := records[:len(records)-keep]

	if len(older) == 0 {
		out, _ := tailToBudget(full, tokenBudget)
		return out
	}

	if summarizer == nil {
		out, _ := tailToBudget(renderRecords(recent), tokenBudget)
		return "[oldest iterations dropped: budget exceeded, no summarizer configured]\n" + out
	}

	summary, err := summarizer.Summarize(ctx, renderRecords(older))
	if err != nil {
		out, _ := tailToBudget(renderRecords(recent), tokenBudget)
		return fmt.Sprintf("[summarization failed: %v; oldest iterations dropped]\n%s", err, out)
	}

	header := fmt.Sprintf("[SUMMARY of iterations %d-%d] %s\n", older[0].Iteration, older[len(older)-1].Iteration, strings.TrimSpace(summary))
	header, _ = fitToBudget(header, tokenBudget)
	tail, _ := tailToBudget(renderRecords(recent), tokenBudget-llm.EstimateTokens(header))
	return header + tail
}

func renderRecords(records []IterationRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "iteration %d: %s\n", r.Iteration, r.Note)
	}
	return b.String()
}
