package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"ralph/pkg/adapter"
	"ralph/pkg/contextpipeline"
	"ralph/pkg/llm"
	"ralph/pkg/obs"
	"ralph/pkg/ralpherr"
	"ralph/pkg/skillbook"
	"ralph/pkg/subagent"
)

const (
	logsDir            = "logs"
	skillbookDirName   = "skillbook"
	metricsDirName     = "metrics"
	coordinationDir    = "coordination"
	scratchpadFileName = "scratchpad.md"
	evidenceDirName    = "validation-evidence"
)

// Engine drives the Ralph iteration loop. One Engine instance executes
// exactly one run() — it is not reusable across runs.
type Engine struct {
	cfg RalphConfig

	adapters   *adapter.Registry
	assembler  *contextpipeline.Assembler
	learner    *skillbook.Worker
	checkpoint *Checkpoint
	coord      *subagent.Coordinator
	profiles   map[string]subagent.SubagentProfile

	tasks    *TaskQueue
	history  []contextpipeline.IterationRecord
	metrics  Metrics
	timeline *contextpipeline.Timeline

	tracerProvider *sdktrace.TracerProvider
	tracer         oteltrace.Tracer
}

// New builds an Engine ready to run(). Callers must have already registered
// adapters, wired a skillbook worker, and (if orchestration is enabled) a
// subagent coordinator and profile map.
func New(cfg RalphConfig, adapters *adapter.Registry, learner *skillbook.Worker, coord *subagent.Coordinator, profiles map[string]subagent.SubagentProfile) (*Engine, error) {
	a, ok := adapters.Get(cfg.AdapterName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown adapter %q", ralpherr.ErrFatalConfig, cfg.AdapterName)
	}

	timeline := contextpipeline.NewTimeline()
	var summarizer contextpipeline.Summarizer
	if learner != nil {
		summarizer = contextpipeline.SummarizerFunc(func(ctx context.Context, text string) (string, error) {
			resp, err := a.AExecute(ctx, "Summarize the following in under 300 characters:\n\n"+text, "", false)
			if err != nil {
				return "", err
			}
			return resp.Output, nil
		})
	}
	assembler := contextpipeline.NewAssembler(a.ContextLimitTokens(), timeline, summarizer)

	tp := sdktrace.NewTracerProvider()

	return &Engine{
		cfg:            cfg,
		adapters:       adapters,
		assembler:      assembler,
		learner:        learner,
		checkpoint:     nil,
		coord:          coord,
		profiles:       profiles,
		timeline:       timeline,
		tracerProvider: tp,
		tracer:         tp.Tracer("ralph/engine"),
	}, nil
}

// Run drives the iteration loop synchronously until a terminal outcome.
func (e *Engine) Run(ctx context.Context) (ExitOutcome, Metrics, error) {
	e.metrics.StartTime = time.Now().UTC()

	if err := e.ensureDirs(); err != nil {
		e.metrics.Outcome = OutcomeFatalError
		return OutcomeFatalError, e.metrics, err
	}

	cp, err := OpenCheckpoint(e.cfg.AgentDir, filepath.Dir(e.cfg.PromptPath))
	if err != nil {
		e.metrics.Outcome = OutcomeFatalError
		return OutcomeFatalError, e.metrics, err
	}
	e.checkpoint = cp

	for {
		select {
		case <-ctx.Done():
			return e.finish(OutcomeCancelled, nil)
		default:
		}

		if e.cfg.MaxIterations > 0 && e.metrics.IterationsAttempted >= e.cfg.MaxIterations {
			return e.finish(OutcomeExhaustedIterations, nil)
		}
		if e.cfg.MaxRuntime > 0 && time.Since(e.metrics.StartTime) >= e.cfg.MaxRuntime {
			return e.finish(OutcomeExhaustedTime, nil)
		}

		outcome, done, err := e.runIteration(ctx)
		if err != nil {
			return e.finish(OutcomeFatalError, err)
		}
		if done {
			return e.finish(outcome, nil)
		}
	}
}

func (e *Engine) finish(outcome ExitOutcome, err error) (ExitOutcome, Metrics, error) {
	e.metrics.Outcome = outcome
	e.metrics.EndTime = time.Now().UTC()
	if e.learner != nil {
		e.learner.Shutdown()
	}
	_ = e.flushTimeline()
	_ = e.tracerProvider.Shutdown(context.Background())
	return outcome, e.metrics, err
}

// runIteration executes the 12-step per-iteration algorithm. done=true
// means the loop should stop with outcome; done=false continues looping.
func (e *Engine) runIteration(ctx context.Context) (outcome ExitOutcome, done bool, fatalErr error) {
	iteration := e.metrics.IterationsAttempted + 1
	e.metrics.IterationsAttempted = iteration

	ctx, span := e.tracer.Start(ctx, "ralph.iteration", oteltrace.WithAttributes(
		attribute.Int("ralph.iteration", iteration),
	))
	defer span.End()

	pf, err := ReadPromptFile(e.cfg.PromptPath)
	if err != nil || pf.Content == "" {
		return OutcomeFatalError, true, fmt.Errorf("%w: prompt file missing or empty: %v", ralpherr.ErrFatalConfig, err)
	}

	if e.tasks == nil {
		e.tasks = NewTaskQueue(pf.Content)
	} else {
		e.tasks.Reconcile(pf.Content)
	}
	if e.tasks.IsEmpty() {
		// no checkbox tasks present; nothing to extract, proceed on raw prompt
	} else {
		e.tasks.AdvanceInProgress()
	}

	skillsExcerpt := ""
	if e.learner != nil {
		_, budget, _, _ := contextpipeline.NewBudget(e.assembler.Limit).AmbientSubBudgets()
		skillsExcerpt = e.learner.TopKForPrompt(pf.Content, nil, e.cfg.SkillTopK, budget, llm.EstimateTokens)
	}

	scratch, _ := os.ReadFile(filepath.Join(e.cfg.AgentDir, scratchpadFileName))

	assembled := e.assembler.Assemble(ctx, contextpipeline.Input{
		Iteration:       iteration,
		CWD:             filepath.Dir(e.cfg.PromptPath),
		PromptPath:      e.cfg.PromptPath,
		SkillsExcerpt:   skillsExcerpt,
		Scratchpad:      string(scratch),
		History:         e.history,
		UserPrompt:      pf.Content,
		InstructionBand: e.cfg.InstructionBand,
	})

	if e.cfg.DryRun {
		obs.WithTrace(ctx).Info().Int("iteration", iteration).Str("prompt", assembled.Prompt).Msg("dry_run_enriched_prompt")
		obs.Iteration(ctx, iteration, 0, 0, 0, "dry_run", "")
		e.metrics.IterationsCompleted++
		e.recordHistory(iteration, "dry_run: logged enriched prompt")
		return "", false, nil
	}

	var resp adapter.Response
	var verdict subagent.Verdict
	var execErr error

	if e.cfg.EnableOrchestration && e.coord != nil {
		resp, verdict, execErr = e.runSubagents(ctx, iteration, assembled.Prompt, pf.Content)
	} else {
		resp, execErr = e.callAdapterWithRetry(ctx, assembled.Prompt, pf.Path)
	}

	e.assembler.RecordAfterResponse(iteration, resp.InputTokens+resp.OutputTokens)
	e.updatePeak()
	if err := e.flushTimeline(); err != nil {
		obs.WithTrace(ctx).Warn().Err(err).Msg("timeline_flush_failed")
	}

	if execErr != nil {
		e.recordFailure(ctx, iteration, execErr)
		e.rollbackIfAvailable(ctx, iteration, pf.Content)
		if e.metrics.FailuresConsecutive >= e.cfg.failureCap() {
			return OutcomeFatalError, true, fmt.Errorf("%w: %d consecutive failures", ralpherr.ErrTransport, e.metrics.FailuresConsecutive)
		}
		e.recordHistory(iteration, "iteration failed: "+execErr.Error())
		return "", false, nil
	}
	if !resp.Success || verdict == subagent.VerdictFail {
		reason := resp.Error
		if e.cfg.EnableOrchestration && verdict == subagent.VerdictFail {
			reason = "subagent verdict fail"
		}
		e.recordFailure(ctx, iteration, fmt.Errorf("%w: %s", ralpherr.ErrSemantic, reason))
		if verdict != subagent.VerdictUncertain {
			e.rollbackIfAvailable(ctx, iteration, pf.Content)
		}
		e.recordHistory(iteration, "semantic failure: "+reason)
		if e.metrics.FailuresConsecutive >= e.cfg.failureCap() {
			return OutcomeFatalError, true, fmt.Errorf("%w: %d consecutive failures", ralpherr.ErrSemantic, e.metrics.FailuresConsecutive)
		}
		return "", false, nil
	}

	e.metrics.FailuresConsecutive = 0
	e.metrics.TotalInputTokens += resp.InputTokens
	e.metrics.TotalOutputTokens += resp.OutputTokens
	e.metrics.IterationsCompleted++

	completed := e.checkCompletion(ctx, pf.Content, resp.Output)
	if completed {
		obs.Iteration(ctx, iteration, resp.DurationSeconds, resp.InputTokens, resp.OutputTokens, "completed", "")
		e.enqueueLearning(iteration, pf.Content, "success", resp.Output, "")
		return OutcomeCompleted, true, nil
	}

	obs.Iteration(ctx, iteration, resp.DurationSeconds, resp.InputTokens, resp.OutputTokens, "iteration_ok", "")

	if e.cfg.CheckpointInterval > 0 && e.metrics.IterationsCompleted%e.cfg.CheckpointInterval == 0 {
		if _, err := e.checkpoint.Take(iteration, time.Now().UTC()); err != nil {
			obs.WithTrace(ctx).Warn().Err(err).Msg("checkpoint_failed")
		}
	}

	e.enqueueLearning(iteration, pf.Content, "success", resp.Output, "")
	e.recordHistory(iteration, summarize(resp.Output))
	_ = verdict

	return "", false, nil
}

func (e *Engine) runSubagents(ctx context.Context, iteration int, enrichedPrompt, rawPrompt string) (adapter.Response, subagent.Verdict, error) {
	profileType := subagent.Route(rawPrompt)
	profile, ok := e.profiles[profileType]
	if !ok {
		return adapter.Response{}, subagent.VerdictUncertain, fmt.Errorf("%w: no subagent profile for %q", ralpherr.ErrFatalConfig, profileType)
	}

	if err := e.coord.Prepare(enrichedPrompt); err != nil {
		return adapter.Response{}, subagent.VerdictUncertain, fmt.Errorf("%w: %v", ralpherr.ErrCoordinationTimeout, err)
	}

	prompts := map[string]string{
		profileType: subagent.RenderPrompt(profile, rawPrompt, "", "", "", e.coord.CoordDir),
	}
	results, err := e.coord.Spawn(ctx, []subagent.SubagentProfile{profile}, prompts)
	if err != nil {
		return adapter.Response{}, subagent.VerdictUncertain, fmt.Errorf("%w: %v", ralpherr.ErrCoordinationTimeout, err)
	}

	if err := e.coord.AppendJournal(iteration, results, time.Now().UTC()); err != nil {
		obs.WithTrace(ctx).Warn().Err(err).Msg("subagent_journal_failed")
	}

	verdict := subagent.Aggregate(results)
	success := verdict == subagent.VerdictPass
	summary := ""
	for _, r := range results {
		summary += r.Summary + " "
	}
	return adapter.Response{Success: success, Output: summary, Error: string(verdict)}, verdict, nil
}

const maxTransportAttempts = 3

// callAdapterWithRetry retries TransportError failures against the primary
// adapter with bounded exponential backoff (<=3 attempts), falling through
// the configured fallback chain once the primary is exhausted.
func (e *Engine) callAdapterWithRetry(ctx context.Context, prompt, promptPath string) (adapter.Response, error) {
	chain := e.adapters.FallbackChain(e.cfg.AdapterName)
	if len(chain) == 0 {
		return adapter.Response{}, fmt.Errorf("%w: no adapter available", ralpherr.ErrFatalConfig)
	}

	var lastErr error
	for _, a := range chain {
		for attempt := 0; attempt < maxTransportAttempts; attempt++ {
			resp, err := a.AExecute(ctx, prompt, promptPath, false)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if attempt < maxTransportAttempts-1 {
				backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return adapter.Response{}, ctx.Err()
				}
			}
		}
	}
	return adapter.Response{}, fmt.Errorf("%w: %v", ralpherr.ErrTransport, lastErr)
}

func (e *Engine) checkCompletion(ctx context.Context, promptContent, responseOutput string) bool {
	if !DetectCompletion(promptContent) && !DetectCompletion(responseOutput) {
		return false
	}
	if !e.cfg.EnableValidation {
		return true
	}
	ok, reason := ValidateEvidence(filepath.Join(e.cfg.AgentDir, evidenceDirName), e.metrics.StartTime)
	if !ok {
		obs.WithTrace(ctx).Warn().Str("reason", reason).Msg("completion_marker_without_evidence")
		return false
	}
	return true
}

// rollbackIfAvailable resolves the most recent checkpoint strictly before
// the failed iteration and hard-resets the working tree to it, enqueuing
// the rollback learning task the failure-handling policy requires. A
// missing checkpoint (no prior Take() call yet) is not itself an error —
// there is simply nothing to roll back to.
func (e *Engine) rollbackIfAvailable(ctx context.Context, iteration int, promptContent string) {
	event, err := e.checkpoint.Rollback(iteration, time.Now().UTC())
	if err != nil {
		obs.WithTrace(ctx).Debug().Err(err).Msg("rollback_skipped_no_checkpoint")
		return
	}
	e.metrics.RollbackCount++
	obs.WithTrace(ctx).Warn().Int("from_iteration", event.FromIteration).Str("to_commit", event.ToCommit).Msg("rollback")
	e.enqueueLearning(iteration, promptContent, "failure", "", "rollback")
}

func (e *Engine) recordFailure(ctx context.Context, iteration int, err error) {
	e.metrics.IterationsFailed++
	e.metrics.FailuresConsecutive++
	obs.Iteration(ctx, iteration, 0, 0, 0, "failed", ralpherr.Kind(err))
}

func (e *Engine) recordHistory(iteration int, note string) {
	e.history = append(e.history, contextpipeline.IterationRecord{Iteration: iteration, Note: note})
}

func (e *Engine) enqueueLearning(iteration int, goal, outcome, evidence, errorDetail string) {
	if e.learner == nil || !e.cfg.EnableLearning {
		return
	}
	e.learner.Enqueue(skillbook.LearningTask{
		Goal:        goal,
		Outcome:     outcome,
		Evidence:    skillbook.TruncateEvidence(evidence),
		ErrorDetail: errorDetail,
		EnqueuedAt:  time.Now().UTC(),
	})
	if outcome == "success" {
		e.metrics.SkillsLearned++
	}
}

func (e *Engine) updatePeak() {
	for _, m := range e.timeline.ForIteration(e.metrics.IterationsAttempted) {
		if m.PercentOfLimit > e.metrics.PeakContextPercent {
			e.metrics.PeakContextPercent = m.PercentOfLimit
		}
	}
}

func (e *Engine) ensureDirs() error {
	dirs := []string{
		e.cfg.AgentDir,
		filepath.Join(e.cfg.AgentDir, logsDir),
		filepath.Join(e.cfg.AgentDir, skillbookDirName),
		filepath.Join(e.cfg.AgentDir, metricsDirName),
	}
	if e.cfg.EnableOrchestration {
		dirs = append(dirs, filepath.Join(e.cfg.AgentDir, coordinationDir))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", ralpherr.ErrFatalConfig, d, err)
		}
	}
	return nil
}

func (e *Engine) flushTimeline() error {
	type summary struct {
		TotalMeasurements int     `json:"total_measurements"`
		IterationsTracked int     `json:"iterations_tracked"`
		PeakTokens        int     `json:"peak_tokens"`
		PeakUsagePercent  float64 `json:"peak_usage_percent"`
	}
	type file struct {
		Summary      summary                              `json:"summary"`
		Measurements []contextpipeline.ContextMeasurement `json:"measurements"`
	}

	measurements := e.timeline.Snapshot()
	iterations := make(map[int]struct{})
	peakTokens := 0
	peakPercent := 0.0
	for _, m := range measurements {
		iterations[m.Iteration] = struct{}{}
		if m.Tokens > peakTokens {
			peakTokens = m.Tokens
		}
		if m.PercentOfLimit > peakPercent {
			peakPercent = m.PercentOfLimit
		}
	}

	out := file{
		Summary: summary{
			TotalMeasurements: len(measurements),
			IterationsTracked: len(iterations),
			PeakTokens:        peakTokens,
			PeakUsagePercent:  peakPercent,
		},
		Measurements: measurements,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal timeline: %v", ralpherr.ErrPersistence, err)
	}
	path := filepath.Join(e.cfg.AgentDir, metricsDirName, "context-timeline.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write timeline: %v", ralpherr.ErrPersistence, err)
	}
	return nil
}

func summarize(s string) string {
	const maxLen = 200
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
