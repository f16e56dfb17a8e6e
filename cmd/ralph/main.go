// Command ralph is the iteration engine's CLI entry point: it wires the
// configured adapter, skillbook worker, and (optionally) subagent
// coordinator, then drives the loop to a terminal outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ralph/pkg/adapter/anthropic"
	"ralph/pkg/engine"
	"ralph/pkg/envcreds"
	"ralph/pkg/obs"
	"ralph/pkg/reflector"
	"ralph/pkg/skillbook"
	"ralph/pkg/subagent"
	"ralph/pkg/wiring"
)

// learningQueueCapacity bounds the in-flight reflection task queue; it is
// not spec-surfaced so it stays a constant rather than a flag.
const learningQueueCapacity = 64

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ralph")
	}
}

func run() error {
	var (
		agentDir            = flag.String("agent-dir", ".ralph", "working directory for logs, skillbook, checkpoints, metrics")
		promptPath          = flag.String("prompt", "PROMPT.md", "path to the prompt/task file")
		adapterName         = flag.String("adapter", "anthropic", "primary adapter: anthropic | openai | gemini | claudecode")
		maxIterations       = flag.Int("max-iterations", 0, "0 means unbounded (subject to max-runtime)")
		maxRuntime          = flag.Duration("max-runtime", 0, "0 means unbounded (subject to max-iterations)")
		checkpointInterval  = flag.Int("checkpoint-interval", 5, "iterations between checkpoints")
		failureCap          = flag.Int("failure-cap", engine.DefaultFailureCap, "consecutive failures before fatal abort")
		enableLearning      = flag.Bool("learning", true, "enable the ACE skillbook learning subsystem")
		enableOrchestration = flag.Bool("orchestration", false, "route iterations through subagent orchestration")
		enableValidation    = flag.Bool("validation", false, "require validation-evidence files to honor a completion marker")
		dryRun              = flag.Bool("dry-run", false, "assemble and log the enriched prompt without calling an adapter")
		skillTopK           = flag.Int("skill-top-k", 5, "number of skills injected per iteration")
		subagentTimeout     = flag.Duration("subagent-timeout", 300*time.Second, "per-subagent spawn timeout")
		logPath             = flag.String("log-path", "", "log file path; empty means stdout")
		logLevel            = flag.String("log-level", "info", "zerolog level")
		learningMaxSkills   = flag.Int("learning-max-skills", skillbook.DefaultMaxSkills, "skillbook size cap before pruning")
		learningPruneAt     = flag.Int("learning-prune-threshold", 0, "prune trigger; 0 means use learning-max-skills")
		learningDedup       = flag.Bool("learning-dedup", true, "merge new skills into existing ones above the similarity threshold")
		learningSimilarity  = flag.Float64("learning-similarity-threshold", skillbook.DefaultSimilarityThreshold, "Jaccard similarity cutoff for skill deduplication")
		learningTimeout     = flag.Duration("learning-worker-timeout", skillbook.DefaultLearningWorkerTimeout, "drain budget for the learning worker on shutdown")
	)
	flag.Parse()

	obs.InitLogger(*logPath, *logLevel)
	creds := envcreds.Load()

	registry, err := wiring.BuildAdapterRegistry(creds)
	if err != nil {
		return fmt.Errorf("build adapter registry: %w", err)
	}

	var learner *skillbook.Worker
	if *enableLearning {
		learningCfg := skillbook.NewLearningConfig(skillbook.LearningConfig{
			Model:                creds.ReflectorModel,
			MaxSkills:            *learningMaxSkills,
			PruneThreshold:       *learningPruneAt,
			DeduplicationEnabled: *learningDedup,
			SimilarityThreshold:  *learningSimilarity,
			WorkerTimeout:        *learningTimeout,
			Enabled:              *enableLearning,
		})

		reflectorAdapter, ok := registry.Get(*adapterName)
		if !ok {
			return fmt.Errorf("adapter %q not registered, cannot drive learning reflector", *adapterName)
		}
		// Reflection runs far more often than the primary loop and benefits
		// from a cheaper model: when the primary adapter is Anthropic, spin
		// up a dedicated client pinned to learningCfg.Model instead of
		// reusing the (possibly larger/pricier) primary adapter.
		if *adapterName == "anthropic" && envcreds.IsSet(creds.AnthropicAPIKey) {
			reflectorAdapter = anthropic.New(creds.AnthropicAPIKey, "", learningCfg.Model)
		}

		store := skillbook.NewStore(filepath.Join(*agentDir, "skillbook", "skillbook.json"))
		cache := skillbook.NewCache()
		workerCfg := learningCfg.WorkerConfig(learningQueueCapacity)
		learner = skillbook.NewWorker(workerCfg, reflector.New(reflectorAdapter), store, cache)
		if err := learner.Load(*agentDir, time.Now().UTC()); err != nil {
			return fmt.Errorf("load skillbook: %w", err)
		}
		ctx := context.Background()
		learner.Start(ctx)
	}

	var coord *subagent.Coordinator
	var profiles map[string]subagent.SubagentProfile
	if *enableOrchestration {
		coord = subagent.NewCoordinator(filepath.Join(*agentDir, "coordination"), *subagentTimeout)
		profiles = subagent.DefaultProfiles()
	}

	cfg := engine.RalphConfig{
		AgentDir:            *agentDir,
		PromptPath:          *promptPath,
		AdapterName:         *adapterName,
		MaxIterations:       *maxIterations,
		MaxRuntime:          *maxRuntime,
		CheckpointInterval:  *checkpointInterval,
		EnableLearning:      *enableLearning,
		EnableOrchestration: *enableOrchestration,
		EnableValidation:    *enableValidation,
		DryRun:              *dryRun,
		FailureCap:          *failureCap,
		SkillTopK:           *skillTopK,
		SubagentTimeout:     *subagentTimeout,
	}

	eng, err := engine.New(cfg, registry, learner, coord, profiles)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	outcome, metrics, runErr := eng.Run(ctx)

	printSummary(outcome, metrics)
	if runErr != nil {
		return runErr
	}
	return nil
}

func printSummary(outcome engine.ExitOutcome, m engine.Metrics) {
	fmt.Fprintf(os.Stdout, "ralph: outcome=%s iterations=%d completed=%d failed=%d rollbacks=%d tokens_in=%d tokens_out=%d peak_context=%.1f%% duration=%s\n",
		outcome,
		m.IterationsAttempted,
		m.IterationsCompleted,
		m.IterationsFailed,
		m.RollbackCount,
		m.TotalInputTokens,
		m.TotalOutputTokens,
		m.PeakContextPercent,
		m.EndTime.Sub(m.StartTime).Round(time.Second),
	)
}
