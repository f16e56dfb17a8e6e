package skillbook

import "time"

// LearningConfig is the immutable record governing the learning subsystem
// for one engine run: model, max_skills, prune_threshold,
// deduplication_enabled, similarity_threshold, worker_timeout, enabled.
type LearningConfig struct {
	Model                string
	MaxSkills            int
	PruneThreshold       int // 0 means "use MaxSkills"
	DeduplicationEnabled bool
	SimilarityThreshold  float64
	WorkerTimeout        time.Duration
	Enabled              bool
}

// DefaultReflectorModel is the cost-efficient small model the reflector
// calls when LearningConfig.Model is unset.
const DefaultReflectorModel = "claude-3-5-haiku-latest"

// DefaultMaxSkills bounds the skillbook size absent an explicit MaxSkills.
const DefaultMaxSkills = 200

// DefaultSimilarityThreshold is the Jaccard-similarity duplicate cutoff.
const DefaultSimilarityThreshold = 0.85

// DefaultLearningWorkerTimeout is the worker's drain budget on shutdown.
const DefaultLearningWorkerTimeout = 30 * time.Second

// NewLearningConfig fills in the documented defaults for any unset field:
// default model is a cost-efficient small model; default similarity
// threshold is 0.85; default prune threshold is the max_skills value.
func NewLearningConfig(cfg LearningConfig) LearningConfig {
	if cfg.Model == "" {
		cfg.Model = DefaultReflectorModel
	}
	if cfg.MaxSkills <= 0 {
		cfg.MaxSkills = DefaultMaxSkills
	}
	if cfg.PruneThreshold <= 0 {
		cfg.PruneThreshold = cfg.MaxSkills
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultLearningWorkerTimeout
	}
	return cfg
}

// WorkerConfig derives the Worker's mechanical tuning knobs from this
// LearningConfig. Disabling deduplication raises the similarity threshold
// above 1.0, which no Jaccard score can reach, so findDuplicate never
// matches.
func (c LearningConfig) WorkerConfig(queueCapacity int) WorkerConfig {
	thresh := c.SimilarityThreshold
	if !c.DeduplicationEnabled {
		thresh = 1.01
	}
	return WorkerConfig{
		QueueCapacity:    queueCapacity,
		SimilarityThresh: thresh,
		PruneThreshold:   c.PruneThreshold,
		WorkerTimeout:    c.WorkerTimeout,
	}
}
