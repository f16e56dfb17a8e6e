package skillbook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ralph/pkg/obs"
)

// Reflector calls the configured reflection LLM with a structured request
// and parses its strict-JSON response. The engine wires this to an adapter
// call; skillbook has no adapter dependency so it can be tested without one.
type Reflector interface {
	Reflect(ctx context.Context, req ReflectorRequest) (ReflectorResponse, error)
}

// ReflectorFunc adapts a plain function to the Reflector interface.
type ReflectorFunc func(ctx context.Context, req ReflectorRequest) (ReflectorResponse, error)

func (f ReflectorFunc) Reflect(ctx context.Context, req ReflectorRequest) (ReflectorResponse, error) {
	return f(ctx, req)
}

// WorkerConfig tunes the background learning worker.
type WorkerConfig struct {
	QueueCapacity     int
	SimilarityThresh  float64
	PruneThreshold    int
	WorkerTimeout     time.Duration // drain budget on shutdown
}

// defaultWorkerConfig fills in any zero-value field with the same defaults
// LearningConfig documents, so a bare WorkerConfig{} behaves identically to
// NewLearningConfig(LearningConfig{DeduplicationEnabled: true}).WorkerConfig(64).
func defaultWorkerConfig(cfg WorkerConfig) WorkerConfig {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.SimilarityThresh <= 0 {
		cfg.SimilarityThresh = DefaultSimilarityThreshold
	}
	if cfg.PruneThreshold <= 0 {
		cfg.PruneThreshold = DefaultMaxSkills
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultLearningWorkerTimeout
	}
	return cfg
}

// Worker is the single background execution context that converts
// LearningTask items into Skillbook mutations. Producers enqueue
// non-blockingly; the main loop is never slowed down by reflection.
type Worker struct {
	cfg       WorkerConfig
	reflector Reflector
	store     *Store
	cache     *Cache

	mu    sync.RWMutex // guards sb; exclusive for worker mutation, shared for reads
	sb    Skillbook
	first bool // true until the first Load, used to gate seed merging

	queue   chan LearningTask
	dropped int
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker builds a Worker bound to a persistence Store and excerpt Cache.
// Callers must call Load before Start to establish initial state, and
// Start to launch the background goroutine.
func NewWorker(cfg WorkerConfig, reflector Reflector, store *Store, cache *Cache) *Worker {
	cfg = defaultWorkerConfig(cfg)
	return &Worker{
		cfg:       cfg,
		reflector: reflector,
		store:     store,
		cache:     cache,
		first:     true,
		queue:     make(chan LearningTask, cfg.QueueCapacity),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Load reads the persisted skillbook and, on first load only, merges any
// seed skills discovered under seedDir via DiscoverSeeds.
func (w *Worker) Load(seedDir string, now time.Time) error {
	sb, err := w.store.Load(now)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sb = sb
	if w.first && seedDir != "" {
		seeds := DiscoverSeeds(seedDir)
		for _, seed := range seeds.Skills {
			if _, _, dup := findDuplicate(w.sb.Skills, seed.Title, seed.Body, w.cfg.SimilarityThresh); !dup {
				w.sb.Skills = append(w.sb.Skills, seed)
			}
		}
	}
	w.first = false
	w.mu.Unlock()
	return nil
}

// Start launches the background worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Enqueue submits a task without blocking. If the queue is full, the oldest
// in-flight non-error task already buffered is dropped (counted) to make
// room — error/rollback tasks are prioritized for retention since they
// carry the highest-value learning signal.
func (w *Worker) Enqueue(task LearningTask) {
	select {
	case w.queue <- task:
		return
	default:
	}

	// Queue full: try to evict the oldest non-rollback task to make room.
	select {
	case evicted := <-w.queue:
		if evicted.ErrorDetail == "rollback" {
			// Put it back; drop the incoming task instead if it isn't
			// higher-priority itself.
			select {
			case w.queue <- evicted:
			default:
			}
			if task.ErrorDetail != "rollback" {
				w.dropped++
				return
			}
		} else {
			w.dropped++
		}
		select {
		case w.queue <- task:
		default:
			w.dropped++
		}
	default:
		w.dropped++
	}
}

// Dropped reports how many tasks have been dropped due to queue pressure.
func (w *Worker) Dropped() int { return w.dropped }

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case task := <-w.queue:
			w.process(ctx, task)
		case <-w.stopCh:
			w.drain(ctx)
			return
		case <-ctx.Done():
			w.drain(ctx)
			return
		}
	}
}

// drain processes remaining queued tasks for up to WorkerTimeout, then
// abandons the rest; persistence still occurs at shutdown regardless.
func (w *Worker) drain(ctx context.Context) {
	deadline := time.After(w.cfg.WorkerTimeout)
	for {
		select {
		case task := <-w.queue:
			w.process(ctx, task)
		case <-deadline:
			w.persist()
			return
		default:
			w.persist()
			return
		}
	}
}

// Shutdown signals the worker to stop and waits for it to drain (bounded by
// WorkerTimeout) or hard-stop.
func (w *Worker) Shutdown() {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(w.cfg.WorkerTimeout + time.Second):
	}
}

func (w *Worker) process(ctx context.Context, task LearningTask) {
	log := obs.WithTrace(ctx)

	req := ReflectorRequest{
		Goal:                task.Goal,
		Outcome:             task.Outcome,
		Evidence:            TruncateEvidence(task.Evidence),
		ExistingSkillTitles: w.existingTitles(),
		ErrorDetail:         task.ErrorDetail,
	}

	resp, err := w.reflector.Reflect(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("skillbook_reflector_failed")
		return
	}

	w.mu.Lock()
	now := time.Now().UTC()
	for _, ns := range resp.NewSkills {
		if idx, _, dup := findDuplicate(w.sb.Skills, ns.Title, ns.Body, w.cfg.SimilarityThresh); dup {
			w.sb.Skills[idx].Tags = mergeTags(w.sb.Skills[idx].Tags, ns.Tags)
			w.sb.Skills[idx].LastUsedAt = now
			log.Debug().Str("skill", w.sb.Skills[idx].ID).Msg("skills_deduplicated")
			continue
		}
		w.sb.Skills = append(w.sb.Skills, Skill{
			ID:                 newSkillID(),
			Title:              ns.Title,
			Body:               ns.Body,
			Tags:               ns.Tags,
			SuccessCorrelation: initialCorrelation(task.Outcome),
			CreatedAt:          now,
			LastUsedAt:         now,
		})
	}

	for _, us := range resp.UpdatedSkills {
		for i := range w.sb.Skills {
			if w.sb.Skills[i].ID == us.ID {
				w.sb.Skills[i].Body = us.Body
				w.sb.Skills[i].LastUsedAt = now
			}
		}
	}

	discard := make(map[string]struct{}, len(resp.DiscardSkills))
	for _, id := range resp.DiscardSkills {
		discard[id] = struct{}{}
	}
	if len(discard) > 0 {
		kept := w.sb.Skills[:0]
		for _, sk := range w.sb.Skills {
			if _, drop := discard[sk.ID]; !drop {
				kept = append(kept, sk)
			}
		}
		w.sb.Skills = kept
	}

	pruned, dropped := Prune(w.sb.Skills, w.cfg.PruneThreshold, now)
	w.sb.Skills = pruned
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("skillbook_pruned")
	}
	w.mu.Unlock()

	if w.cache != nil {
		w.cache.Invalidate(w.promptKey())
	}

	if err := w.persistLocked(); err != nil {
		log.Warn().Err(err).Msg("skillbook_persist_failed")
	}
}

func (w *Worker) persist() {
	if err := w.persistLocked(); err != nil {
		obs.WithTrace(context.Background()).Warn().Err(err).Msg("skillbook_persist_failed_at_shutdown")
	}
}

// persistLocked writes the current skillbook to disk, retrying once on
// failure before giving up and letting the caller log it.
func (w *Worker) persistLocked() error {
	w.mu.RLock()
	snapshot := w.sb
	w.mu.RUnlock()

	err := w.store.Save(snapshot)
	if err == nil {
		return nil
	}
	return w.store.Save(snapshot)
}

func (w *Worker) existingTitles() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.sb.Skills))
	for i, sk := range w.sb.Skills {
		out[i] = sk.Title
	}
	return out
}

func (w *Worker) promptKey() string { return "default" }

// TopKForPrompt selects the top-K skills for the current prompt/task under
// the exclusive lock, updates each selected skill's usage fields, and returns a
// rendered excerpt string ready for the skills section.
func (w *Worker) TopKForPrompt(prompt string, taskTags []string, k, budget int, estimateTokens func(string) int) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	selected := SelectTopK(w.sb.Skills, prompt, taskTags, k, budget, estimateTokens)
	now := time.Now().UTC()
	selectedIDs := make(map[string]struct{}, len(selected))
	for _, sk := range selected {
		selectedIDs[sk.ID] = struct{}{}
	}
	for i := range w.sb.Skills {
		if _, ok := selectedIDs[w.sb.Skills[i].ID]; ok {
			w.sb.Skills[i].UsageCount++
			w.sb.Skills[i].LastUsedAt = now
		}
	}
	return renderExcerpt(selected)
}

// UpdateOutcome applies the incremental success-correlation update
// new = old + 0.1*(outcome - old) to every skill injected in the iteration
// that produced outcome (1.0 for success, 0.0 for failure).
func (w *Worker) UpdateOutcome(skillIDs []string, outcome float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make(map[string]struct{}, len(skillIDs))
	for _, id := range skillIDs {
		ids[id] = struct{}{}
	}
	for i := range w.sb.Skills {
		if _, ok := ids[w.sb.Skills[i].ID]; ok {
			old := w.sb.Skills[i].SuccessCorrelation
			w.sb.Skills[i].SuccessCorrelation = old + 0.1*(outcome-old)
		}
	}
}

// Snapshot returns a copy of the current skill set for inspection/tests.
func (w *Worker) Snapshot() []Skill {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Skill, len(w.sb.Skills))
	copy(out, w.sb.Skills)
	return out
}

func initialCorrelation(outcome string) float64 {
	if outcome == "success" {
		return 0.6
	}
	return 0.4
}

func newSkillID() string {
	return uuid.NewString()
}

func renderExcerpt(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var out string
	for _, sk := range skills {
		out += "- " + sk.Title + ": " + sk.Body + "\n"
	}
	return out
}
