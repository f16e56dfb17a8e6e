package skillbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJaccardSimilarityIdenticalText(t *testing.T) {
	t.Parallel()
	sim := jaccardSimilarity("use rg instead of grep for searching", "use rg instead of grep for searching")
	assert.Equal(t, 1.0, sim)
}

func TestJaccardSimilarityDisjointText(t *testing.T) {
	t.Parallel()
	sim := jaccardSimilarity("alpha beta gamma", "delta epsilon zeta")
	assert.Equal(t, 0.0, sim)
}

func TestFindDuplicateAboveThreshold(t *testing.T) {
	t.Parallel()
	existing := []Skill{{ID: "s1", Title: "use rg", Body: "prefer rg over grep for searching code"}}
	idx, sim, found := findDuplicate(existing, "use rg tool", "prefer rg over grep when searching code", 0.5)
	require.True(t, found)
	assert.Equal(t, 0, idx)
	assert.Greater(t, sim, 0.5)
}

func TestPruneDropsLowestScoring(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	old := now.Add(-60 * 24 * time.Hour)
	skills := []Skill{
		{ID: "low", SuccessCorrelation: 0.1, UsageCount: 0, LastUsedAt: old},
		{ID: "high", SuccessCorrelation: 0.9, UsageCount: 10, LastUsedAt: now},
	}
	kept, dropped := Prune(skills, 1, now)
	require.Equal(t, 1, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, "high", kept[0].ID)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "skillbook.json")
	store := NewStore(path)

	sb := Skillbook{Skills: []Skill{{ID: "a", Title: "t", Body: "b", CreatedAt: time.Now().UTC()}}}
	require.NoError(t, store.Save(sb))

	loaded, err := store.Load(time.Now())
	require.NoError(t, err)
	require.Len(t, loaded.Skills, 1)
	assert.Equal(t, "a", loaded.Skills[0].ID)
	assert.Equal(t, CurrentVersion, loaded.Version)
}

func TestStoreLoadCorruptFilePreservesOriginal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "skillbook.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path)
	now := time.Unix(1700000000, 0)
	sb, err := store.Load(now)
	require.NoError(t, err)
	assert.Empty(t, sb.Skills)

	broken, err := os.ReadFile(path + ".broken-1700000000")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(broken))
}

func TestWorkerEnqueueAndProcessCreatesSkill(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "skillbook.json"))
	cache := NewCache()

	reflector := ReflectorFunc(func(ctx context.Context, req ReflectorRequest) (ReflectorResponse, error) {
		return ReflectorResponse{
			NewSkills: []NewSkill{{Title: "retry transient errors", Body: "wrap transport calls with bounded retry", Tags: []string{"reliability"}}},
		}, nil
	})

	w := NewWorker(WorkerConfig{QueueCapacity: 4, WorkerTimeout: time.Second}, reflector, store, cache)
	require.NoError(t, w.Load("", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.Enqueue(LearningTask{Goal: "fix flaky test", Outcome: "success", Evidence: "trace..."})

	require.Eventually(t, func() bool {
		return len(w.Snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	w.Shutdown()

	sb, err := store.Load(time.Now())
	require.NoError(t, err)
	assert.Len(t, sb.Skills, 1)
}

func TestWorkerDeduplicatesAgainstExistingSkill(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "skillbook.json"))
	require.NoError(t, store.Save(Skillbook{Skills: []Skill{{
		ID: "existing", Title: "prefer rg", Body: "use rg instead of grep when searching the repository",
		CreatedAt: time.Now(), LastUsedAt: time.Now(),
	}}}))

	reflector := ReflectorFunc(func(ctx context.Context, req ReflectorRequest) (ReflectorResponse, error) {
		return ReflectorResponse{
			NewSkills: []NewSkill{{Title: "prefer rg tool", Body: "use rg instead of grep when searching the repository", Tags: []string{"cli"}}},
		}, nil
	})

	w := NewWorker(WorkerConfig{SimilarityThresh: 0.5, WorkerTimeout: time.Second}, reflector, store, NewCache())
	require.NoError(t, w.Load("", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	w.Enqueue(LearningTask{Goal: "search faster", Outcome: "success"})

	require.Eventually(t, func() bool {
		return len(w.Snapshot()) == 1 && len(w.Snapshot()[0].Tags) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	w.Shutdown()
}

func TestSelectTopKFitsBudget(t *testing.T) {
	t.Parallel()
	skills := []Skill{
		{ID: "1", Title: "a", Body: "alpha beta gamma"},
		{ID: "2", Title: "b", Body: "delta epsilon zeta eta theta"},
	}
	estimate := func(s string) int { return len(s) / 4 }
	out := SelectTopK(skills, "alpha beta", nil, 5, 5, estimate)
	assert.NotEmpty(t, out)
}

func TestDiscoverSeedsParsesFrontmatter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	skillDir := filepath.Join(dir, ".skills", "retry")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	content := "---\ntitle: retry transient errors\ntags: [reliability]\n---\nWrap network calls in bounded retry.\n"
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, skillFileName), []byte(content), 0o644))

	outcome := DiscoverSeeds(dir)
	require.Len(t, outcome.Skills, 1)
	assert.Equal(t, "retry transient errors", outcome.Skills[0].Title)
	assert.Contains(t, outcome.Skills[0].Tags, "reliability")
}
