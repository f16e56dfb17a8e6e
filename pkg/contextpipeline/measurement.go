package contextpipeline

import (
	"sync"
)

// MeasurePoint names the five points in the assembly/execution lifecycle a
// ContextMeasurement is taken at.
type MeasurePoint string

const (
	IterationStart MeasurePoint = "iteration_start"
	AfterPrompt    MeasurePoint = "after_prompt"
	AfterSkills    MeasurePoint = "after_skills"
	AfterTools     MeasurePoint = "after_tools"
	AfterResponse  MeasurePoint = "after_response"
)

// HealthBand is the symbolic indicator derived from percent-of-limit.
type HealthBand string

const (
	HealthOK       HealthBand = "ok"       // < 60%
	HealthElevated HealthBand = "elevated" // 60-85%
	HealthCritical HealthBand = "critical" // > 85%
)

// ContextMeasurement is one instrumentation sample.
type ContextMeasurement struct {
	Iteration     int          `json:"iteration"`
	Point         MeasurePoint `json:"point"`
	Tokens        int          `json:"tokens"`
	Limit         int          `json:"limit"`
	PercentOfLimit float64     `json:"percent_of_limit"`
	Health        HealthBand   `json:"health"`
}

// Health classifies a percent-of-limit value into its symbolic band.
func Health(percent float64) HealthBand {
	switch {
	case percent > 85:
		return HealthCritical
	case percent >= 60:
		return HealthElevated
	default:
		return HealthOK
	}
}

func newMeasurement(iteration int, point MeasurePoint, tokens, limit int) ContextMeasurement {
	pct := 0.0
	if limit > 0 {
		pct = float64(tokens) * 100 / float64(limit)
	}
	return ContextMeasurement{
		Iteration:      iteration,
		Point:          point,
		Tokens:         tokens,
		Limit:          limit,
		PercentOfLimit: pct,
		Health:         Health(pct),
	}
}

// Timeline accumulates measurements in memory across iterations and exposes
// them for disk flush every iteration (the flush mechanics belong to the
// engine, which owns the filesystem path; Timeline only owns the buffer).
type Timeline struct {
	mu    sync.Mutex
	items []ContextMeasurement
}

// NewTimeline builds an empty instrumentation timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Record appends a measurement for the given iteration/point.
func (t *Timeline) Record(iteration int, point MeasurePoint, tokens, limit int) ContextMeasurement {
	m := newMeasurement(iteration, point, tokens, limit)
	t.mu.Lock()
	t.items = append(t.items, m)
	t.mu.Unlock()
	return m
}

// Snapshot returns a copy of all measurements recorded so far, in order.
func (t *Timeline) Snapshot() []ContextMeasurement {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ContextMeasurement, len(t.items))
	copy(out, t.items)
	return out
}

// ForIteration filters the timeline to a single iteration's measurements.
func (t *Timeline) ForIteration(iteration int) []ContextMeasurement {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ContextMeasurement, 0, 5)
	for _, m := range t.items {
		if m.Iteration == iteration {
			out = append(out, m)
		}
	}
	return out
}
