// Package obs provides a trace-correlated structured logger shared across
// the orchestrator's subsystems.
package obs

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// InitLogger initializes zerolog with sane defaults for a long-running CLI
// process. If logPath is non-empty, logs go to that file (append mode)
// instead of stdout, so the drive loop's own stdout stays clean. A file
// that fails to open falls back to stdout with a stderr warning.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// WithTrace returns a zerolog.Logger enriched with trace_id/span_id from ctx,
// if a sampled span is present.
func WithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
	}
	return &l
}

// Iteration logs the structured per-iteration summary line required by the
// error-handling design: iteration number, duration, token counts, outcome,
// and error kind (if any).
func Iteration(ctx context.Context, iteration int, durationSeconds float64, inputTokens, outputTokens int, outcome string, errKind string) {
	evt := WithTrace(ctx).Info().
		Int("iteration", iteration).
		Float64("duration_seconds", durationSeconds).
		Int("input_tokens", inputTokens).
		Int("output_tokens", outputTokens).
		Str("outcome", outcome)
	if errKind != "" {
		evt = evt.Str("error_kind", errKind)
	}
	evt.Msg("ralph_iteration")
}
