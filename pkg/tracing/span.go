// Package tracing times one search: a Trace per query holding one span per
// shard worker. A finished trace is logged as a single debug record.
package tracing

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

type traceKey struct{}

// Trace collects the spans of one query. It is safe for concurrent use by
// the shard workers.
type Trace struct {
	ID    string
	Name  string
	Start time.Time

	mu       sync.Mutex
	attrs    []slog.Attr
	spans    []*Span
	duration time.Duration
}

// Span is one timed step inside a trace.
type Span struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	Attrs    []slog.Attr

	trace *Trace
}

// Start begins a trace and stores it in the returned context.
func Start(ctx context.Context, name, id string) (context.Context, *Trace) {
	t := &Trace{ID: id, Name: name, Start: time.Now()}
	return context.WithValue(ctx, traceKey{}, t), t
}

// FromContext returns the trace carried by ctx, or nil.
func FromContext(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

// Begin opens a span on the trace in ctx. Without a trace the span still
// measures but is never reported.
func Begin(ctx context.Context, name string) *Span {
	s := &Span{Name: name, Start: time.Now(), trace: FromContext(ctx)}
	if s.trace != nil {
		s.trace.mu.Lock()
		s.trace.spans = append(s.trace.spans, s)
		s.trace.mu.Unlock()
	}
	return s
}

// End stops the span and attaches attrs to it.
func (s *Span) End(attrs ...slog.Attr) {
	if s.trace != nil {
		s.trace.mu.Lock()
		defer s.trace.mu.Unlock()
	}
	s.Duration = time.Since(s.Start)
	s.Attrs = append(s.Attrs, attrs...)
}

// Annotate attaches attrs to the trace itself.
func (t *Trace) Annotate(attrs ...slog.Attr) {
	t.mu.Lock()
	t.attrs = append(t.attrs, attrs...)
	t.mu.Unlock()
}

// End stops the trace and returns its duration.
func (t *Trace) End() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = time.Since(t.Start)
	return t.duration
}

// Spans returns a snapshot of the spans in the order they were opened.
func (t *Trace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	for i, s := range t.spans {
		out[i] = Span{Name: s.Name, Start: s.Start, Duration: s.Duration, Attrs: append([]slog.Attr(nil), s.Attrs...)}
	}
	return out
}

// Log writes the trace to logger at debug level. Each span becomes a group
// named after it and its position, e.g. shard_0.
func (t *Trace) Log(ctx context.Context, logger *slog.Logger) {
	if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	t.mu.Lock()
	attrs := []slog.Attr{
		slog.String("trace_id", t.ID),
		slog.String("trace", t.Name),
		slog.Int64("duration_ms", t.duration.Milliseconds()),
	}
	attrs = append(attrs, t.attrs...)
	for i, s := range t.spans {
		group := append([]any{slog.Int64("duration_ms", s.Duration.Milliseconds())}, attrsToAny(s.Attrs)...)
		attrs = append(attrs, slog.Group(s.Name+"_"+strconv.Itoa(i), group...))
	}
	t.mu.Unlock()
	logger.LogAttrs(ctx, slog.LevelDebug, "trace", attrs...)
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
