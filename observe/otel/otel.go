// Package otel bridges observe.Sink to OpenTelemetry tracing.
//
// Dispatcher requests, agent runs and provider calls become spans so they can
// be inspected in any OpenTelemetry-compatible backend.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/PipeOpsHQ/agent-web/observe"
)

const instrumentationName = "github.com/PipeOpsHQ/agent-web"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// A nil tp falls back to a noop provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an observe.Event into a span. The span is parented on any
// span already carried by ctx.
func (s *Sink) Emit(ctx context.Context, event observe.Event) error {
	event.Normalize()
	if ctx == nil {
		ctx = context.Background()
	}

	startTime := event.Timestamp
	_, span := s.tracer.Start(ctx, spanNameFor(event), trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("agent.event.kind", string(event.Kind)),
	}
	if event.RequestID > 0 {
		attrs = append(attrs, attribute.Int64("agent.request.id", int64(event.RequestID)))
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("agent.run.id", event.RunID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("agent.session.id", event.SessionID))
	}
	if event.Provider != "" {
		attrs = append(attrs, attribute.String("agent.provider", event.Provider))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("agent.status", string(event.Status)))
	}
	if event.Outcome != "" {
		attrs = append(attrs, attribute.String("agent.outcome", event.Outcome))
	}
	if event.StatusCode > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", event.StatusCode))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("agent.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("agent.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("agent.attr."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	switch event.Status {
	case observe.StatusFailed:
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	case observe.StatusCompleted:
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindRequest:
		return "agent.request"
	case observe.KindRun:
		return "agent.run"
	case observe.KindProvider:
		if event.Provider != "" {
			return "agent.llm." + event.Provider
		}
		return "agent.llm.generate"
	default:
		if event.Name != "" {
			return "agent." + event.Name
		}
		return "agent.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
