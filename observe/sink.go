package observe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrSinkClosed is returned by AsyncSink.Emit after Close.
var ErrSinkClosed = errors.New("observe: sink closed")

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) error { return nil }

type MultiSink struct {
	sinks []Sink
}

// NewMultiSink fans events out to every non-nil sink. The first error stops
// the fan-out.
func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// AsyncSink decouples the request path from slow downstream sinks. Events are
// dropped, and counted, when the buffer is full.
type AsyncSink struct {
	downstream Sink
	queue      chan Event
	done       chan struct{}

	// mu guards closed and the close of queue against concurrent sends.
	mu     sync.RWMutex
	closed bool

	dropped    atomic.Int64
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	go as.loop()
	return as
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		s.dropped.Add(1)
		return nil
	}
}

// Dropped reports how many events were discarded under pressure.
func (s *AsyncSink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain. Emit
// returns ErrSinkClosed afterwards.
func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for event := range s.queue {
		_ = s.downstream.Emit(context.Background(), event)
	}
}

// LogSink writes each event as a debug-level structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"kind", string(event.Kind),
		"status", string(event.Status),
	}
	if event.RequestID > 0 {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.RunID != "" {
		attrs = append(attrs, "run_id", event.RunID)
	}
	if event.Outcome != "" {
		attrs = append(attrs, "outcome", event.Outcome)
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	logger.DebugContext(ctx, "trace event", attrs...)
	return nil
}
