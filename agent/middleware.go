package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PipeOpsHQ/agent-web/types"
)

type Middleware interface {
	BeforeGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error
	AfterGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error
	OnError(ctx context.Context, event *ErrorMiddlewareEvent)
}

type NoopMiddleware struct{}

func (NoopMiddleware) BeforeGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if event == nil {
		return fmt.Errorf("before-generate event is required")
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now().UTC()
	}
	if event.Request == nil {
		event.Request = &types.Request{}
	}
	return nil
}

func (NoopMiddleware) AfterGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if event == nil {
		return fmt.Errorf("after-generate event is required")
	}
	if event.FinishedAt.IsZero() {
		event.FinishedAt = time.Now().UTC()
	}
	return nil
}

func (NoopMiddleware) OnError(ctx context.Context, event *ErrorMiddlewareEvent) {
	if event == nil {
		return
	}
	if event.Stage == "" {
		event.Stage = "unknown"
	}
	if event.Err == nil && ctx != nil && ctx.Err() != nil {
		event.Err = ctx.Err()
	}
}

// LoggingMiddleware records generation timing and failures on a slog logger.
type LoggingMiddleware struct {
	NoopMiddleware
	Logger *slog.Logger
}

func (m LoggingMiddleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m LoggingMiddleware) AfterGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	if err := m.NoopMiddleware.AfterGenerate(ctx, event); err != nil {
		return err
	}
	attrs := []any{
		"run_id", event.RunID,
		"provider", event.Provider,
		"turn", event.Turn,
		"duration", event.FinishedAt.Sub(event.StartedAt),
	}
	if event.Response != nil && event.Response.Usage != nil {
		attrs = append(attrs, "total_tokens", event.Response.Usage.TotalTokens)
	}
	m.logger().DebugContext(ctx, "generation completed", attrs...)
	return nil
}

func (m LoggingMiddleware) OnError(ctx context.Context, event *ErrorMiddlewareEvent) {
	m.NoopMiddleware.OnError(ctx, event)
	if event == nil {
		return
	}
	m.logger().WarnContext(ctx, "generation failed",
		"run_id", event.RunID,
		"provider", event.Provider,
		"stage", event.Stage,
		"error", event.Err,
	)
}

type GenerateMiddlewareEvent struct {
	RunID      string
	SessionID  string
	Provider   string
	Turn       int
	StartedAt  time.Time
	FinishedAt time.Time
	Request    *types.Request
	Response   *types.Response
}

type ErrorMiddlewareEvent struct {
	RunID     string
	SessionID string
	Provider  string
	Turn      int
	Stage     string
	Err       error
}
