package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	agentfw "github.com/PipeOpsHQ/agent-web/agent"
	"github.com/PipeOpsHQ/agent-web/internal/config"
	"github.com/PipeOpsHQ/agent-web/llm"
	"github.com/PipeOpsHQ/agent-web/observe"
	observeotel "github.com/PipeOpsHQ/agent-web/observe/otel"
	observesqlite "github.com/PipeOpsHQ/agent-web/observe/store/sqlite"
	providerfactory "github.com/PipeOpsHQ/agent-web/providers/factory"
)

const (
	serviceName    = "agent-web"
	observerBuffer = 256
)

// runtimeComponents holds everything built from configuration that outlives a request.
type runtimeComponents struct {
	logger         *slog.Logger
	provider       llm.Provider
	agent          *agentfw.Agent
	observer       observe.Sink
	tracerProvider *sdktrace.TracerProvider
	closers        []func()
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// buildRuntime assembles the tracer, observer chain, provider and the one
// shared agent. Close must be called even when an error is returned.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, traceOut io.Writer) (*runtimeComponents, error) {
	rt := &runtimeComponents{logger: logger}

	tp, err := buildTracerProvider(cfg.Tracing, traceOut)
	if err != nil {
		return rt, err
	}
	if tp != nil {
		rt.tracerProvider = tp
		rt.closers = append(rt.closers, func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		})
	}
	rt.observer = rt.buildObserver(cfg)

	provider, err := providerfactory.FromConfig(ctx, cfg.Model)
	if err != nil {
		return rt, err
	}
	rt.provider = provider

	agent, err := agentfw.New(provider,
		agentfw.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agentfw.WithParams(cfg.Model.Params()),
		agentfw.WithContextLimits(0, cfg.Agent.MaxHistory),
		agentfw.WithObserver(rt.observer),
		agentfw.WithMiddleware(agentfw.LoggingMiddleware{Logger: logger}),
	)
	if err != nil {
		return rt, fmt.Errorf("failed to create agent: %w", err)
	}
	rt.agent = agent
	logger.Info("agent ready",
		"provider", provider.Name(),
		"model", cfg.Model.Name,
		"session_id", agent.SessionID(),
	)
	return rt, nil
}

func buildTracerProvider(cfg config.TracingConfig, out io.Writer) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	}
	if cfg.Exporter == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// buildObserver chains the debug log sink with the OpenTelemetry sink and
// the sqlite trace store when they are configured.
func (rt *runtimeComponents) buildObserver(cfg *config.Config) observe.Sink {
	sinks := []observe.Sink{observe.LogSink{Logger: rt.logger}}
	if rt.tracerProvider != nil {
		sinks = append(sinks, observeotel.NewSink(rt.tracerProvider))
	}
	if cfg.TraceStore.Path != "" {
		traceStore, err := observesqlite.New(cfg.TraceStore.Path)
		if err != nil {
			rt.logger.Warn("trace store disabled", "path", cfg.TraceStore.Path, "error", err)
		} else {
			async := observe.NewAsyncSink(observe.SinkFunc(func(ctx context.Context, event observe.Event) error {
				return traceStore.SaveEvent(ctx, event)
			}), observerBuffer)
			sinks = append(sinks, async)
			rt.closers = append(rt.closers, func() {
				async.Close()
				if dropped := async.Dropped(); dropped > 0 {
					rt.logger.Warn("trace events dropped", "count", dropped)
				}
				_ = traceStore.Close()
			})
		}
	}
	return observe.NewMultiSink(sinks...)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtimeComponents) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
