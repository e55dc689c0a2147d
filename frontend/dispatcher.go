// Package frontend serves the agent over HTTP: a Dispatcher that turns one
// POST into one agent call, and a Server that routes the index page and the
// agent endpoint.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PipeOpsHQ/agent-web/observe"
	"github.com/PipeOpsHQ/agent-web/types"
)

const (
	queryField = "query"

	contentTypeText = "text/plain"
	contentTypeHTML = "text/html"

	requestIDHeader = "X-Request-Id"

	DefaultAgentTimeout = 120 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// AgentClient turns a query into a reply. It may block for a long time and
// may fail with an error matching llm.ErrThrottled.
type AgentClient interface {
	Run(ctx context.Context, query string) (string, error)
}

// Dispatcher handles requests to the agent endpoint. Every request it sees
// gets the next id from a process-wide counter starting at 1.
type Dispatcher struct {
	agent        AgentClient
	logger       *slog.Logger
	observer     observe.Sink
	metrics      *Metrics
	timeout      time.Duration
	maxBodyBytes int64
	exposeErrors bool

	counter atomic.Uint64
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithObserver(observer observe.Sink) DispatcherOption {
	return func(d *Dispatcher) { d.observer = observer }
}

func WithMetrics(metrics *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// WithAgentTimeout bounds each agent call; <= 0 keeps the default.
func WithAgentTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithMaxBodyBytes(n int64) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBodyBytes = n
		}
	}
}

// WithExposeErrors controls whether failure details are included in
// response bodies. They are always logged.
func WithExposeErrors(expose bool) DispatcherOption {
	return func(d *Dispatcher) { d.exposeErrors = expose }
}

func NewDispatcher(agent AgentClient, opts ...DispatcherOption) (*Dispatcher, error) {
	if agent == nil {
		return nil, errors.New("agent client is required")
	}
	d := &Dispatcher{
		agent:        agent,
		logger:       slog.Default(),
		timeout:      DefaultAgentTimeout,
		maxBodyBytes: DefaultMaxBodyBytes,
		exposeErrors: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// LastID returns the most recently assigned request id, 0 before the first
// request.
func (d *Dispatcher) LastID() uint64 {
	return d.counter.Load()
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := d.counter.Add(1)
	start := time.Now()
	ctx := observe.WithRequestID(r.Context(), id)
	logger := d.logger.With("request_id", id)

	logger.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path)
	d.emit(ctx, types.Event{
		Type:      types.EventRequestReceived,
		Timestamp: start.UTC(),
		RequestID: id,
		Method:    r.Method,
		Path:      r.URL.Path,
	})
	if d.metrics != nil {
		d.metrics.LastRequestID.Set(float64(id))
	}

	outcome := d.dispatch(ctx, logger, w, r)
	status := outcome.StatusCode()

	w.Header().Set(requestIDHeader, strconv.FormatUint(id, 10))
	writeText(w, status, contentTypeText, outcome.Body(d.exposeErrors))

	elapsed := time.Since(start)
	if outcome.Failed() {
		logger.WarnContext(ctx, "request failed",
			"outcome", outcome.Kind.String(),
			"status", status,
			"error", outcome.Detail,
			"duration", elapsed,
		)
	} else {
		logger.InfoContext(ctx, "request completed",
			"outcome", outcome.Kind.String(),
			"status", status,
			"reply", outcome.Reply,
			"duration", elapsed,
		)
	}

	event := types.Event{
		Type:       types.EventRequestCompleted,
		Timestamp:  time.Now().UTC(),
		RequestID:  id,
		Method:     r.Method,
		Path:       r.URL.Path,
		StatusCode: status,
		Outcome:    outcome.Kind.String(),
		DurationMs: elapsed.Milliseconds(),
	}
	if outcome.Failed() {
		event.Type = types.EventRequestFailed
		event.Error = outcome.Detail
		if event.Error == "" {
			event.Error = outcome.Body(false)
		}
	}
	d.emit(ctx, event)
	if d.metrics != nil {
		d.metrics.OutcomesTotal.WithLabelValues(outcome.Kind.String()).Inc()
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, r *http.Request) Outcome {
	if r.Method != http.MethodPost {
		return Outcome{Kind: OutcomeMethodNotAllowed}
	}

	query, err := d.decodeQuery(w, r)
	if err != nil {
		return Outcome{Kind: OutcomeDecodeError, Detail: err.Error()}
	}
	if query == "" {
		logger.InfoContext(ctx, "no query received")
		return Outcome{Kind: OutcomeNoQuery}
	}
	logger.InfoContext(ctx, "query received", "query", query)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	reply, err := d.invoke(callCtx, query)
	if d.metrics != nil {
		d.metrics.AgentCallDuration.Observe(time.Since(start).Seconds())
	}
	return classify(reply, err)
}

// decodeQuery reads the form-encoded body and returns the first non-empty
// query value. The body is decoded whatever the Content-Type says. Pairs are
// split on '&' only, and a malformed pair is an error only when it is a
// query pair.
func (d *Dispatcher) decodeQuery(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	return formValue(string(body), queryField)
}

func formValue(body, field string) (string, error) {
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil || key != field {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", field, err)
		}
		if value != "" {
			return value, nil
		}
	}
	return "", nil
}

// invoke calls the agent, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, query string) (reply string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent panicked: %v", rec)
		}
	}()
	return d.agent.Run(ctx, query)
}

func (d *Dispatcher) emit(ctx context.Context, event types.Event) {
	if d.observer == nil {
		return
	}
	if err := d.observer.Emit(context.WithoutCancel(ctx), observe.FromRuntimeEvent(event)); err != nil {
		d.logger.DebugContext(ctx, "failed to record event", "request_id", event.RequestID, "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
