package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PipeOpsHQ/agent-web/llm"
	"github.com/PipeOpsHQ/agent-web/observe"
	"github.com/PipeOpsHQ/agent-web/types"
)

var ErrEmptyInput = errors.New("input is required")

// Agent is a conversational agent shared by every caller in the process. It
// remembers the conversation in memory and runs one generation at a time, so
// turns are appended in the order callers acquire it.
type Agent struct {
	provider     llm.Provider
	systemPrompt string
	sessionID    string
	params       types.GenerationParams
	contextMgr   *ContextManager
	middlewares  []Middleware
	observer     observe.Sink

	// slot holds a token while a generation is in flight.
	slot    chan struct{}
	history []types.Message
	turns   int
}

type Option func(*Agent)

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = strings.TrimSpace(prompt) }
}

// WithParams sets the generation parameters sent with every turn.
func WithParams(params types.GenerationParams) Option {
	return func(a *Agent) { a.params = params }
}

// WithContextLimits bounds the conversation window sent per turn and the
// number of messages kept in memory.
func WithContextLimits(maxTokens, maxMessages int) Option {
	return func(a *Agent) { a.contextMgr = NewContextManager(maxTokens, maxMessages) }
}

func WithSessionID(sessionID string) Option {
	return func(a *Agent) {
		if sessionID != "" {
			a.sessionID = sessionID
		}
	}
}

func WithMiddleware(middlewares ...Middleware) Option {
	return func(a *Agent) {
		for _, middleware := range middlewares {
			if middleware != nil {
				a.middlewares = append(a.middlewares, middleware)
			}
		}
	}
}

func WithObserver(observer observe.Sink) Option {
	return func(a *Agent) {
		a.observer = observer
	}
}

func New(provider llm.Provider, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}

	a := &Agent{
		provider:   provider,
		contextMgr: NewContextManager(0, 0),
		slot:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	return a, nil
}

func (a *Agent) Provider() string { return a.provider.Name() }

func (a *Agent) SessionID() string { return a.sessionID }

// Run sends input as the next user turn and returns the assistant reply.
func (a *Agent) Run(ctx context.Context, input string) (string, error) {
	result, err := a.RunDetailed(ctx, input)
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// RunDetailed makes exactly one provider call. Failures, throttling
// included, are returned to the caller without retrying. Input is sent
// verbatim; only the empty string is rejected.
func (a *Agent) RunDetailed(ctx context.Context, input string) (types.RunResult, error) {
	if input == "" {
		return types.RunResult{}, ErrEmptyInput
	}
	if err := a.acquire(ctx); err != nil {
		return types.RunResult{}, fmt.Errorf("waiting for agent: %w", err)
	}
	defer a.release()

	runID := uuid.NewString()
	turn := a.turns + 1
	startedAt := time.Now().UTC()
	a.emit(ctx, types.Event{
		Type:      types.EventRunStarted,
		Timestamp: startedAt,
		RunID:     runID,
		Turn:      turn,
		Message:   "run started",
	})

	userMsg := types.Message{Role: types.RoleUser, Content: input}
	req := types.Request{
		SystemPrompt: a.systemPrompt,
		Messages:     a.contextMgr.Window(a.history, userMsg, a.systemPrompt, a.params.MaxOutputTokens),
		Params:       a.params,
	}

	genEvent := &GenerateMiddlewareEvent{
		RunID:     runID,
		SessionID: a.sessionID,
		Provider:  a.provider.Name(),
		Turn:      turn,
		StartedAt: time.Now().UTC(),
		Request:   &req,
	}
	a.emit(ctx, types.Event{Type: types.EventBeforeGenerate, Timestamp: genEvent.StartedAt, RunID: runID, Turn: turn})
	if err := a.runBeforeGenerate(ctx, genEvent); err != nil {
		return types.RunResult{}, a.fail(ctx, runID, turn, "before_generate", fmt.Errorf("middleware before-generate failed: %w", err))
	}

	resp, err := a.provider.Generate(ctx, req)
	if err != nil {
		return types.RunResult{}, a.fail(ctx, runID, turn, "generate", fmt.Errorf("generation failed: %w", err))
	}

	genEvent.FinishedAt = time.Now().UTC()
	genEvent.Response = &resp
	if err := a.runAfterGenerate(ctx, genEvent); err != nil {
		return types.RunResult{}, a.fail(ctx, runID, turn, "after_generate", fmt.Errorf("middleware after-generate failed: %w", err))
	}
	a.emit(ctx, types.Event{
		Type:       types.EventAfterGenerate,
		Timestamp:  genEvent.FinishedAt,
		RunID:      runID,
		Turn:       turn,
		DurationMs: genEvent.FinishedAt.Sub(genEvent.StartedAt).Milliseconds(),
	})

	reply := resp.Message
	reply.Role = types.RoleAssistant

	a.history = a.contextMgr.Compact(append(a.history, userMsg, types.Message{Role: types.RoleAssistant, Content: reply.Content}))
	a.turns = turn

	completedAt := time.Now().UTC()
	a.emit(ctx, types.Event{
		Type:       types.EventRunCompleted,
		Timestamp:  completedAt,
		RunID:      runID,
		Turn:       turn,
		DurationMs: completedAt.Sub(startedAt).Milliseconds(),
		Message:    "run completed",
	})

	return types.RunResult{
		Output:      reply.Content,
		Usage:       copyUsage(resp.Usage),
		Provider:    a.provider.Name(),
		RunID:       runID,
		SessionID:   a.sessionID,
		Turn:        turn,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
	}, nil
}

// History returns a copy of the remembered conversation.
func (a *Agent) History(ctx context.Context) ([]types.Message, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return append([]types.Message(nil), a.history...), nil
}

// Reset forgets the conversation.
func (a *Agent) Reset(ctx context.Context) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()
	a.history = nil
	a.turns = 0
	return nil
}

func (a *Agent) acquire(ctx context.Context) error {
	select {
	case a.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) release() { <-a.slot }

func (a *Agent) fail(ctx context.Context, runID string, turn int, stage string, err error) error {
	a.notifyError(ctx, &ErrorMiddlewareEvent{
		RunID:     runID,
		SessionID: a.sessionID,
		Provider:  a.provider.Name(),
		Turn:      turn,
		Stage:     stage,
		Err:       err,
	})
	a.emit(ctx, types.Event{
		Type:      types.EventRunFailed,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Turn:      turn,
		Error:     err.Error(),
		Message:   "run failed",
	})
	return err
}

func (a *Agent) runBeforeGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	for _, middleware := range a.middlewares {
		if err := middleware.BeforeGenerate(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) runAfterGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	for _, middleware := range a.middlewares {
		if err := middleware.AfterGenerate(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) notifyError(ctx context.Context, event *ErrorMiddlewareEvent) {
	for _, middleware := range a.middlewares {
		func(m Middleware) {
			defer func() { _ = recover() }()
			m.OnError(ctx, event)
		}(middleware)
	}
}

func (a *Agent) emit(ctx context.Context, event types.Event) {
	if a.observer == nil {
		return
	}
	event.SessionID = a.sessionID
	event.Provider = a.provider.Name()
	event.RequestID = observe.RequestIDFromContext(ctx)
	_ = a.observer.Emit(context.WithoutCancel(ctx), observe.FromRuntimeEvent(event))
}

func copyUsage(in *types.Usage) *types.Usage {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
