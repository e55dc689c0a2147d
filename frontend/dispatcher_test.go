package frontend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PipeOpsHQ/agent-web/llm"
	"github.com/PipeOpsHQ/agent-web/observe"
)

type fakeAgent struct {
	mu      sync.Mutex
	queries []string
	reply   string
	err     error
	run     func(ctx context.Context, query string) (string, error)
}

func (f *fakeAgent) Run(ctx context.Context, query string) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, query)
	}
	return f.reply, f.err
}

func (f *fakeAgent) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func newTestDispatcher(t *testing.T, agent AgentClient, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	d, err := NewDispatcher(agent, append([]DispatcherOption{WithLogger(logger)}, opts...)...)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d
}

func post(d http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, DefaultAgentPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func TestDispatcher_RejectsNonPost(t *testing.T) {
	agent := &fakeAgent{reply: "unused"}
	d := newTestDispatcher(t, agent)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, DefaultAgentPath, strings.NewReader("query=hello"))
			rec := httptest.NewRecorder()
			d.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d, want 405", rec.Code)
			}
			if method != http.MethodHead && rec.Body.String() != "Only POST requests are allowed" {
				t.Fatalf("body = %q", rec.Body.String())
			}
		})
	}
	if len(agent.calls()) != 0 {
		t.Fatalf("agent should never be invoked, got %v", agent.calls())
	}
}

func TestDispatcher_NoQuery(t *testing.T) {
	agent := &fakeAgent{reply: "unused"}
	d := newTestDispatcher(t, agent)

	for _, body := range []string{"", "query=", "other=value", "other=%zz"} {
		t.Run(fmt.Sprintf("%q", body), func(t *testing.T) {
			rec := post(d, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if rec.Body.String() != "Error: No query received." {
				t.Fatalf("body = %q", rec.Body.String())
			}
		})
	}
	if len(agent.calls()) != 0 {
		t.Fatalf("agent should never be invoked, got %v", agent.calls())
	}
}

func TestDispatcher_Success(t *testing.T) {
	agent := &fakeAgent{reply: "hi there"}
	d := newTestDispatcher(t, agent)

	rec := post(d, "query=hello")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hi there" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "hi there")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if got := agent.calls(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("agent calls = %v", got)
	}
}

func TestDispatcher_DecodesQuery(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"query=hello+world%21", "hello world!"},
		{"query=first&query=second", "first"},
		{"lang=en&query=caf%C3%A9", "café"},
		{"query=%20", " "},
		{"query=%20%20", "  "},
		{"query=a;b", "a;b"},
		{"query=hi&x=%zz", "hi"},
		{"x=%zz&query=hi", "hi"},
		{"query=&query=later", "later"},
		{"query=no-equals&flag", "no-equals"},
	}
	for _, tt := range tests {
		agent := &fakeAgent{reply: "ok"}
		d := newTestDispatcher(t, agent)
		if rec := post(d, tt.body); rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d body = %q", tt.body, rec.Code, rec.Body.String())
		}
		if got := agent.calls(); len(got) != 1 || got[0] != tt.want {
			t.Fatalf("%q: agent got %v, want %q", tt.body, got, tt.want)
		}
	}
}

func TestDispatcher_IgnoresContentType(t *testing.T) {
	agent := &fakeAgent{reply: "ok"}
	d := newTestDispatcher(t, agent)

	req := httptest.NewRequest(http.MethodPost, DefaultAgentPath, strings.NewReader("query=hi"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDispatcher_Throttled(t *testing.T) {
	throttled := &llm.ThrottledError{Provider: "gemini", Detail: "quota exhausted"}
	agent := &fakeAgent{err: fmt.Errorf("generation failed: %w", throttled)}
	d := newTestDispatcher(t, agent)

	rec := post(d, "query=hello")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Rate limit exceeded") || !strings.Contains(body, "quota exhausted") {
		t.Fatalf("body = %q", body)
	}
	if len(agent.calls()) != 1 {
		t.Fatalf("throttled calls must not be retried, got %d calls", len(agent.calls()))
	}
}

func TestDispatcher_ThrottledSentinel(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{err: fmt.Errorf("upstream: %w", llm.ErrThrottled)})
	if rec := post(d, "query=hello"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestDispatcher_AgentError(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{err: errors.New("backend exploded")})

	rec := post(d, "query=hello")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := rec.Body.String(); body != "An unexpected error occurred: backend exploded" {
		t.Fatalf("body = %q", body)
	}
}

func TestDispatcher_HidesDetailWhenConfigured(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{err: errors.New("secret upstream detail")}, WithExposeErrors(false))

	rec := post(d, "query=hello")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := rec.Body.String(); body != "An unexpected error occurred" {
		t.Fatalf("body = %q", body)
	}
}

func TestDispatcher_AgentPanic(t *testing.T) {
	agent := &fakeAgent{run: func(context.Context, string) (string, error) {
		panic("nil map")
	}}
	d := newTestDispatcher(t, agent)

	rec := post(d, "query=hello")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unexpected error") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	agent := &fakeAgent{run: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := newTestDispatcher(t, agent, WithAgentTimeout(10*time.Millisecond))

	rec := post(d, "query=hello")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Agent call timed out") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestDispatcher_DecodeError(t *testing.T) {
	agent := &fakeAgent{reply: "unused"}
	d := newTestDispatcher(t, agent)

	rec := post(d, "query=%zz")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Server error") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if len(agent.calls()) != 0 {
		t.Fatalf("agent should not be invoked on decode failure")
	}
}

func TestDispatcher_BodyTooLarge(t *testing.T) {
	agent := &fakeAgent{reply: "unused"}
	d := newTestDispatcher(t, agent, WithMaxBodyBytes(16))

	rec := post(d, "query="+strings.Repeat("a", 64))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Server error") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestDispatcher_RequestIDsIncreaseRegardlessOfOutcome(t *testing.T) {
	agent := &fakeAgent{run: func(_ context.Context, q string) (string, error) {
		if q == "fail" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}}
	d := newTestDispatcher(t, agent)
	if d.LastID() != 0 {
		t.Fatalf("LastID before any request = %d", d.LastID())
	}

	requests := []*http.Request{
		httptest.NewRequest(http.MethodPost, DefaultAgentPath, strings.NewReader("query=hello")),
		httptest.NewRequest(http.MethodGet, DefaultAgentPath, nil),
		httptest.NewRequest(http.MethodPost, DefaultAgentPath, strings.NewReader("")),
		httptest.NewRequest(http.MethodPost, DefaultAgentPath, strings.NewReader("query=fail")),
		httptest.NewRequest(http.MethodPost, DefaultAgentPath, strings.NewReader("query=%zz")),
	}
	for i, req := range requests {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, req)
		want := strconv.Itoa(i + 1)
		if got := rec.Header().Get("X-Request-Id"); got != want {
			t.Fatalf("request %d: id = %q, want %s", i, got, want)
		}
	}
	if d.LastID() != uint64(len(requests)) {
		t.Fatalf("LastID = %d, want %d", d.LastID(), len(requests))
	}
}

func TestDispatcher_ConcurrentRequestIDsAreUnique(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{reply: "ok"})

	const n = 64
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := post(d, "query=hi")
			ids <- rec.Header().Get("X-Request-Id")
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate request id %s", id)
		}
		seen[id] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[strconv.Itoa(i)] {
			t.Fatalf("missing request id %d", i)
		}
	}
}

func TestDispatcher_PropagatesRequestIDToAgent(t *testing.T) {
	var got uint64
	agent := &fakeAgent{run: func(ctx context.Context, _ string) (string, error) {
		got = observe.RequestIDFromContext(ctx)
		return "ok", nil
	}}
	d := newTestDispatcher(t, agent)

	post(d, "query=a")
	post(d, "query=b")
	if got != 2 {
		t.Fatalf("agent saw request id %d, want 2", got)
	}
}

func TestDispatcher_Logs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d, _ := NewDispatcher(&fakeAgent{reply: "hi there"}, WithLogger(logger))

	post(d, "query=hello")

	out := buf.String()
	for _, want := range []string{"request received", "request_id=1", "method=POST", "query received", "query=hello", "request completed", `reply="hi there"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in logs:\n%s", want, out)
		}
	}
}

func TestDispatcher_EmitsEvents(t *testing.T) {
	var mu sync.Mutex
	var events []observe.Event
	sink := observe.SinkFunc(func(_ context.Context, e observe.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})
	d := newTestDispatcher(t, &fakeAgent{err: &llm.ThrottledError{Detail: "slow down"}}, WithObserver(sink))

	post(d, "query=hello")

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	received, finished := events[0], events[1]
	if received.Kind != observe.KindRequest || received.Status != observe.StatusStarted || received.RequestID != 1 {
		t.Fatalf("unexpected received event: %+v", received)
	}
	if finished.Status != observe.StatusFailed || finished.Outcome != "throttled" || finished.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected final event: %+v", finished)
	}
}

func TestNewDispatcher_RequiresAgent(t *testing.T) {
	if _, err := NewDispatcher(nil); err == nil {
		t.Fatal("expected error for nil agent")
	}
}
