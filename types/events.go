package types

import "time"

type EventType string

const (
	EventRunStarted       EventType = "run.started"
	EventBeforeGenerate   EventType = "run.before_generate"
	EventAfterGenerate    EventType = "run.after_generate"
	EventRunCompleted     EventType = "run.completed"
	EventRunFailed        EventType = "run.failed"
	EventRequestReceived  EventType = "request.received"
	EventRequestCompleted EventType = "request.completed"
	EventRequestFailed    EventType = "request.failed"
)

type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	RequestID  uint64    `json:"requestId,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Turn       int       `json:"turn,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}
