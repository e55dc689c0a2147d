package observe

import (
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/agent-web/types"
)

// FromRuntimeEvent maps an agent or dispatcher event onto the trace model.
func FromRuntimeEvent(in types.Event) Event {
	e := Event{
		Timestamp:  in.Timestamp,
		RequestID:  in.RequestID,
		RunID:      in.RunID,
		SessionID:  in.SessionID,
		Provider:   in.Provider,
		Outcome:    in.Outcome,
		StatusCode: in.StatusCode,
		Message:    in.Message,
		Error:      in.Error,
		DurationMs: in.DurationMs,
		Attributes: map[string]any{
			"eventType": string(in.Type),
		},
	}
	if in.Turn > 0 {
		e.Attributes["turn"] = in.Turn
	}
	if in.Method != "" {
		e.Attributes["http.method"] = in.Method
	}
	if in.Path != "" {
		e.Attributes["http.path"] = in.Path
	}

	eventType := string(in.Type)
	switch {
	case strings.Contains(eventType, "before_generate"), strings.Contains(eventType, "after_generate"):
		e.Kind = KindProvider
	case strings.HasPrefix(eventType, "request."):
		e.Kind = KindRequest
		e.Name = in.Path
	case strings.HasPrefix(eventType, "run."):
		e.Kind = KindRun
	default:
		e.Kind = KindCustom
	}

	switch {
	case strings.Contains(eventType, "failed"):
		e.Status = StatusFailed
	case strings.Contains(eventType, "before"), strings.Contains(eventType, "started"), strings.Contains(eventType, "received"):
		e.Status = StatusStarted
	default:
		e.Status = StatusCompleted
	}

	e.SpanID = spanIDForRuntimeEvent(in)
	e.ParentSpanID = parentSpanIDForRuntimeEvent(in)
	e.Normalize()
	return e
}

func spanIDForRuntimeEvent(in types.Event) string {
	if in.RunID == "" {
		if in.RequestID > 0 {
			return fmt.Sprintf("req:%d", in.RequestID)
		}
		return ""
	}
	if in.Turn > 0 && strings.Contains(string(in.Type), "generate") {
		return fmt.Sprintf("%s:gen:%d", in.RunID, in.Turn)
	}
	return in.RunID
}

func parentSpanIDForRuntimeEvent(in types.Event) string {
	if in.RunID == "" {
		return ""
	}
	if in.Turn > 0 && strings.Contains(string(in.Type), "generate") {
		return in.RunID
	}
	return ""
}
