package frontend

import (
	"context"
	"errors"
	"net/http"

	"github.com/PipeOpsHQ/agent-web/llm"
)

// OutcomeKind tags the result of one dispatch.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNoQuery
	OutcomeMethodNotAllowed
	OutcomeThrottled
	OutcomeAgentError
	OutcomeTimeout
	OutcomeDecodeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoQuery:
		return "no_query"
	case OutcomeMethodNotAllowed:
		return "method_not_allowed"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeAgentError:
		return "agent_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeDecodeError:
		return "decode_error"
	default:
		return "unknown"
	}
}

const (
	bodyNoQuery          = "Error: No query received."
	bodyMethodNotAllowed = "Only POST requests are allowed"
	bodyThrottled        = "Rate limit exceeded"
	bodyAgentError       = "An unexpected error occurred"
	bodyTimeout          = "Agent call timed out"
	bodyDecodeError      = "Server error"
)

// Outcome is the result of one dispatch. Reply is set for OutcomeSuccess;
// Detail carries the failure text for error kinds.
type Outcome struct {
	Kind   OutcomeKind
	Reply  string
	Detail string
}

func (o Outcome) Failed() bool {
	return o.Kind != OutcomeSuccess
}

func (o Outcome) StatusCode() int {
	switch o.Kind {
	case OutcomeSuccess:
		return http.StatusOK
	case OutcomeNoQuery:
		return http.StatusBadRequest
	case OutcomeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case OutcomeThrottled:
		return http.StatusTooManyRequests
	case OutcomeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Body renders the response body. With exposeDetail false the failure
// detail stays out of the body and only reaches the logs.
func (o Outcome) Body(exposeDetail bool) string {
	var prefix string
	switch o.Kind {
	case OutcomeSuccess:
		return o.Reply
	case OutcomeNoQuery:
		return bodyNoQuery
	case OutcomeMethodNotAllowed:
		return bodyMethodNotAllowed
	case OutcomeThrottled:
		prefix = bodyThrottled
	case OutcomeTimeout:
		prefix = bodyTimeout
	case OutcomeDecodeError:
		prefix = bodyDecodeError
	default:
		prefix = bodyAgentError
	}
	if !exposeDetail || o.Detail == "" {
		return prefix
	}
	return prefix + ": " + o.Detail
}

// classify maps the agent call result onto an Outcome.
func classify(reply string, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess, Reply: reply}
	}

	var throttled *llm.ThrottledError
	switch {
	case errors.As(err, &throttled):
		return Outcome{Kind: OutcomeThrottled, Detail: throttled.Error()}
	case llm.IsThrottled(err):
		return Outcome{Kind: OutcomeThrottled, Detail: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: OutcomeTimeout, Detail: err.Error()}
	default:
		return Outcome{Kind: OutcomeAgentError, Detail: err.Error()}
	}
}
