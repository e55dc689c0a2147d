package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PipeOpsHQ/agent-web/types"
)

var (
	ErrNotSupported = errors.New("operation not supported by provider")

	// ErrThrottled marks a generation rejected by the backend's rate limiter.
	// Match it with errors.Is; ThrottledError carries the backend detail.
	ErrThrottled = errors.New("model throttled")
)

// ThrottledError is returned by providers when the backend rate-limits a call.
type ThrottledError struct {
	Provider   string
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottledError) Error() string {
	if e == nil {
		return ErrThrottled.Error()
	}
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, ErrThrottled, msg)
	}
	return fmt.Sprintf("%s: %s", ErrThrottled, msg)
}

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

func (e *ThrottledError) Unwrap() error { return e.Err }

// IsThrottled reports whether err is, or wraps, a throttling rejection.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

type Capabilities struct {
	Streaming        bool
	StructuredOutput bool
}

type Provider interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}
