package observe

import "context"

type requestIDKey struct{}

// WithRequestID attaches the dispatcher's request id so events emitted further
// down the call chain can be correlated with it.
func WithRequestID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id set by WithRequestID, or 0.
func RequestIDFromContext(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(requestIDKey{}).(uint64)
	return id
}
