// Package ctxutil stores per-request metadata on a context.
package ctxutil

import "context"

type (
	requestDataKey struct{}
	traceDataKey   struct{}
)

// RequestData carries the caller identity resolved by the identity middleware.
// Exactly one of UserID or AnonymousID is set.
type RequestData struct {
	TokenString string
	UserID      string
	AnonymousID string
}

// LogFields returns the identity as logger key/value pairs.
func (rd *RequestData) LogFields() []interface{} {
	switch {
	case rd == nil:
		return nil
	case rd.UserID != "":
		return []interface{}{"user_id", rd.UserID}
	case rd.AnonymousID != "":
		return []interface{}{"anonymous_id", rd.AnonymousID}
	}
	return nil
}

// TraceData correlates one HTTP request across logs and response headers.
type TraceData struct {
	TraceID   string
	RequestID string
}

func (td *TraceData) LogFields() []interface{} {
	if td == nil {
		return nil
	}
	var out []interface{}
	if td.TraceID != "" {
		out = append(out, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		out = append(out, "request_id", td.RequestID)
	}
	return out
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	return value[*RequestData](ctx, requestDataKey{})
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	return value[*TraceData](ctx, traceDataKey{})
}

func value[T any](ctx context.Context, key any) T {
	var zero T
	if ctx == nil {
		return zero
	}
	v, _ := ctx.Value(key).(T)
	return v
}
