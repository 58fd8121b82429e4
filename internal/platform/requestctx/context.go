// Package requestctx carries request-scoped values shared by middleware and handlers.
package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey      contextKey = "github.com/ezzatsd/CynaApp/internal/platform/requestctx/logger"
	traceContextKey       contextKey = "github.com/ezzatsd/CynaApp/internal/platform/requestctx/trace"
	annotationsContextKey contextKey = "github.com/ezzatsd/CynaApp/internal/platform/requestctx/annotations"
)

var noopLogger = zap.NewNop()

// TraceInfo captures the W3C trace identifiers of the current request.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// Annotations are filled in by inner middleware and read by outer middleware once the
// request completes.
type Annotations struct {
	mu     sync.Mutex
	userID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a request logger was installed.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	logger, ok := ctx.Value(loggerContextKey).(*zap.Logger)
	return ok && logger != nil && logger != noopLogger
}

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithAnnotations installs a fresh annotation holder.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{}
	return context.WithValue(ctx, annotationsContextKey, a), a
}

// SetUserID records the authenticated caller on the request annotations, if any.
func SetUserID(ctx context.Context, userID string) {
	if ctx == nil {
		return
	}
	if a, ok := ctx.Value(annotationsContextKey).(*Annotations); ok && a != nil {
		a.mu.Lock()
		a.userID = userID
		a.mu.Unlock()
	}
}

// UserID returns the recorded caller.
func (a *Annotations) UserID() string {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}
