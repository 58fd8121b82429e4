package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	ctx := context.Background()
	if Logger(ctx) != noopLogger || HasLogger(ctx) {
		t.Fatalf("expected noop logger on empty context")
	}
	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	if Logger(ctx) != logger || !HasLogger(ctx) {
		t.Fatalf("expected installed logger")
	}
}

func TestAnnotationsCarryUserIDOutwards(t *testing.T) {
	ctx, annotations := WithAnnotations(context.Background())
	inner := context.WithValue(ctx, contextKey("inner"), true)
	SetUserID(inner, "user-1")
	if got := annotations.UserID(); got != "user-1" {
		t.Fatalf("expected user-1, got %q", got)
	}

	SetUserID(context.Background(), "ignored")
	var nilAnnotations *Annotations
	if nilAnnotations.UserID() != "" {
		t.Fatalf("nil annotations must report empty user")
	}
}

func TestTraceID(t *testing.T) {
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736"})
	if TraceID(ctx) != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
}
