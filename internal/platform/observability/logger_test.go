package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/artisan-market/api/internal/platform/requestctx"
)

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	log := ServiceLogger(zap.New(baseCore))

	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "notification.failed", map[string]any{"sink": "pubsub", "error": errors.New("unavailable")})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	entry := baseLogs.All()[0]
	if entry.Message != "order.created" || entry.ContextMap()["orderId"] != "ord_1" {
		t.Fatalf("unexpected base entry %+v", entry)
	}
	failed := reqLogs.All()[0]
	if failed.Level != zapcore.WarnLevel {
		t.Fatalf("events carrying errors log at warn, got %s", failed.Level)
	}
	if failed.ContextMap()["error"] != "unavailable" {
		t.Fatalf("expected error field, got %+v", failed.ContextMap())
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected info level fallback")
	}
}
