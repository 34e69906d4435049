package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestSetupWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trace.json")
	shutdown, err := Setup(context.Background(), Config{ServiceVersion: "test", TracePath: path})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "generate.judge")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	if !strings.Contains(string(data), "generate.judge") {
		t.Errorf("trace file missing span: %s", data)
	}
}

func TestSetupMetricsAddr(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{MetricsAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}

	if _, err := Setup(context.Background(), Config{MetricsAddr: "not-an-address"}); err == nil {
		t.Error("expected error for an invalid metrics address")
	}
}

func TestTracePath(t *testing.T) {
	if got := TracePath("/work"); got != filepath.Join("/work", ".friday", "logs", "trace.json") {
		t.Errorf("TracePath = %q", got)
	}
}
