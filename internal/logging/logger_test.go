package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")
	logger.Info("cell updated", "cell", "A1")

	out := buf.String()
	if !strings.HasPrefix(out, "{") {
		t.Fatalf("expected JSON output, got %q", out)
	}
	if !strings.Contains(out, `"cell":"A1"`) {
		t.Errorf("missing field in %q", out)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestFromContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "debug", "text"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	var ctx context.Context
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	WithFields(ctx, "sheet_id", "s1").Info("recalculated")

	out := buf.String()
	if !strings.Contains(out, "request_id=") {
		t.Errorf("request_id missing: %q", out)
	}
	if !strings.Contains(out, "sheet_id=s1") {
		t.Errorf("sheet_id missing: %q", out)
	}
}

func TestNewContext_OverridesDefault(t *testing.T) {
	var buf bytes.Buffer
	scoped := New(&buf, "debug", "text").With("job", "sweep")

	ctx := NewContext(context.Background(), scoped)
	FromContext(ctx).Debug("sheet recalculated")

	out := buf.String()
	if !strings.Contains(out, "job=sweep") {
		t.Errorf("scoped field missing: %q", out)
	}
	if strings.Contains(out, "request_id=") {
		t.Errorf("unexpected request_id: %q", out)
	}
}

func TestSetup_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := Setup("error", "json")
	if slog.Default() != logger {
		t.Fatal("Setup should install the returned logger as default")
	}
	if logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled at error level")
	}
}
