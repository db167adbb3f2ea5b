package logger

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestSetupLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")
	l := Setup()
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if L() != l {
		t.Error("L should return the configured logger")
	}
}

func TestSetupTagsServiceAndCommit(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_SERVICE", "civic-blr")
	var buf bytes.Buffer
	setupTo(&buf).Info("boundary_load_ok", "layer", "ward")
	out := buf.String()
	for _, want := range []string{"service=civic-blr", "commit=dev", "layer=ward"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}

	t.Setenv("LOG_SERVICE", "")
	buf.Reset()
	setupTo(&buf).Info("x")
	if !strings.Contains(buf.String(), "service=civic-reporter") {
		t.Errorf("default service missing: %q", buf.String())
	}
}

func TestAccessMiddlewareRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := chi.NewRouter()
	r.Use(AccessMiddleware(l))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	out := buf.String()
	for _, want := range []string{"http_access", "route=/sessions/{id}", "status=418", "bytes=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}
