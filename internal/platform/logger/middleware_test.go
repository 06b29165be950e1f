package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info", "json")

	r := chi.NewRouter()
	r.Use(RequestLogger(log))
	r.Get("/sessions/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/7", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-1" {
		t.Errorf("expected request id echoed, got %q", got)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line not JSON: %v (%q)", err, buf.String())
	}
	if entry["route"] != "/sessions/{session_id}" {
		t.Errorf("route: got %v", entry["route"])
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Errorf("status: got %v", entry["status"])
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id: got %v", entry["request_id"])
	}
}

func TestRequestLogger_generates_id(t *testing.T) {
	log := NewWriter(&bytes.Buffer{}, "error", "text")
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request id")
	}
}
