package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_nil_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests()
	m.IncErrors()
	m.IncSessionsOpened()
	m.IncSessionsClosed()
	m.SetActiveSessions(3)
	m.IncControlRejected("queue_full")
	m.AddFrameSent(100)
	m.IncPartialSends()
	m.IncForcedStops("send_failed")
}

func TestMetrics_counters(t *testing.T) {
	m := New()
	m.AddFrameSent(100)
	m.AddFrameSent(36)
	m.IncControlRejected("queue_full")
	m.IncControlRejected("queue_full")
	m.IncForcedStops("read_playback_over")

	if got := testutil.ToFloat64(m.framesSentTotal); got != 2 {
		t.Errorf("frames: got %v", got)
	}
	if got := testutil.ToFloat64(m.bytesSentTotal); got != 136 {
		t.Errorf("bytes: got %v", got)
	}
	if got := testutil.ToFloat64(m.controlRejected.WithLabelValues("queue_full")); got != 2 {
		t.Errorf("rejected: got %v", got)
	}
	if got := testutil.ToFloat64(m.forcedStopsTotal.WithLabelValues("read_playback_over")); got != 1 {
		t.Errorf("forced stops: got %v", got)
	}
}

func TestHandler_refreshes_gauges(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler(func() { m.SetActiveSessions(5) }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "nvr_playback_active_sessions 5") {
		t.Errorf("gauge not refreshed:\n%s", body)
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	mw := RequestMiddleware(m)

	ok := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	bad.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(m.requestsTotal); got != 2 {
		t.Errorf("requests: got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 1 {
		t.Errorf("errors: got %v", got)
	}
}
