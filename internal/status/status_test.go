package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/roomcast/internal/config"
	"github.com/ashureev/roomcast/internal/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng := engine.New(&config.Config{}, "12345", nil, nil, nil, nil)
	return NewServer("127.0.0.1:0", eng, nil)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["state"] != "disconnected" {
		t.Fatalf("expected disconnected before Run, got %q", body["state"])
	}
}

func TestStatsBeforeSessionStarts(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before a session exists, got %d", rec.Code)
	}
}
