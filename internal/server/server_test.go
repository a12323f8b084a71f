package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type stubMongoChecker struct {
	err error
}

func (s stubMongoChecker) Ping(context.Context) error {
	return s.err
}

type stubStats struct {
	users     int64
	activity  int64
	err       error
	lastSince time.Time
}

func (s *stubStats) CountUsers(context.Context) (int64, error) {
	return s.users, s.err
}

func (s *stubStats) CountActivitySince(_ context.Context, since time.Time) (int64, error) {
	s.lastSince = since
	return s.activity, s.err
}

func serve(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandlerOK(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger), WithMongoChecker(stubMongoChecker{}))

	rr := serve(server, http.MethodGet, "/healthz")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}
}

func TestHealthHandlerMongoError(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger), WithMongoChecker(stubMongoChecker{err: errors.New("mongo down")}))

	rr := serve(server, http.MethodGet, "/healthz")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"degraded","mongo":"error"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	if entry := hook.LastEntry(); entry == nil || entry.Data["event"] != "health_mongo_error" {
		t.Fatalf("expected health_mongo_error log entry, got %+v", entry)
	}
}

func TestHealthHandlerMissingMongoChecker(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger))

	rr := serve(server, http.MethodGet, "/healthz")

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"degraded","mongo":"error"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestStatsHandlerReportsCounts(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	stats := &stubStats{users: 12, activity: 40}
	start := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	server := NewServer(0, logrus.NewEntry(logger), WithStatsProvider(stats), WithProcessStart(start))
	server.now = func() time.Time { return start.Add(90 * time.Second) }

	rr := serve(server, http.MethodGet, "/statsz")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"users":12,"activity_24h":40,"uptime_seconds":90}` {
		t.Fatalf("unexpected body: %s", body)
	}

	if want := start.Add(90 * time.Second).Add(-24 * time.Hour); !stats.lastSince.Equal(want) {
		t.Fatalf("expected activity window since %v, got %v", want, stats.lastSince)
	}
}

func TestStatsHandlerErrors(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger), WithStatsProvider(&stubStats{err: errors.New("count failed")}))

	rr := serve(server, http.MethodGet, "/statsz")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTP 503, got %d", rr.Code)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["event"] != "stats_error" {
		t.Fatalf("expected stats_error log entry, got %+v", entry)
	}

	bare := NewServer(0, logrus.NewEntry(logger))
	if rr := serve(bare, http.MethodGet, "/statsz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTP 503 without provider, got %d", rr.Code)
	}
}

func TestWebhookRouteOnlyAcceptsPost(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	called := 0
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	})

	server := NewServer(0, logrus.NewEntry(logger), WithWebhook("/telegram/webhook", webhook))

	if rr := serve(server, http.MethodPost, "/telegram/webhook"); rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}
	if rr := serve(server, http.MethodGet, "/telegram/webhook"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected HTTP 405, got %d", rr.Code)
	}
	if rr := serve(server, http.MethodPost, "/other"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected HTTP 404, got %d", rr.Code)
	}
	if called != 1 {
		t.Fatalf("expected webhook to be called once, got %d", called)
	}
}

func TestShutdownNilServer(t *testing.T) {
	var server *Server
	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil server shutdown to be a no-op, got %v", err)
	}
}
