// Package server exposes the webhook endpoint and the operational HTTP
// endpoints used by container probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"referral_rewards_bot/internal/logging"
)

const (
	mongoPingTimeout  = 2 * time.Second
	statsTimeout      = 3 * time.Second
	readHeaderTimeout = 2 * time.Second
	writeTimeout      = 30 * time.Second
	listenPrefix      = ":"
	activityWindow    = 24 * time.Hour
)

// MongoChecker defines the subset of MongoDB client behavior required for health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// StatsProvider reports collection counts for /statsz.
type StatsProvider interface {
	CountUsers(ctx context.Context) (int64, error)
	CountActivitySince(ctx context.Context, since time.Time) (int64, error)
}

// Server hosts the HTTP routes and owns the underlying HTTP server.
type Server struct {
	server       *http.Server
	router       *mux.Router
	logger       *logrus.Entry
	mongoChecker MongoChecker
	stats        StatsProvider
	processStart time.Time
	now          func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithMongoChecker enables the Mongo ping in /healthz.
func WithMongoChecker(checker MongoChecker) Option {
	return func(s *Server) {
		s.mongoChecker = checker
	}
}

// WithStatsProvider enables /statsz.
func WithStatsProvider(stats StatsProvider) Option {
	return func(s *Server) {
		s.stats = stats
	}
}

// WithProcessStart sets the instant uptime is measured from.
func WithProcessStart(start time.Time) Option {
	return func(s *Server) {
		s.processStart = start
	}
}

// WithWebhook mounts handler for POST requests on path.
func WithWebhook(path string, handler http.Handler) Option {
	return func(s *Server) {
		s.router.Handle(path, handler).Methods(http.MethodPost)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Mongo  string `json:"mongo,omitempty"`
}

type statsResponse struct {
	Users         int64 `json:"users"`
	Activity24h   int64 `json:"activity_24h"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// NewServer constructs a server listening on the provided port with GET
// /healthz, GET /statsz and any mounted webhook.
func NewServer(port int, logger *logrus.Entry, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		router:       mux.NewRouter(),
		logger:       logger,
		processStart: time.Now(),
		now:          time.Now,
	}

	srv.router.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)
	srv.router.HandleFunc("/statsz", srv.handleStats).Methods(http.MethodGet)

	for _, opt := range opts {
		opt(srv)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", listenPrefix, port),
		Handler:           srv.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	return srv
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "http_listen",
		"addr":  s.server.Addr,
	}).Info("starting http server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "http_stopped").Info("http server stopped")
			return nil
		}

		return fmt.Errorf("http server listen: %w", err)
	}

	s.logger.WithField("event", "http_stopped").Info("http server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	mongoStatus := "ok"

	if s.mongoChecker == nil {
		mongoStatus = "error"
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(r.Context(), mongoPingTimeout)
		err := s.mongoChecker.Ping(pingCtx)
		cancel()

		if err != nil {
			mongoStatus = "error"
			s.logger.WithFields(logging.Fields{
				"event": "health_mongo_error",
			}).WithError(err).Warn("mongo ping failed during health check")
		}
	}

	if mongoStatus != "ok" {
		resp.Status = "degraded"
		resp.Mongo = "error"
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	now := s.now()

	users, err := s.stats.CountUsers(ctx)
	if err != nil {
		s.statsFailed(w, err)
		return
	}

	activity, err := s.stats.CountActivitySince(ctx, now.Add(-activityWindow))
	if err != nil {
		s.statsFailed(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Users:         users,
		Activity24h:   activity,
		UptimeSeconds: int64(now.Sub(s.processStart).Seconds()),
	})
}

func (s *Server) statsFailed(w http.ResponseWriter, err error) {
	s.logger.WithField("event", "stats_error").WithError(err).Warn("failed to collect stats")
	s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithField("event", "http_write_error").WithError(err).Error("failed to encode response")
	}
}
