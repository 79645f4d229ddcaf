package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"billingest/internal/api"
	"billingest/internal/config"
	"billingest/internal/logging"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	return srv
}

// endpoint computes a response status and JSON payload for one request.
type endpoint func(r *http.Request) (int, any)

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/status", s.serve(s.status))
	mux.Handle("GET /api/ledger", s.serve(s.ledger))
	mux.Handle("GET /api/known-bad", s.serve(s.knownBad))
	mux.Handle("POST /api/known-bad/retry", s.serve(s.retry))
	mux.Handle("POST /api/rescan", s.serve(s.rescan))
	if s.daemon.metrics != nil {
		mux.Handle("GET /metrics", s.daemon.metrics.Handler())
	}
	return authMiddleware(s.token, mux)
}

func (s *apiServer) serve(ep endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, payload := ep(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Warn("api response encode failed", logging.String("path", r.URL.Path), logging.Error(err))
		}
	})
}

func failure(code int, err error) (int, any) {
	return code, api.ErrorResponse{Error: err.Error()}
}

// start listens on the configured bind and returns the resolved address.
// An empty bind disables the API.
func (s *apiServer) start(ctx context.Context) (string, error) {
	if s.bind == "" {
		return "", nil
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.bind)
	if err != nil {
		return "", fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server := s.server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	addr := listener.Addr().String()
	s.logger.Info("api server listening", logging.String("address", addr))
	return addr, nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.listener = nil
}

func (s *apiServer) status(r *http.Request) (int, any) {
	st := s.daemon.Status(r.Context())
	out := api.DaemonStatus{
		Running:      st.Running,
		PID:          st.PID,
		DatabasePath: st.DatabasePath,
		LockFilePath: st.LockFilePath,
		InputDir:     s.daemon.cfg.Paths.InputDir,
		Archive:      archiveLabel(s.daemon.cfg),
		Workflow:     api.FromStatusSummary(st.Workflow),
		Store:        api.FromStats(st.Stats, st.StatsErr),
	}
	if !st.StartedAt.IsZero() {
		out.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
	}
	return http.StatusOK, out
}

func (s *apiServer) ledger(r *http.Request) (int, any) {
	entries, err := s.daemon.ListLedger(r.Context())
	if err != nil {
		return failure(http.StatusInternalServerError, err)
	}
	return http.StatusOK, api.LedgerResponse{Entries: api.FromLedger(entries)}
}

func (s *apiServer) knownBad(r *http.Request) (int, any) {
	files, err := s.daemon.ListKnownBad(r.Context())
	if err != nil {
		return failure(http.StatusInternalServerError, err)
	}
	return http.StatusOK, api.KnownBadResponse{Files: api.FromKnownBad(files)}
}

// retry clears known-bad markers. An empty body clears every marker.
func (s *apiServer) retry(r *http.Request) (int, any) {
	var req api.RetryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return failure(http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		}
	}
	cleared, rescan, err := s.daemon.RetryKnownBad(r.Context(), req.Files)
	if err != nil {
		return failure(http.StatusInternalServerError, err)
	}
	return http.StatusOK, api.RetryResponse{Cleared: cleared, Rescan: rescan}
}

func (s *apiServer) rescan(*http.Request) (int, any) {
	if !s.daemon.TriggerRescan("api") {
		return http.StatusConflict, api.RescanResponse{Message: "daemon is not running"}
	}
	return http.StatusAccepted, api.RescanResponse{Accepted: true, Message: "scan started"}
}

func archiveLabel(cfg *config.Config) string {
	if cfg.ArchiveIsLocal() {
		return cfg.Paths.ArchiveDir
	}
	return cfg.Archive.BucketURL
}
