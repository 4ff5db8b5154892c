package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/archive"
	"github.com/richinsley/viewcomfy/generation"
	"github.com/richinsley/viewcomfy/results"
)

// Server exposes the generation state of a running watcher over HTTP.
type Server struct {
	tracker   *generation.Tracker
	connected func() bool
	archive   archive.Archive
	log       zerolog.Logger
}

// New builds the server. connected reports the socket state; archive may be nil.
func New(tracker *generation.Tracker, connected func() bool, arch archive.Archive, logger zerolog.Logger) *Server {
	if connected == nil {
		connected = func() bool { return false }
	}
	return &Server{
		tracker:   tracker,
		connected: connected,
		archive:   arch,
		log:       logger.With().Str("component", "server").Logger(),
	}
}

type statusResponse struct {
	Connected bool     `json:"connected"`
	Loading   bool     `json:"loading"`
	Pending   []string `json:"pending"`
	Results   int      `json:"results"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/results", s.handleResults)
	r.Get("/api/results/{promptID}", s.handleResult)
	r.Get("/api/history", s.handleHistory)
	r.Get("/blobs/{id}", s.handleBlob)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Connected: s.connected(),
		Loading:   s.tracker.Loading(),
		Pending:   s.tracker.Pending(),
		Results:   s.tracker.Store().Len(),
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Generations())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "promptID")
	g, ok := s.tracker.Generation(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	jobs, err := s.archive.List(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("error listing archive")
		s.writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.tracker.ObjectURLs().Resolve("blob:" + chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	ct := blob.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Cache-Control", "no-store")
	if results.Classify(ct) == results.KindFile {
		w.Header().Set("Content-Disposition", "attachment")
	}
	_, _ = w.Write(blob.Data)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("error writing response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

// ListenAndServe serves the router on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
