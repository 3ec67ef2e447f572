// Package status serves live import progress over HTTP while a run is in
// flight: JSON stats per source, Prometheus metrics and a health check.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/woonkaart/importer/internal/pipeline"
)

// Board holds the latest stats per source. It is the pipeline's Reporter and
// is read concurrently by the HTTP handlers.
type Board struct {
	mu        sync.RWMutex
	runID     string
	dryRun    bool
	startedAt time.Time
	sources   map[string]pipeline.Stats
	metrics   *Metrics
}

// NewBoard creates an empty board.
func NewBoard(runID string, dryRun bool, metrics *Metrics) *Board {
	return &Board{
		runID:     runID,
		dryRun:    dryRun,
		startedAt: time.Now(),
		sources:   make(map[string]pipeline.Stats),
		metrics:   metrics,
	}
}

// Update stores a snapshot.
func (b *Board) Update(s pipeline.Stats) {
	b.mu.Lock()
	b.sources[s.Source] = s
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.setStats(s)
	}
}

// Snapshot is the /status payload.
type Snapshot struct {
	RunID     string           `json:"run_id"`
	DryRun    bool             `json:"dry_run"`
	StartedAt time.Time        `json:"started_at"`
	Sources   []pipeline.Stats `json:"sources"`
	Total     pipeline.Stats   `json:"total"`
}

// Snapshot returns the current stats sorted by source.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := make([]pipeline.Stats, 0, len(b.sources))
	for _, s := range b.sources {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Source < all[j].Source })

	return Snapshot{
		RunID:     b.runID,
		DryRun:    b.dryRun,
		StartedAt: b.startedAt,
		Sources:   all,
		Total:     pipeline.Total(all),
	}
}

// Source returns one source's stats.
func (b *Board) Source(name string) (pipeline.Stats, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sources[name]
	return s, ok
}

// Server is the optional status endpoint.
type Server struct {
	board      *Board
	metrics    *Metrics
	router     *mux.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, board *Board, metrics *Metrics, logger zerolog.Logger) *Server {
	s := &Server{board: board, metrics: metrics, logger: logger}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.HandleFunc("/healthz", s.health).Methods("GET")
	s.router.HandleFunc("/status", s.status).Methods("GET")
	s.router.HandleFunc("/status/{source}", s.sourceStatus).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	s.router.Use(requestLogging(s.logger))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status server error")
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Snapshot())
}

func (s *Server) sourceStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["source"]
	stats, ok := s.board.Source(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source " + name})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogging(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.code).
				Dur("took", time.Since(start)).
				Msg("status request")
		})
	}
}
