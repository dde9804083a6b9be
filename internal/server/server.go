package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tfgate/internal/core"
	"tfgate/internal/ledger"
	"tfgate/internal/metrics"
)

const defaultListLimit = 20

// Server accepts trigger events over HTTP and executes at most one run at a
// time in the background.
type Server struct {
	runner  *core.Runner
	runs    core.RunRepository
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	live   map[string]*core.Run
	active *activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	run    *core.Run
	cancel context.CancelFunc
}

// Config wires the collaborators of a Server. Runs, Ledger and Metrics are
// optional.
type Config struct {
	Runner  *core.Runner
	Runs    core.RunRepository
	Ledger  *ledger.Ledger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:     cfg.Runner,
		runs:       cfg.Runs,
		ledger:     cfg.Ledger,
		metrics:    cfg.Metrics,
		logger:     logger,
		baseCtx:    ctx,
		cancelBase: cancel,
		live:       make(map[string]*core.Run),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmitRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Post("/{id}/cancel", s.handleCancelRun)
	})
	r.Get("/ledger/verify", s.handleVerifyLedger)
	return r
}

// Close cancels the active run and waits for it to wind down.
func (s *Server) Close() {
	s.cancelBase()
	s.wg.Wait()
}

// Wait blocks until no run is executing.
func (s *Server) Wait() {
	s.wg.Wait()
}

// POST /runs -> classify a trigger and start the run
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var trigger core.Trigger
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger: "+err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		writeError(w, http.StatusConflict, core.ErrRunInProgress.Error()+": "+s.active.run.ID())
		return
	}

	run, err := s.runner.NewRun(r.Context(), trigger)
	if err != nil {
		if s.runs == nil {
			s.live[run.ID()] = run
		}
		writeJSON(w, http.StatusBadRequest, run.Snapshot())
		return
	}
	s.live[run.ID()] = run

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.active = &activeRun{run: run, cancel: cancel}
	s.wg.Add(1)
	go s.execute(ctx, cancel, run)

	w.Header().Set("Location", "/runs/"+run.ID())
	writeJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) execute(ctx context.Context, cancel context.CancelFunc, run *core.Run) {
	defer s.wg.Done()
	defer cancel()

	if err := s.runner.Execute(ctx, run); err != nil {
		s.logger.Warn("run finished with error", "run", run.ID(), "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.run == run {
		s.active = nil
	}
	// history keeps finished runs; only the in-process copy is dropped
	if s.runs != nil {
		delete(s.live, run.ID())
	}
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if s.runs != nil {
		runs, err := s.runs.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []core.RunView{}
		}
		writeJSON(w, http.StatusOK, s.overlayLive(runs))
		return
	}

	s.mu.Lock()
	runs := make([]core.RunView, 0, len(s.live))
	for _, run := range s.live {
		runs = append(runs, run.Snapshot())
	}
	s.mu.Unlock()
	sortRecentFirst(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	writeJSON(w, http.StatusOK, runs)
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	run, ok := s.live[id]
	s.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, run.Snapshot())
		return
	}

	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	view, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /runs/{id}/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.run.ID() != id {
		if _, known := s.live[id]; known {
			writeError(w, http.StatusConflict, "run is not active")
			return
		}
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.active.cancel()
	s.logger.Info("run cancellation requested", "run", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// GET /ledger/verify -> run VerifyChain
func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	if err := s.ledger.VerifyChain(); err != nil {
		writeError(w, http.StatusInternalServerError, "ledger verification failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "records": len(s.ledger.Records())})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	busy := s.active != nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "busy": busy})
}

// overlayLive swaps history rows for the fresher in-process snapshot of
// runs that are still executing.
func (s *Server) overlayLive(runs []core.RunView) []core.RunView {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, view := range runs {
		if run, ok := s.live[view.ID]; ok {
			runs[i] = run.Snapshot()
		}
	}
	return runs
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
