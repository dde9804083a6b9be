// Package agent serves tool invocations for a remote runner. It owns no
// scheduling: every request is one task, executed and answered in place.
package agent

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tfgate/internal/core"
)

type handler struct {
	executor core.ToolAdapter
	agentID  string
	logger   *slog.Logger
}

// NewHandler exposes POST /run and GET /healthz.
func NewHandler(executor core.ToolAdapter, agentID string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{executor: executor, agentID: agentID, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/run", h.handleRun)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return r
}

func (h *handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var inv core.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !inv.Stage.Valid() || inv.Environment.Name == "" {
		http.Error(w, "invocation needs a stage and an environment", http.StatusBadRequest)
		return
	}

	log := h.logger.With("run", inv.RunID, "stage", inv.Stage, "env", inv.Environment.Name)
	log.Info("agent running task")

	res, err := h.executor.Execute(r.Context(), inv)
	resp := core.AgentResponse{Result: res, Success: err == nil, AgentID: h.agentID}
	if err != nil {
		resp.Error = err.Error()
		log.Warn("agent task failed", "step", res.Step, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
