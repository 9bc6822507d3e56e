package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"opsync-backend/internal/orchestrator"
	"opsync-backend/internal/scheduler"
	"opsync-backend/internal/storage"
)

const (
	defaultSyncLogLimit = 50
	maxSyncLogLimit     = 500
)

type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	Trigger(name string) error
}

type AdminStore interface {
	ListIntegrationStatuses(ctx context.Context) ([]storage.IntegrationStatus, error)
	ListSyncLogs(ctx context.Context, limit int) ([]storage.SyncLogEntry, error)
}

type SourceLookup interface {
	SourceFor(integrationName string) (orchestrator.Source, bool)
}

type adminHandler struct {
	Jobs    JobRunner
	Store   AdminStore
	Sources SourceLookup
	Timeout time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *adminHandler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/jobs", h.handleJobs)
	r.Post("/jobs/{name}/run", h.handleRunJob)
	r.Get("/integrations", h.handleIntegrations)
	r.Post("/integrations/{name}/test", h.handleTestIntegration)
	r.Get("/sync-logs", h.handleSyncLogs)
	return r
}

func (h *adminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *adminHandler) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.Jobs.ListJobs()})
}

func (h *adminHandler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.Jobs.Trigger(name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"queued": name})
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (h *adminHandler) handleIntegrations(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.Store.ListIntegrationStatuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": statuses})
}

// handleTestIntegration makes one authenticated read against the external
// system. It does not touch the sync log or integration status.
func (h *adminHandler) handleTestIntegration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	src, ok := h.Sources.SourceFor(name)
	if !ok || src.Probe == nil {
		writeError(w, http.StatusNotFound, "integration not configured: "+name)
		return
	}
	ctx := r.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	writeJSON(w, http.StatusOK, map[string]any{"integration": name, "ok": src.Probe(ctx)})
}

func (h *adminHandler) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultSyncLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxSyncLogLimit)
	}
	logs, err := h.Store.ListSyncLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncLogs": logs})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
