package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/circuitbreaker"
	"github.com/lalithlochan/zenpush/internal/db"
	"github.com/lalithlochan/zenpush/internal/trigger"
	"github.com/lalithlochan/zenpush/internal/worker"
)

// JobRepository defines the read side of notification jobs
type JobRepository interface {
	GetJob(ctx context.Context, id uuid.UUID) (*db.NotificationJob, error)
	ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*db.NotificationJob, error)
}

// TickRunner runs one tick on behalf of a trigger source
type TickRunner interface {
	Run(ctx context.Context, source string) (*worker.Result, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger  *zap.Logger
	repo    JobRepository
	runner  TickRunner
	checks  map[string]HealthChecker // dependency name -> check
	breaker *circuitbreaker.Breaker  // nil when the transport is unprotected
}

// NewHandler creates a new API handler. checks and breaker may be nil.
func NewHandler(logger *zap.Logger, repo JobRepository, runner TickRunner, checks map[string]HealthChecker, breaker *circuitbreaker.Breaker) *Handler {
	return &Handler{
		logger:  logger,
		repo:    repo,
		runner:  runner,
		checks:  checks,
		breaker: breaker,
	}
}

// RunTick handles POST /v1/ticks
func (h *Handler) RunTick(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Run(r.Context(), "http")
	if err != nil {
		switch {
		case errors.Is(err, trigger.ErrTickInProgress):
			h.writeError(w, http.StatusConflict, "tick_in_progress", "A tick is already running", "")
		case errors.Is(err, worker.ErrScan):
			h.writeError(w, http.StatusInternalServerError, "scan_failed", "Failed to scan reminders", "")
		default:
			h.logger.Error("manual tick failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "tick_failed", "Tick failed", "")
		}
		return
	}

	h.logger.Info("manual tick completed",
		zap.String("window", res.Window),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")

	jobID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid job ID", "ID must be a valid UUID")
		return
	}

	job, err := h.repo.GetJob(r.Context(), jobID)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Job not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job",
			zap.Error(err),
			zap.String("job_id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get job", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(job)
}

// ListJobs handles GET /v1/jobs?owner_id=xxx&limit=20&offset=0
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing owner_id", "owner_id query parameter is required")
		return
	}

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	jobs, err := h.repo.ListJobsByOwner(r.Context(), ownerID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list jobs",
			zap.Error(err),
			zap.String("owner_id", ownerID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list jobs", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   jobs,
		"limit":  limit,
		"offset": offset,
		"count":  len(jobs),
	})
}

// Health handles GET /health. Any failing dependency makes the service degraded;
// an open transport breaker is reported but does not, since ticks still run.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}

	for name, check := range h.checks {
		if err := check.Health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = "unreachable"
			continue
		}
		body[name] = "ok"
	}
	if h.breaker != nil {
		body["transport"] = h.breaker.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
