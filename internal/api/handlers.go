package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/ingest"
)

// Runner starts ingestion runs on demand.
type Runner interface {
	Trigger(ctx context.Context, force bool) (<-chan error, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (*catalog.Stats, error)
}

// OutboxStats reports relay backlog. Optional.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

type Handlers struct {
	runner Runner
	stats  StatsSource
	outbox OutboxStats
	logger *slog.Logger
}

func NewHandlers(runner Runner, stats StatsSource, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner: runner,
		stats:  stats,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// RunResponse represents the result of an on-demand trigger
type RunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TriggerRun starts a run unless the catalog is fresh; ?force=true skips the staleness gate.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = parsed
	}

	done, err := h.runner.Trigger(r.Context(), force)
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		h.respondError(w, http.StatusConflict, "an ingestion run is already in progress")
		return
	case err != nil:
		h.logger.Error("failed to trigger run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to trigger run")
		return
	case done == nil:
		h.respondJSON(w, http.StatusOK, RunResponse{
			Status:  "fresh",
			Message: "catalog is fresh, no run started",
		})
		return
	}

	h.logger.Info("ingestion run triggered", "force", force)
	h.respondJSON(w, http.StatusAccepted, RunResponse{
		Status:  "started",
		Message: "ingestion run started",
	})
}

// StatsResponse represents catalog statistics
type StatsResponse struct {
	Products        int        `json:"products"`
	InStock         int        `json:"in_stock"`
	Brands          int        `json:"brands"`
	Categories      int        `json:"categories"`
	LastProductSync *time.Time `json:"last_product_sync,omitempty"`
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := StatsResponse{
		Products:   stats.Products,
		InStock:    stats.InStock,
		Brands:     stats.Brands,
		Categories: stats.Categories,
	}
	if !stats.LastProductSync.IsZero() {
		resp.LastProductSync = &stats.LastProductSync
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, perr := h.outbox.PendingCount(r.Context())
		dead, derr := h.outbox.DeadLetterCount(r.Context())
		if err := errors.Join(perr, derr); err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": dead,
		}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if dead > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
