package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
	"github.com/ternarybob/certflow/internal/services/scheduler"
	"github.com/ternarybob/certflow/internal/services/workflow"
)

// SupervisorState exposes the supervisor's current state
type SupervisorState interface {
	State() workflow.SupervisorState
}

// RunTrigger starts runs on demand and reports the schedule
type RunTrigger interface {
	TriggerNow() error
	Status() scheduler.Status
}

// DatasetCounts tallies dataset rows by status
type DatasetCounts struct {
	Path     string `json:"path"`
	Total    int    `json:"total"`
	Pending  int    `json:"pending"`
	Found    int    `json:"found"`
	NotFound int    `json:"not_found"`
	Error    string `json:"error,omitempty"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Version    string                   `json:"version"`
	Dataset    DatasetCounts            `json:"dataset"`
	Supervisor workflow.SupervisorState `json:"supervisor"`
	Schedule   scheduler.Status         `json:"schedule"`
}

// StatusHandler handles operator status and run triggers
type StatusHandler struct {
	store      interfaces.RecordStore
	supervisor SupervisorState
	trigger    RunTrigger
	logger     arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(store interfaces.RecordStore, supervisor SupervisorState, trigger RunTrigger, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		store:      store,
		supervisor: supervisor,
		trigger:    trigger,
		logger:     logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	resp := StatusResponse{
		Version:    common.GetVersion(),
		Dataset:    DatasetCounts{Path: h.store.Path()},
		Supervisor: h.supervisor.State(),
		Schedule:   h.trigger.Status(),
	}

	// An unreadable dataset is reported, not fatal: the file may be open in Excel
	records, err := h.store.Records(r.Context())
	if err != nil {
		resp.Dataset.Error = err.Error()
	}
	for _, rec := range records {
		resp.Dataset.Total++
		switch rec.Status {
		case models.StatusFound:
			resp.Dataset.Found++
		case models.StatusNotFound:
			resp.Dataset.NotFound++
		default:
			resp.Dataset.Pending++
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// RunHandler handles POST /api/run
func (h *StatusHandler) RunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.trigger.TriggerNow(); err != nil {
		if errors.Is(err, workflow.ErrAlreadyRunning) {
			WriteError(w, http.StatusConflict, "A run is already in progress")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to trigger run")
		WriteError(w, http.StatusInternalServerError, "Failed to trigger run")
		return
	}

	WriteStarted(w, "Run started")
}

// HealthHandler handles GET /health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
