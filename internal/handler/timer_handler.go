package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/blitztime/api/internal/logger"
	"github.com/blitztime/api/internal/model"
	"github.com/blitztime/api/internal/service"
)

// TimerHandler handles timer REST endpoints.
type TimerHandler struct {
	timerSvc *service.TimerService
}

// NewTimerHandler creates a TimerHandler.
func NewTimerHandler(timerSvc *service.TimerService) *TimerHandler {
	return &TimerHandler{timerSvc: timerSvc}
}

// CreateTimer handles POST /timer
func (h *TimerHandler) CreateTimer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Settings  []model.StageSettings `json:"settings"`
		AsManager bool                  `json:"as_manager,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body.")
		return
	}

	timer, token, err := h.timerSvc.CreateTimer(r.Context(), req.Settings, req.AsManager)
	if err != nil {
		if errors.Is(err, service.ErrNoStages) || errors.Is(err, service.ErrFirstStage) ||
			errors.Is(err, service.ErrStagesUnsorted) || errors.Is(err, service.ErrNegativeStage) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		reqLogger := logger.ForRequest(r.Context())
		reqLogger.Error().Err(err).Msg("Failed to create timer")
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "timer_id": timer.ID})
}

// GetTimer handles GET /timer/{id}
func (h *TimerHandler) GetTimer(w http.ResponseWriter, r *http.Request) {
	timerID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, service.ErrTimerNotFound.Error())
		return
	}

	state, err := h.timerSvc.Snapshot(r.Context(), timerID)
	if err != nil {
		if errors.Is(err, service.ErrTimerNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		reqLogger := logger.ForRequest(r.Context())
		reqLogger.Error().Err(err).Int64("timerId", timerID).Msg("Failed to load timer")
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// JoinTimer handles POST /timer/{id}/{slot}
func (h *TimerHandler) JoinTimer(w http.ResponseWriter, r *http.Request) {
	timerID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, service.ErrTimerNotFound.Error())
		return
	}

	side, err := h.timerSvc.JoinTimer(r.Context(), timerID, r.PathValue("slot"))
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Internal server error."
		switch {
		case errors.Is(err, service.ErrInvalidSlot):
			status, msg = http.StatusUnprocessableEntity, err.Error()
		case errors.Is(err, service.ErrTimerNotFound):
			status, msg = http.StatusNotFound, err.Error()
		case errors.Is(err, service.ErrGameFull):
			status, msg = http.StatusConflict, err.Error()
		default:
			reqLogger := logger.ForRequest(r.Context())
			reqLogger.Error().Err(err).Int64("timerId", timerID).Msg("Failed to join timer")
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": side.Token, "timer_id": timerID})
}

// GetStats handles GET /stats
func (h *TimerHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.timerSvc.Stats(r.Context())
	if err != nil {
		reqLogger := logger.ForRequest(r.Context())
		reqLogger.Error().Err(err).Msg("Failed to load stats")
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
