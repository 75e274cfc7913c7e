package task

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/task/entity"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// Handler exposes HTTP endpoints for task operations.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type createRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Assignee    string     `json:"assignee"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ProjectID   string     `json:"projectId"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request, identityID string) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	t, err := h.svc.Create(r.Context(), identityID, &entity.Task{
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
		Priority:    req.Priority,
		Status:      req.Status,
		Deadline:    req.Deadline,
		ProjectID:   req.ProjectID,
	})
	if err != nil {
		h.respondServiceError(w, err, "task create failed")
		return
	}
	utilities.RespondJSON(w, http.StatusCreated, t, "task created successfully")
}

func (h *Handler) ListByProject(w http.ResponseWriter, r *http.Request, identityID string) {
	tasks, err := h.svc.ListByProject(r.Context(), identityID, r.URL.Query().Get("projectId"))
	if err != nil {
		h.respondServiceError(w, err, "task list failed")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, tasks, "tasks fetched successfully")
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request, identityID string) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	t, err := h.svc.UpdateStatus(r.Context(), identityID, r.PathValue("id"), req.Status)
	if err != nil {
		h.respondServiceError(w, err, "task status update failed")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, t, "task updated successfully")
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		utilities.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		utilities.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		utilities.RespondError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Errorw(logMsg, "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
