package project

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/blob"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// Handler exposes HTTP endpoints for project operations.
type Handler struct {
	svc    *Service
	blobs  blob.Store
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, blobs blob.Store, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, blobs: blobs, logger: logger}
}

type createRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Members     []string   `json:"members,omitempty"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request, identityID string) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	p, err := h.svc.Create(r.Context(), identityID, req.Name, req.Description, req.Deadline, req.Members)
	if err != nil {
		h.respondServiceError(w, err, "project create failed")
		return
	}
	utilities.RespondJSON(w, http.StatusCreated, p, "project created successfully")
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, identityID string) {
	p, err := h.svc.Get(r.Context(), r.PathValue("id"), identityID)
	if err != nil {
		h.respondServiceError(w, err, "project fetch failed")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, p, "project fetched successfully")
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, identityID string) {
	projects, err := h.svc.ListForMember(r.Context(), identityID)
	if err != nil {
		h.respondServiceError(w, err, "project list failed")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, projects, "projects fetched successfully")
}

type memberRequest struct {
	MemberID string `json:"memberId"`
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request, identityID string) {
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		utilities.RespondError(w, http.StatusBadRequest, "memberId is required")
		return
	}
	if err := h.svc.AddMember(r.Context(), r.PathValue("id"), identityID, req.MemberID); err != nil {
		h.respondServiceError(w, err, "member add failed")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, nil, "member added successfully")
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request, identityID string) {
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		utilities.RespondError(w, http.StatusBadRequest, "memberId is required")
		return
	}
	if err := h.svc.RemoveMember(r.Context(), r.PathValue("id"), identityID, req.MemberID); err != nil {
		h.respondServiceError(w, err, "member remove failed")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, nil, "member removed successfully")
}

// maxProjectFileBytes caps project attachment uploads at 10 MiB.
const maxProjectFileBytes = 10 << 20

// UploadFile accepts a multipart attachment, stores it in the blob store
// and records the reference on the project. Only the creator may attach.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request, identityID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxProjectFileBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "project-*"+filepath.Ext(header.Filename))
	if err != nil {
		h.logger.Errorw("attachment temp file failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		h.logger.Errorw("attachment spool failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	tmp.Close()

	url, blobID, err := h.blobs.Upload(r.Context(), tmp.Name())
	if err != nil {
		h.logger.Errorw("attachment upload failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "file upload failed")
		return
	}
	if err := h.svc.AttachFile(r.Context(), r.PathValue("id"), identityID, url, blobID); err != nil {
		h.respondServiceError(w, err, "attachment record failed")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, map[string]string{"fileUrl": url}, "file uploaded successfully")
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		utilities.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicate):
		utilities.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		utilities.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		utilities.RespondError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Errorw(logMsg, "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
