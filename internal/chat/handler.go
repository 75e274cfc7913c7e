package chat

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/chat/entity"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/chat/repo"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// HistoryStore is the read surface for the REST history endpoint.
type HistoryStore interface {
	AllForProject(ctx context.Context, projectID string) ([]entity.Message, error)
}

// Handler exposes the REST chat surface: full ascending message history
// for a project. The realtime path lives on the Gateway.
type Handler struct {
	store   HistoryStore
	members Membership
	logger  *zap.SugaredLogger
}

func NewHandler(store HistoryStore, members Membership, logger *zap.SugaredLogger) *Handler {
	return &Handler{store: store, members: members, logger: logger}
}

// ProjectMessages handles GET /collab-api/chat/{projectId}. The caller's
// identity id must already be resolved by the auth middleware.
func (h *Handler) ProjectMessages(w http.ResponseWriter, r *http.Request, identityID string) {
	projectID := r.PathValue("projectId")
	if projectID == "" {
		utilities.RespondError(w, http.StatusBadRequest, "projectId is required")
		return
	}
	ok, err := h.members.IsMember(r.Context(), projectID, identityID)
	if err != nil {
		h.logger.Errorw("membership lookup failed", "project", projectID, "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		utilities.RespondError(w, http.StatusForbidden, "not a project member")
		return
	}
	messages, err := h.store.AllForProject(r.Context(), projectID)
	if err != nil {
		h.logger.Errorw("history fetch failed", "project", projectID, "err", err)
		if errors.Is(err, repo.ErrStorageUnavailable) {
			utilities.RespondError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, messages, "messages fetched successfully")
}
