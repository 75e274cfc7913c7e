package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/blob"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/recovery"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// Cookie names for the credential pair.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// CookieConfig controls how the credential cookies are scoped. MaxAge is
// a fixed cookie lifetime, intentionally independent of the credentials'
// own embedded expiry.
type CookieConfig struct {
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

// CookieConfigFromEnv derives cookie scoping from APP_ENV: production
// gets Secure + strict SameSite, development stays relaxed.
func CookieConfigFromEnv() CookieConfig {
	cfg := CookieConfig{
		MaxAge:   3 * 24 * time.Hour,
		SameSite: http.SameSiteLaxMode,
	}
	if os.Getenv("APP_ENV") == "production" {
		cfg.Secure = true
		cfg.SameSite = http.SameSiteStrictMode
	}
	if v := os.Getenv("COOKIE_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxAge = d
		}
	}
	return cfg
}

// Handler exposes the session and account HTTP surface: register, login,
// logout, refresh, forgot/reset password, plus authenticated account
// maintenance.
type Handler struct {
	svc      *Service
	tokens   *token.Service
	recovery *recovery.Service
	mail     mailer.Mailer
	blobs    blob.Store
	cookies  CookieConfig
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, tokens *token.Service, rec *recovery.Service, mail mailer.Mailer, blobs blob.Store, cookies CookieConfig, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, tokens: tokens, recovery: rec, mail: mail, blobs: blobs, cookies: cookies, logger: logger}
}

func (h *Handler) setCredentialCookies(w http.ResponseWriter, access, refresh string) {
	maxAge := int(h.cookies.MaxAge.Seconds())
	for name, value := range map[string]string{AccessCookie: access, RefreshCookie: refresh} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: h.cookies.SameSite,
		})
	}
}

func (h *Handler) clearCredentialCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: h.cookies.SameSite,
		})
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id, err := h.svc.Register(r.Context(), req.Name, req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			utilities.RespondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrBadCredentials):
			utilities.RespondError(w, http.StatusBadRequest, "all fields are required")
		default:
			h.logger.Errorw("register failed", "err", err)
			utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	utilities.RespondJSON(w, http.StatusCreated, id.Public(), "user registered successfully")
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id, err := h.svc.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			utilities.RespondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Errorw("login failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	access, refresh, err := h.tokens.IssuePair(r.Context(), id.ID)
	if err != nil {
		h.logger.Errorw("credential issue failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.setCredentialCookies(w, access, refresh)
	utilities.RespondJSON(w, http.StatusOK, map[string]any{
		"user":        id.Public(),
		"accessToken": access,
	}, "user logged in successfully")
}

// Logout clears the stored refresh credential and both cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request, identityID string) {
	if err := h.tokens.Revoke(r.Context(), identityID); err != nil {
		h.logger.Errorw("logout failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.clearCredentialCookies(w)
	utilities.RespondJSON(w, http.StatusOK, nil, "user logged out successfully")
}

// Refresh rotates the refresh credential presented in the cookie and
// re-issues both cookies. A stale credential fails and stays failed.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		utilities.RespondError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}
	access, refresh, err := h.tokens.Rotate(r.Context(), cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpiredCredential),
			errors.Is(err, token.ErrMalformedCredential),
			errors.Is(err, token.ErrReusedOrRevokedCredential):
			utilities.RespondError(w, http.StatusUnauthorized, "refresh token is invalid, expired or already used")
		default:
			h.logger.Errorw("refresh failed", "err", err)
			utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	h.setCredentialCookies(w, access, refresh)
	utilities.RespondJSON(w, http.StatusOK, map[string]any{"accessToken": access}, "access token refreshed")
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		utilities.RespondError(w, http.StatusBadRequest, "email is required")
		return
	}
	id, code, err := h.recovery.Begin(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, recovery.ErrUnknownEmail) {
			utilities.RespondError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Errorw("recovery begin failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	subject, html, text := mailer.PasswordResetEmail(id.Name, code)
	if err := h.mail.Send(r.Context(), id.Email, subject, html, text); err != nil {
		h.logger.Errorw("recovery mail failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "could not send reset email")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, nil, "password reset mail has been sent")
}

type resetPasswordRequest struct {
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.recovery.Complete(r.Context(), req.Code, req.NewPassword); err != nil {
		if errors.Is(err, recovery.ErrInvalidOrExpiredCode) {
			// one message for wrong and expired alike
			utilities.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Errorw("recovery complete failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, nil, "password reset successfully")
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request, identityID string) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.svc.ChangePassword(r.Context(), identityID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			utilities.RespondError(w, http.StatusBadRequest, "invalid old password")
			return
		}
		h.logger.Errorw("change password failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, nil, "password changed successfully")
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request, identityID string) {
	id, err := h.svc.GetByID(r.Context(), identityID)
	if err != nil {
		utilities.RespondError(w, http.StatusNotFound, "user not found")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, id.Public(), "current user fetched successfully")
}

// maxAvatarBytes caps avatar uploads at 5 MiB.
const maxAvatarBytes = 5 << 20

// UpdateAvatar accepts a multipart upload, hands the file to the blob
// store and records the returned reference. The previous avatar blob, if
// any, is deleted best-effort.
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request, identityID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
	file, header, err := r.FormFile("profileImage")
	if err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "profileImage file is required")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "avatar-*"+filepath.Ext(header.Filename))
	if err != nil {
		h.logger.Errorw("avatar temp file failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		h.logger.Errorw("avatar spool failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	tmp.Close()

	id, err := h.svc.GetByID(r.Context(), identityID)
	if err != nil {
		utilities.RespondError(w, http.StatusNotFound, "user not found")
		return
	}

	url, blobID, err := h.blobs.Upload(r.Context(), tmp.Name())
	if err != nil {
		h.logger.Errorw("avatar upload failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "avatar upload failed")
		return
	}
	if id.AvatarBlobID != "" {
		if err := h.blobs.Delete(r.Context(), id.AvatarBlobID); err != nil {
			h.logger.Warnw("old avatar delete failed", "blob", id.AvatarBlobID, "err", err)
		}
	}
	if err := h.svc.UpdateAvatar(r.Context(), identityID, url, blobID); err != nil {
		h.logger.Errorw("avatar update failed", "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utilities.RespondJSON(w, http.StatusOK, map[string]string{"avatarUrl": url}, "profile image updated successfully")
}

// ListUsers returns a page of accounts (administrators only).
// Pagination follows ?page=&limit= with 1/10 defaults.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request, identityID string) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	ids, total, err := h.svc.ListAll(r.Context(), identityID, page, limit)
	if err != nil {
		h.respondAdminError(w, err, "user list failed")
		return
	}
	users := make([]entity.PublicView, 0, len(ids))
	for i := range ids {
		users = append(users, ids[i].Public())
	}
	utilities.RespondJSON(w, http.StatusOK, map[string]any{
		"users":      users,
		"totalUsers": total,
		"page":       page,
		"limit":      limit,
	}, "users fetched successfully")
}

// DeleteUser removes an account (administrators only) and releases its
// avatar blob.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request, identityID string) {
	removed, err := h.svc.Delete(r.Context(), identityID, r.PathValue("id"))
	if err != nil {
		h.respondAdminError(w, err, "user delete failed")
		return
	}
	if removed.AvatarBlobID != "" {
		if err := h.blobs.Delete(r.Context(), removed.AvatarBlobID); err != nil {
			h.logger.Warnw("avatar delete failed", "blob", removed.AvatarBlobID, "err", err)
		}
	}
	utilities.RespondJSON(w, http.StatusOK, nil,
		fmt.Sprintf("user %q has been deleted successfully", removed.Username))
}

func (h *Handler) respondAdminError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrForbidden):
		utilities.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		utilities.RespondError(w, http.StatusNotFound, "user not found")
	default:
		h.logger.Errorw(logMsg, "err", err)
		utilities.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

type updateAccountRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request, identityID string) {
	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id, err := h.svc.UpdateAccount(r.Context(), identityID, req.Name, req.Username, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			utilities.RespondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrBadCredentials):
			utilities.RespondError(w, http.StatusBadRequest, "all fields are required")
		case errors.Is(err, ErrNotFound):
			utilities.RespondError(w, http.StatusNotFound, "user not found")
		default:
			h.logger.Errorw("account update failed", "err", err)
			utilities.RespondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	utilities.RespondJSON(w, http.StatusOK, id.Public(), "account details updated successfully")
}
