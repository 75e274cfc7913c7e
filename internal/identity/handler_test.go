package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/recovery"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/token"
)

type captureMailer struct {
	to      string
	subject string
	html    string
}

func (m *captureMailer) Send(ctx context.Context, to, subject, html, text string) error {
	m.to, m.subject, m.html = to, subject, html
	return nil
}

type recordingBlobStore struct{ deleted []string }

func (b *recordingBlobStore) Upload(ctx context.Context, path string) (string, string, error) {
	return "http://localhost/blobs/fake", "fake", nil
}

func (b *recordingBlobStore) Delete(ctx context.Context, id string) error {
	b.deleted = append(b.deleted, id)
	return nil
}

type handlerFixture struct {
	handler *Handler
	store   *fakeIdentityStore
	mail    *captureMailer
	blobs   *recordingBlobStore
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := newFakeIdentityStore()
	hasher := BcryptHasher{Cost: 4}
	svc := NewService(store, hasher)
	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte("access-test-secret"),
		RefreshSecret: []byte("refresh-test-secret"),
		AccessTTL:     time.Hour,
		RefreshTTL:    72 * time.Hour,
	}, store)
	require.NoError(t, err)
	rec := recovery.NewService(store, hasher)
	mail := &captureMailer{}
	blobs := &recordingBlobStore{}
	h := NewHandler(svc, tokens, rec, mail, blobs, CookieConfig{
		MaxAge:   72 * time.Hour,
		SameSite: http.SameSiteLaxMode,
	}, zap.NewNop().Sugar())
	return &handlerFixture{handler: h, store: store, mail: mail, blobs: blobs}
}

func postJSON(t *testing.T, handler func(http.ResponseWriter, *http.Request), body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func cookieByName(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func registerAndLogin(t *testing.T, fx *handlerFixture) *httptest.ResponseRecorder {
	t.Helper()
	rr := postJSON(t, fx.handler.Register, registerRequest{
		Name: "Alice", Username: "alice", Email: "alice@example.com", Password: "Secret1!",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = postJSON(t, fx.handler.Login, loginRequest{Identifier: "alice", Password: "Secret1!"})
	require.Equal(t, http.StatusOK, rr.Code)
	return rr
}

func TestLoginSetsCredentialCookies(t *testing.T) {
	fx := newHandlerFixture(t)
	rr := registerAndLogin(t, fx)

	access := cookieByName(t, rr, AccessCookie)
	refresh := cookieByName(t, rr, RefreshCookie)
	assert.True(t, access.HttpOnly)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, int((72 * time.Hour).Seconds()), access.MaxAge)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			AccessToken string `json:"accessToken"`
			User        struct {
				Username string `json:"username"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, access.Value, body.Data.AccessToken)
	assert.Equal(t, "alice", body.Data.User.Username)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	fx := newHandlerFixture(t)
	registerAndLogin(t, fx)

	rr := postJSON(t, fx.handler.Login, loginRequest{Identifier: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
}

func TestRefreshRotatesOnceThenRejectsReuse(t *testing.T) {
	fx := newHandlerFixture(t)
	login := registerAndLogin(t, fx)
	refresh := cookieByName(t, login, RefreshCookie)

	rr := postJSON(t, fx.handler.Refresh, struct{}{}, refresh)
	require.Equal(t, http.StatusOK, rr.Code)
	next := cookieByName(t, rr, RefreshCookie)
	assert.NotEqual(t, refresh.Value, next.Value)

	// the consumed credential must never work again
	rr = postJSON(t, fx.handler.Refresh, struct{}{}, refresh)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// the freshly rotated one does
	rr = postJSON(t, fx.handler.Refresh, struct{}{}, next)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRefreshWithoutCookie(t *testing.T) {
	fx := newHandlerFixture(t)
	rr := postJSON(t, fx.handler.Refresh, struct{}{})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutInvalidatesRefreshCredential(t *testing.T) {
	fx := newHandlerFixture(t)
	login := registerAndLogin(t, fx)
	refresh := cookieByName(t, login, RefreshCookie)

	var body struct {
		Data struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &body))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rr := httptest.NewRecorder()
	fx.handler.Logout(rr, req, body.Data.User.ID)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, -1, cookieByName(t, rr, RefreshCookie).MaxAge)

	rr = postJSON(t, fx.handler.Refresh, struct{}{}, refresh)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	fx := newHandlerFixture(t)
	registerAndLogin(t, fx)

	rr := postJSON(t, fx.handler.ForgotPassword, forgotPasswordRequest{Email: "alice@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "alice@example.com", fx.mail.to)

	code := regexp.MustCompile(`\d{6}`).FindString(fx.mail.html)
	require.Len(t, code, 6)

	rr = postJSON(t, fx.handler.ResetPassword, resetPasswordRequest{Code: code, NewPassword: "Fresh1!"})
	require.Equal(t, http.StatusOK, rr.Code)

	// old password is gone, new one works, code is single-use
	rr = postJSON(t, fx.handler.Login, loginRequest{Identifier: "alice", Password: "Secret1!"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = postJSON(t, fx.handler.Login, loginRequest{Identifier: "alice", Password: "Fresh1!"})
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = postJSON(t, fx.handler.ResetPassword, resetPasswordRequest{Code: code, NewPassword: "Again1!"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func makeAdmin(t *testing.T, fx *handlerFixture, id string) {
	t.Helper()
	fx.store.mu.Lock()
	fx.store.byID[id].Role = entity.RoleAdmin
	fx.store.mu.Unlock()
}

func loggedInUserID(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Data struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Data.User.ID
}

func TestListUsersForbiddenForEmployee(t *testing.T) {
	fx := newHandlerFixture(t)
	employeeID := loggedInUserID(t, registerAndLogin(t, fx))

	req := httptest.NewRequest(http.MethodGet, "/?page=1&limit=10", nil)
	rr := httptest.NewRecorder()
	fx.handler.ListUsers(rr, req, employeeID)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListUsersAsAdmin(t *testing.T) {
	fx := newHandlerFixture(t)
	adminID := loggedInUserID(t, registerAndLogin(t, fx))
	makeAdmin(t, fx, adminID)
	rr := postJSON(t, fx.handler.Register, registerRequest{
		Name: "Bob", Username: "bob", Email: "bob@example.com", Password: "Secret1!",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/?page=1&limit=1", nil)
	rr = httptest.NewRecorder()
	fx.handler.ListUsers(rr, req, adminID)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data struct {
			Users      []struct{ Username string } `json:"users"`
			TotalUsers int                         `json:"totalUsers"`
			Page       int                         `json:"page"`
			Limit      int                         `json:"limit"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.TotalUsers)
	require.Len(t, body.Data.Users, 1)
	assert.Equal(t, "bob", body.Data.Users[0].Username)
}

func TestDeleteUserReleasesAvatarBlob(t *testing.T) {
	fx := newHandlerFixture(t)
	adminID := loggedInUserID(t, registerAndLogin(t, fx))
	makeAdmin(t, fx, adminID)
	rr := postJSON(t, fx.handler.Register, registerRequest{
		Name: "Bob", Username: "bob", Email: "bob@example.com", Password: "Secret1!",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	target, err := fx.store.GetByIdentifier(context.Background(), "bob")
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateAvatar(context.Background(), target.ID, "http://localhost/blobs/b1", "b1"))

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.SetPathValue("id", target.ID)
	rr = httptest.NewRecorder()
	fx.handler.DeleteUser(rr, req, adminID)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, []string{"b1"}, fx.blobs.deleted)
	_, err = fx.store.GetByID(context.Background(), target.ID)
	assert.Error(t, err)

	// deleting again reports the account as gone
	rr = httptest.NewRecorder()
	fx.handler.DeleteUser(rr, req, adminID)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteUserForbiddenForEmployee(t *testing.T) {
	fx := newHandlerFixture(t)
	employeeID := loggedInUserID(t, registerAndLogin(t, fx))

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.SetPathValue("id", employeeID)
	rr := httptest.NewRecorder()
	fx.handler.DeleteUser(rr, req, employeeID)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	fx := newHandlerFixture(t)
	rr := postJSON(t, fx.handler.ForgotPassword, forgotPasswordRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
