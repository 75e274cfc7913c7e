package router

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/chat"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/project"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/task"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level
// using the provided sugared logger. Websocket upgrades are passed through
// unwrapped: their response writer must stay hijackable.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP
// security headers. It is intentionally simple and conservative so it
// works with most setups.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only makes sense over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenVerifier validates access credentials for authenticated routes.
type TokenVerifier interface {
	VerifyAccess(token string) (string, error)
}

// accessFromRequest reads the access credential from the accessToken
// cookie, falling back to a bearer Authorization header.
func accessFromRequest(r *http.Request) string {
	if c, err := r.Cookie(identity.AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

// requireAuth wraps a handler that needs the caller's identity id. Any
// verification failure yields one generic unauthorized envelope.
func requireAuth(tokens TokenVerifier, next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := accessFromRequest(r)
		if tok == "" {
			utilities.RespondError(w, http.StatusUnauthorized, "unauthorized request")
			return
		}
		identityID, err := tokens.VerifyAccess(tok)
		if err != nil {
			utilities.RespondError(w, http.StatusUnauthorized, "unauthorized request")
			return
		}
		next(w, r, identityID)
	}
}

// Handlers bundles the HTTP surfaces the router mounts. The gateway is
// constructed once at process start and passed in; the router never owns
// service state.
type Handlers struct {
	Identity *identity.Handler
	Project  *project.Handler
	Task     *task.Handler
	Chat     *chat.Handler
	Gateway  *chat.Gateway
	Tokens   TokenVerifier
}

// RegisterRoutes mounts HTTP handlers using the standard library's
// http.ServeMux and wraps them with the logging and security-header
// middleware.
func RegisterRoutes(logger *zap.SugaredLogger, h Handlers) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /collab-api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// session
	mux.HandleFunc("POST /collab-api/auth/register", h.Identity.Register)
	mux.HandleFunc("POST /collab-api/auth/login", h.Identity.Login)
	mux.HandleFunc("POST /collab-api/auth/refresh", h.Identity.Refresh)
	mux.HandleFunc("POST /collab-api/auth/forgot-password", h.Identity.ForgotPassword)
	mux.HandleFunc("POST /collab-api/auth/reset-password", h.Identity.ResetPassword)
	mux.HandleFunc("POST /collab-api/auth/logout", requireAuth(h.Tokens, h.Identity.Logout))

	// account
	mux.HandleFunc("GET /collab-api/user/current", requireAuth(h.Tokens, h.Identity.Current))
	mux.HandleFunc("POST /collab-api/user/change-password", requireAuth(h.Tokens, h.Identity.ChangePassword))
	mux.HandleFunc("PATCH /collab-api/user/account", requireAuth(h.Tokens, h.Identity.UpdateAccount))
	mux.HandleFunc("POST /collab-api/user/avatar", requireAuth(h.Tokens, h.Identity.UpdateAvatar))
	mux.HandleFunc("GET /collab-api/users", requireAuth(h.Tokens, h.Identity.ListUsers))
	mux.HandleFunc("DELETE /collab-api/user/{id}", requireAuth(h.Tokens, h.Identity.DeleteUser))

	// projects
	mux.HandleFunc("POST /collab-api/projects", requireAuth(h.Tokens, h.Project.Create))
	mux.HandleFunc("GET /collab-api/projects", requireAuth(h.Tokens, h.Project.List))
	mux.HandleFunc("GET /collab-api/projects/{id}", requireAuth(h.Tokens, h.Project.Get))
	mux.HandleFunc("POST /collab-api/projects/{id}/members", requireAuth(h.Tokens, h.Project.AddMember))
	mux.HandleFunc("DELETE /collab-api/projects/{id}/members", requireAuth(h.Tokens, h.Project.RemoveMember))
	mux.HandleFunc("POST /collab-api/projects/{id}/file", requireAuth(h.Tokens, h.Project.UploadFile))

	// tasks
	mux.HandleFunc("POST /collab-api/tasks", requireAuth(h.Tokens, h.Task.Create))
	mux.HandleFunc("GET /collab-api/tasks", requireAuth(h.Tokens, h.Task.ListByProject))
	mux.HandleFunc("PATCH /collab-api/tasks/{id}/status", requireAuth(h.Tokens, h.Task.UpdateStatus))

	// chat: REST history plus the websocket gateway (the gateway does its
	// own handshake auth so browser clients can pass the credential as a
	// query param)
	mux.HandleFunc("GET /collab-api/chat/{projectId}", requireAuth(h.Tokens, h.Chat.ProjectMessages))
	mux.Handle("GET /collab-api/ws", h.Gateway)

	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
	return handler
}
