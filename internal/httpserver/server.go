package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"todosrv/todos-web/internal/auth"
	"todosrv/todos-web/internal/config"
	"todosrv/todos-web/internal/migrations"
	"todosrv/todos-web/internal/todo"
)

// SessionCookieName is the cookie carrying the opaque session token. Bearer
// tokens are accepted as a fallback for non-browser clients.
const SessionCookieName = "todo_session"

type AuthService interface {
	Signup(ctx context.Context, username, password, confirmation string, remember bool) (auth.Session, error)
	Login(ctx context.Context, username, password string, remember bool) (auth.Session, error)
	Logout(ctx context.Context, token string) error
	ValidateToken(ctx context.Context, token string) (auth.Session, error)
	CurrentUser(ctx context.Context, token string) (auth.User, error)
	ChangePassword(ctx context.Context, token, currentPassword, newPassword string) error
}

type TodoService interface {
	List(ctx context.Context) ([]todo.Todo, error)
	Add(ctx context.Context, title string, owner *todo.Owner) (todo.Todo, error)
	Delete(ctx context.Context, id int64) error
	Version() int64
}

type MigrationService interface {
	List() ([]migrations.FileInfo, error)
	Status() ([]migrations.Status, error)
	MarkApplied(name string, appliedAt time.Time) error
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Auth            AuthService
	Todos           TodoService
	Migrations      MigrationService
	Audit           AuditLogger
	DB              Pinger
	FrontendDistDir string
	CookieSecure    bool
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	deps.CookieSecure = cfg.CookieSecure
	handler := NewHandler(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	h := &handler{deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "todos-web-api",
			"version": "0.1.0",
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/v1/auth/signup", h.signup).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/me", h.me).Methods(http.MethodGet)
	r.HandleFunc("/v1/auth/change-password", h.changePassword).Methods(http.MethodPost)

	r.HandleFunc("/v1/todos", h.listTodos).Methods(http.MethodGet)
	r.HandleFunc("/v1/todos", h.createTodo).Methods(http.MethodPost)
	r.HandleFunc("/v1/todos/{id:[0-9]+}", h.deleteTodo).Methods(http.MethodDelete)

	r.HandleFunc("/v1/system/migrations", h.listMigrations).Methods(http.MethodGet)
	r.HandleFunc("/v1/system/migrations/status", h.migrationStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/system/migrations/{name}/apply", h.applyMigration).Methods(http.MethodPost)

	registerFrontendHandlers(r, deps.FrontendDistDir)

	return r
}

type handler struct {
	deps Deps
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.DB.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	// Signup is reachable only while anonymous; an existing session is sent
	// back to the app.
	if _, ok := h.currentSession(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	var req struct {
		Username             string `json:"username"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
		Remember             bool   `json:"remember"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.deps.Auth.Signup(r.Context(), req.Username, req.Password, req.PasswordConfirmation, req.Remember)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrPasswordMismatch):
			h.auditReq(r, req.Username, "auth.signup", "", "failed", "", "password mismatch")
			writeError(w, http.StatusBadRequest, "passwords did not match")
		case errors.Is(err, auth.ErrEmptyUsername), errors.Is(err, auth.ErrEmptyPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrUsernameTaken):
			h.auditReq(r, req.Username, "auth.signup", "", "failed", "", "username taken")
			writeError(w, http.StatusConflict, "user already exists")
		default:
			h.auditReq(r, req.Username, "auth.signup", "", "failed", "", err.Error())
			writeError(w, http.StatusInternalServerError, "signup failed")
		}
		return
	}

	h.setSessionCookie(w, session, req.Remember)
	h.auditReq(r, session.Username, "auth.signup", "", "success", session.Token, "")
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	if _, ok := h.currentSession(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	session, err := h.deps.Auth.Login(r.Context(), req.Username, req.Password, req.Remember)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.auditReq(r, req.Username, "auth.login", "", "failed", "", "invalid credentials")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.auditReq(r, req.Username, "auth.login", "", "failed", "", err.Error())
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.setSessionCookie(w, session, req.Remember)
	h.auditReq(r, session.Username, "auth.login", "", "success", session.Token, "")
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}

	token := sessionToken(r)
	session, _ := h.deps.Auth.ValidateToken(r.Context(), token)
	if err := h.deps.Auth.Logout(r.Context(), token); err != nil {
		h.auditReq(r, session.Username, "auth.logout", "", "failed", token, err.Error())
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	h.clearSessionCookie(w)
	// Logging out without a live session is still a success.
	h.auditReq(r, session.Username, "auth.logout", "", "success", token, "")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}

	user, err := h.deps.Auth.CurrentUser(r.Context(), sessionToken(r))
	if err != nil {
		// Anonymous is the success path here, never a 401.
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	if err := h.deps.Auth.ChangePassword(r.Context(), sessionToken(r), req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrEmptyPassword):
			writeError(w, http.StatusBadRequest, "new password is required")
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredentials):
			h.auditReq(r, session.Username, "auth.change_password", "", "failed", session.Token, "invalid credentials or token")
			writeError(w, http.StatusUnauthorized, "invalid credentials or token")
		default:
			h.auditReq(r, session.Username, "auth.change_password", "", "failed", session.Token, err.Error())
			writeError(w, http.StatusInternalServerError, "change password failed")
		}
		return
	}
	h.auditReq(r, session.Username, "auth.change_password", "", "success", session.Token, "")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listTodos(w http.ResponseWriter, r *http.Request) {
	if h.deps.Todos == nil {
		writeError(w, http.StatusServiceUnavailable, "todo service unavailable")
		return
	}

	items, err := h.deps.Todos.List(r.Context())
	if err != nil {
		h.auditReq(r, h.actor(r), "todo.list", "", "failed", "", err.Error())
		writeError(w, http.StatusInternalServerError, "list todos failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   items,
		"version": h.deps.Todos.Version(),
	})
}

func (h *handler) createTodo(w http.ResponseWriter, r *http.Request) {
	if h.deps.Todos == nil {
		writeError(w, http.StatusServiceUnavailable, "todo service unavailable")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Guests may create todos; ownership is whoever the cookie says, if
	// anyone.
	var owner *todo.Owner
	actor := ""
	if session, ok := h.currentSession(r); ok {
		owner = &todo.Owner{ID: session.UserID, Username: session.Username}
		actor = session.Username
	}

	created, err := h.deps.Todos.Add(r.Context(), req.Title, owner)
	if err != nil {
		if errors.Is(err, todo.ErrEmptyTitle) {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		h.auditReq(r, actor, "todo.create", "", "failed", "", err.Error())
		writeError(w, http.StatusInternalServerError, "create todo failed")
		return
	}

	h.auditReq(r, actor, "todo.create", strconv.FormatInt(created.ID, 10), "success", "", "")
	writeJSON(w, http.StatusCreated, map[string]any{
		"item":    created,
		"version": h.deps.Todos.Version(),
	})
}

func (h *handler) deleteTodo(w http.ResponseWriter, r *http.Request) {
	if h.deps.Todos == nil {
		writeError(w, http.StatusServiceUnavailable, "todo service unavailable")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid todo id")
		return
	}

	// Any caller may delete any todo; there is no ownership check, and a
	// missing id still succeeds.
	if err := h.deps.Todos.Delete(r.Context(), id); err != nil {
		h.auditReq(r, h.actor(r), "todo.delete", strconv.FormatInt(id, 10), "failed", "", err.Error())
		writeError(w, http.StatusInternalServerError, "delete todo failed")
		return
	}

	h.auditReq(r, h.actor(r), "todo.delete", strconv.FormatInt(id, 10), "success", "", "")
	writeJSON(w, http.StatusOK, map[string]any{
		"version": h.deps.Todos.Version(),
	})
}

func (h *handler) listMigrations(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	if h.deps.Migrations == nil {
		writeError(w, http.StatusServiceUnavailable, "migration service unavailable")
		return
	}

	files, err := h.deps.Migrations.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list migrations failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": files})
	h.auditReq(r, session.Username, "migration.list", "", "success", session.Token, "")
}

func (h *handler) migrationStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	if h.deps.Migrations == nil {
		writeError(w, http.StatusServiceUnavailable, "migration service unavailable")
		return
	}

	status, err := h.deps.Migrations.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "migration status failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": status})
	h.auditReq(r, session.Username, "migration.status", "", "success", session.Token, "")
}

func (h *handler) applyMigration(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	if h.deps.Migrations == nil {
		writeError(w, http.StatusServiceUnavailable, "migration service unavailable")
		return
	}

	name := strings.TrimSpace(mux.Vars(r)["name"])
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid migration name")
		return
	}

	if err := h.deps.Migrations.MarkApplied(name, time.Now()); err != nil {
		h.auditReq(r, session.Username, "migration.apply", name, "failed", session.Token, err.Error())
		writeError(w, http.StatusBadRequest, "mark migration applied failed")
		return
	}
	h.auditReq(r, session.Username, "migration.apply", name, "success", session.Token, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "name": name})
}

func registerFrontendHandlers(r *mux.Router, distDir string) {
	distDir = strings.TrimSpace(distDir)
	if distDir == "" {
		return
	}
	indexPath := filepath.Join(distDir, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		return
	}

	fileServer := http.FileServer(http.Dir(distDir))
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/v1/") || req.URL.Path == "/healthz" || req.URL.Path == "/readyz" {
			http.NotFound(w, req)
			return
		}

		cleanPath := path.Clean(req.URL.Path)
		if cleanPath == "." || cleanPath == "/" {
			http.ServeFile(w, req, indexPath)
			return
		}

		fullPath := filepath.Join(distDir, strings.TrimPrefix(cleanPath, "/"))
		info, err := os.Stat(fullPath)
		if err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, req)
			return
		}

		// SPA fallback.
		http.ServeFile(w, req, indexPath)
	})
}

func (h *handler) currentSession(r *http.Request) (auth.Session, bool) {
	if h.deps.Auth == nil {
		return auth.Session{}, false
	}
	token := sessionToken(r)
	if token == "" {
		return auth.Session{}, false
	}
	session, err := h.deps.Auth.ValidateToken(r.Context(), token)
	if err != nil {
		return auth.Session{}, false
	}
	return session, true
}

func (h *handler) requireSession(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	if h.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return auth.Session{}, false
	}
	session, ok := h.currentSession(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Session{}, false
	}
	return session, true
}

func (h *handler) actor(r *http.Request) string {
	if session, ok := h.currentSession(r); ok {
		return session.Username
	}
	return "guest"
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if token, err := extractBearerToken(r.Header.Get("Authorization")); err == nil {
		return token
	}
	return ""
}

func extractBearerToken(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

func (h *handler) setSessionCookie(w http.ResponseWriter, session auth.Session, remember bool) {
	c := &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.deps.CookieSecure,
	}
	// Without remember the cookie is browser-session scoped; the server-side
	// session still expires on its own.
	if remember {
		if maxAge := int(time.Until(session.ExpiresAt).Seconds()); maxAge > 0 {
			c.MaxAge = maxAge
		}
	}
	http.SetCookie(w, c)
}

func (h *handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.deps.CookieSecure,
		MaxAge:   -1,
	})
}

func sessionPayload(session auth.Session) map[string]any {
	return map[string]any{
		"token": session.Token,
		"user": map[string]any{
			"id":       session.UserID,
			"username": session.Username,
		},
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *handler) auditReq(r *http.Request, actor, action, target, outcome, token, detail string) {
	if h.deps.Audit == nil {
		return
	}
	parts := []string{
		"rid=" + requestIDFromContext(r.Context()),
		"ip=" + clientIP(r),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	if token != "" {
		// Only a prefix; full tokens never reach the audit trail.
		parts = append(parts, "tok="+tokenPrefix(token))
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	_ = h.deps.Audit.Log(actor, action, target, outcome, strings.Join(parts, " | "))
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
