package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/server/middleware"
	authservice "github.com/devgrid/devgrid/internal/services/auth"
)

// AuthHandler provides REST endpoints for authentication.
//
// Routes:
//   - POST /api/v1/auth/login    - Authenticate and receive tokens
//   - POST /api/v1/auth/refresh  - Exchange a refresh token for new tokens
//   - POST /api/v1/auth/logout   - Invalidate the current session
//   - POST /api/v1/auth/password - Change own password
//   - GET  /api/v1/auth/session  - Resolve a session ID to its user
type AuthHandler struct {
	server *Server
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(s *Server) *AuthHandler {
	return &AuthHandler{
		server: s,
		logger: s.logger.Named("auth-rest"),
	}
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/v1/auth/")

	if action == "session" {
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
			return
		}
		h.handleSession(w, r)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}

	switch action {
	case "login":
		h.handleLogin(w, r)
	case "refresh":
		h.handleRefresh(w, r)
	case "logout":
		h.handleLogout(w, r)
	case "password":
		h.handleChangePassword(w, r)
	default:
		writeError(w, h.logger, http.StatusNotFound, "not_found", "Unknown auth action")
	}
}

// loginRateLimit caps login attempts per remote host when Redis is enabled.
const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.server.cache != nil {
		host := r.RemoteAddr
		if split, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			host = split
		}
		result, err := h.server.cache.CheckRateLimit(r.Context(), "ratelimit:login:"+host, loginRateLimit, loginRateWindow)
		if err != nil {
			h.logger.Warn("Rate limit check failed", zap.Error(err))
		} else if !result.Allowed {
			writeError(w, h.logger, http.StatusTooManyRequests, "rate_limited", "Too many login attempts, try again later")
			return
		}
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	resp, err := h.server.authService.Login(r.Context(), &authservice.LoginRequest{
		Username:  body.Username,
		Password:  body.Password,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, h.logger, http.StatusUnauthorized, "login_failed", err.Error())
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"user":       resp.User,
		"tokens":     resp.Tokens,
		"session_id": resp.SessionID,
	})
}

func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	tokens, err := h.server.authService.RefreshTokens(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, h.logger, http.StatusUnauthorized, "refresh_failed", err.Error())
		return
	}

	writeJSON(w, h.logger, http.StatusOK, tokens)
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		SessionID string `json:"session_id"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	if err := h.server.authService.Logout(r.Context(), body.SessionID, userID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	user, err := h.server.authService.GetSessionUser(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, user)
}

func (h *AuthHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthenticated", "Not authenticated")
		return
	}

	var body struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	if err := h.server.authService.ChangePassword(r.Context(), userID, body.OldPassword, body.NewPassword); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
}

// UserHandler provides REST endpoints for user management.
//
// Routes:
//   - GET    /api/v1/users      - List users
//   - POST   /api/v1/users      - Create a user (admin)
//   - GET    /api/v1/users/{id} - Get a user
//   - PUT    /api/v1/users/{id} - Update a user (admin)
//   - DELETE /api/v1/users/{id} - Delete a user (admin)
type UserHandler struct {
	server *Server
	logger *zap.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(s *Server) *UserHandler {
	return &UserHandler{
		server: s,
		logger: s.logger.Named("user-rest"),
	}
}

func (h *UserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/users")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	userID := strings.Split(path, "/")[0]

	switch r.Method {
	case http.MethodGet:
		user, err := h.server.authService.GetUser(r.Context(), userID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, user)

	case http.MethodPut:
		h.handleUpdate(w, r, userID)

	case http.MethodDelete:
		if err := middleware.RequirePermission(r.Context(), domain.PermissionUserDelete); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		if err := h.server.authService.DeleteUser(r.Context(), userID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (h *UserHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, total, err := h.server.authService.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
	})
}

func (h *UserHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionUserCreate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var body struct {
		Username string        `json:"username"`
		Email    string        `json:"email"`
		Password string        `json:"password"`
		Roles    []domain.Role `json:"roles"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	user, err := h.server.authService.CreateUser(r.Context(), body.Username, body.Email, body.Password, body.Roles)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, user)
}

func (h *UserHandler) handleUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionUserUpdate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	user, err := h.server.authService.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var body struct {
		Email   *string        `json:"email"`
		Roles   *[]domain.Role `json:"roles"`
		Enabled *bool          `json:"enabled"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	if body.Email != nil {
		user.Email = *body.Email
	}
	if body.Roles != nil {
		user.Roles = *body.Roles
	}
	if body.Enabled != nil {
		user.Enabled = *body.Enabled
	}

	updated, err := h.server.authService.UpdateUser(r.Context(), user)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, updated)
}

// AuditHandler provides read access to the audit log.
//
// Routes:
//   - GET /api/v1/audit?user_id=&resource_type=&limit= - List audit entries
type AuditHandler struct {
	server *Server
	logger *zap.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(s *Server) *AuditHandler {
	return &AuditHandler{
		server: s,
		logger: s.logger.Named("audit-rest"),
	}
}

func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	if err := middleware.RequirePermission(r.Context(), domain.PermissionSystemAudit); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.server.authService.ListAuditEntries(
		r.Context(),
		r.URL.Query().Get("user_id"),
		r.URL.Query().Get("resource_type"),
		limit,
	)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"entries": entries})
}
