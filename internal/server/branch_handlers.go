package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/server/middleware"
)

// BranchHandler provides REST endpoints for branch management.
//
// Routes:
//   - GET    /api/v1/branches                    - List branches
//   - POST   /api/v1/branches                    - Create a branch
//   - GET    /api/v1/branches/{id}               - Get a branch
//   - DELETE /api/v1/branches/{id}               - Delete a branch
//   - PUT    /api/v1/branches/{id}/policy        - Set branch policy
//   - PUT    /api/v1/branches/{id}/permissions   - Set a user or group permission
//   - GET    /api/v1/branches/{id}/permissions   - Evaluate effective permission
//   - POST   /api/v1/branches/{id}/lock          - Lock the branch
//   - POST   /api/v1/branches/{id}/unlock        - Unlock the branch
//   - PUT    /api/v1/branches/{id}/path-filters  - Set path filters
type BranchHandler struct {
	server *Server
	logger *zap.Logger
}

// NewBranchHandler creates a new branch handler.
func NewBranchHandler(s *Server) *BranchHandler {
	return &BranchHandler{
		server: s,
		logger: s.logger.Named("branch-rest"),
	}
}

func (h *BranchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/branches")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			branches, err := h.server.branchService.List(r.Context())
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"branches": branches})
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	branchID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			branch, err := h.server.branchService.Get(r.Context(), branchID)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, branch)
		case http.MethodDelete:
			if err := middleware.RequirePermission(r.Context(), domain.PermissionBranchDelete); err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			if err := h.server.branchService.Delete(r.Context(), branchID); err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	switch parts[1] {
	case "policy":
		h.handleSetPolicy(w, r, branchID)
	case "permissions":
		if r.Method == http.MethodGet {
			h.handleEffectivePermission(w, r, branchID)
		} else {
			h.handleSetPermission(w, r, branchID)
		}
	case "lock":
		h.handleLock(w, r, branchID)
	case "unlock":
		h.handleUnlock(w, r, branchID)
	case "path-filters":
		h.handleSetPathFilters(w, r, branchID)
	default:
		writeError(w, h.logger, http.StatusNotFound, "not_found", "Unknown branch action")
	}
}

func (h *BranchHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionBranchCreate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		Name      string `json:"name"`
		IsDefault bool   `json:"is_default"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	branch, err := h.server.branchService.Create(r.Context(), body.Name, userID, body.IsDefault)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, branch)
}

func (h *BranchHandler) handleSetPolicy(w http.ResponseWriter, r *http.Request, branchID string) {
	if r.Method != http.MethodPut {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only PUT is allowed")
		return
	}
	if err := middleware.RequirePermission(r.Context(), domain.PermissionBranchPolicy); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var policy domain.BranchPolicy
	if !decodeBody(w, r, h.logger, &policy) {
		return
	}

	branch, err := h.server.branchService.SetPolicy(r.Context(), branchID, policy)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, branch)
}

func (h *BranchHandler) handleSetPermission(w http.ResponseWriter, r *http.Request, branchID string) {
	if r.Method != http.MethodPut {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only PUT is allowed")
		return
	}
	if err := middleware.RequirePermission(r.Context(), domain.PermissionBranchPolicy); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var body struct {
		UserID   string                    `json:"user_id,omitempty"`
		GroupID  string                    `json:"group_id,omitempty"`
		Action   domain.BranchAction       `json:"action"`
		Decision domain.PermissionDecision `json:"decision"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	var branch *domain.Branch
	var err error
	switch {
	case body.UserID != "":
		branch, err = h.server.branchService.SetUserPermission(r.Context(), branchID, body.UserID, body.Action, body.Decision)
	case body.GroupID != "":
		branch, err = h.server.branchService.SetGroupPermission(r.Context(), branchID, body.GroupID, body.Action, body.Decision)
	default:
		writeError(w, h.logger, http.StatusBadRequest, "invalid_argument", "Either user_id or group_id is required")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, branch)
}

func (h *BranchHandler) handleEffectivePermission(w http.ResponseWriter, r *http.Request, branchID string) {
	userID := r.URL.Query().Get("user_id")
	action := domain.BranchAction(r.URL.Query().Get("action"))
	if userID == "" || action == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_argument", "user_id and action query parameters are required")
		return
	}

	user, err := h.server.authService.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	allowed, err := h.server.branchService.EffectivePermission(r.Context(), branchID, user, action)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"action":  action,
		"allowed": allowed,
	})
}

func (h *BranchHandler) handleLock(w http.ResponseWriter, r *http.Request, branchID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if err := middleware.RequirePermission(r.Context(), domain.PermissionBranchLock); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	branch, err := h.server.branchService.Lock(r.Context(), branchID, userID, body.Reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, branch)
}

func (h *BranchHandler) handleUnlock(w http.ResponseWriter, r *http.Request, branchID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if err := middleware.RequirePermission(r.Context(), domain.PermissionBranchLock); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	branch, err := h.server.branchService.Unlock(r.Context(), branchID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, branch)
}

func (h *BranchHandler) handleSetPathFilters(w http.ResponseWriter, r *http.Request, branchID string) {
	if r.Method != http.MethodPut {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only PUT is allowed")
		return
	}
	if err := middleware.RequirePermission(r.Context(), domain.PermissionBranchPolicy); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var body struct {
		Filters []string `json:"filters"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	branch, err := h.server.branchService.SetPathFilters(r.Context(), branchID, body.Filters)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, branch)
}
