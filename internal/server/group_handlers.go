package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/server/middleware"
)

// GroupHandler provides REST endpoints for group management.
//
// Routes:
//   - GET    /api/v1/groups                        - List groups
//   - POST   /api/v1/groups                        - Create a group
//   - GET    /api/v1/groups/{id}                   - Get a group
//   - DELETE /api/v1/groups/{id}                   - Delete a group
//   - POST   /api/v1/groups/{id}/members           - Add a member
//   - DELETE /api/v1/groups/{id}/members/{userID}  - Remove a member
type GroupHandler struct {
	server *Server
	logger *zap.Logger
}

// NewGroupHandler creates a new group handler.
func NewGroupHandler(s *Server) *GroupHandler {
	return &GroupHandler{
		server: s,
		logger: s.logger.Named("group-rest"),
	}
}

func (h *GroupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/groups")
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

	parts := strings.Split(path, "/")
	groupID := parts[0]

	// /api/v1/groups/{id}/members[/{userID}]
	if len(parts) >= 2 && parts[1] == "members" {
		switch {
		case r.Method == http.MethodPost:
			h.handleAddMember(w, r, groupID)
		case r.Method == http.MethodDelete && len(parts) >= 3:
			h.handleRemoveMember(w, r, groupID, parts[2])
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		group, err := h.server.identityService.GetGroup(r.Context(), groupID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, group)

	case http.MethodDelete:
		if err := middleware.RequirePermission(r.Context(), domain.PermissionGroupManage); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		if err := h.server.identityService.DeleteGroup(r.Context(), groupID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (h *GroupHandler) handleList(w http.ResponseWriter, r *http.Request) {
	// ?member= filters to groups a user belongs to
	if member := r.URL.Query().Get("member"); member != "" {
		groups, err := h.server.identityService.ListGroupsForUser(r.Context(), member)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"groups": groups})
		return
	}

	groups, err := h.server.identityService.ListGroups(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"groups": groups})
}

func (h *GroupHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionGroupManage); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	group, err := h.server.identityService.CreateGroup(r.Context(), body.Name, body.Description)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, group)
}

func (h *GroupHandler) handleAddMember(w http.ResponseWriter, r *http.Request, groupID string) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionGroupManage); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var body struct {
		UserID string `json:"user_id"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	group, err := h.server.identityService.AddMember(r.Context(), groupID, body.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, group)
}

func (h *GroupHandler) handleRemoveMember(w http.ResponseWriter, r *http.Request, groupID, userID string) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionGroupManage); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	group, err := h.server.identityService.RemoveMember(r.Context(), groupID, userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, group)
}
