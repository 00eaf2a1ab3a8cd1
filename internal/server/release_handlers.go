package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/server/middleware"
)

// ReleaseHandler provides REST endpoints for deployment environments and
// approval requests.
//
// Routes:
//   - GET    /api/v1/environments                          - List environments
//   - POST   /api/v1/environments                          - Create an environment
//   - GET    /api/v1/environments/{id}                     - Get an environment
//   - DELETE /api/v1/environments/{id}                     - Delete an environment
//   - POST   /api/v1/environments/{id}/approvers           - Add an approver
//   - DELETE /api/v1/environments/{id}/approvers/{userID}  - Remove an approver
//   - GET    /api/v1/approvals                             - List approval requests
//   - POST   /api/v1/approvals                             - Open an approval request
//   - GET    /api/v1/approvals/{id}                        - Get an approval request
//   - POST   /api/v1/approvals/{id}/respond                - Record a decision
type ReleaseHandler struct {
	server *Server
	logger *zap.Logger
}

// NewReleaseHandler creates a new release handler.
func NewReleaseHandler(s *Server) *ReleaseHandler {
	return &ReleaseHandler{
		server: s,
		logger: s.logger.Named("release-rest"),
	}
}

func (h *ReleaseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/v1/approvals") {
		h.handleApprovals(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/environments")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			environments, err := h.server.releaseService.ListEnvironments(r.Context())
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"environments": environments})

		case http.MethodPost:
			if err := middleware.RequirePermission(r.Context(), domain.PermissionReleaseManage); err != nil {
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
			env, err := h.server.releaseService.CreateEnvironment(r.Context(), body.Name, body.Description)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusCreated, env)

		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	envID := parts[0]

	// /api/v1/environments/{id}/approvers[/{userID}]
	if len(parts) >= 2 && parts[1] == "approvers" {
		if err := middleware.RequirePermission(r.Context(), domain.PermissionReleaseManage); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}

		switch {
		case r.Method == http.MethodPost:
			var body struct {
				UserID string              `json:"user_id"`
				Type   domain.ApprovalType `json:"type"`
			}
			if !decodeBody(w, r, h.logger, &body) {
				return
			}
			env, err := h.server.releaseService.AddApprover(r.Context(), envID, body.UserID, body.Type)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, env)

		case r.Method == http.MethodDelete && len(parts) >= 3:
			approvalType := domain.ApprovalType(r.URL.Query().Get("type"))
			if approvalType == "" {
				approvalType = domain.ApprovalPreDeployment
			}
			env, err := h.server.releaseService.RemoveApprover(r.Context(), envID, parts[2], approvalType)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, env)

		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		env, err := h.server.releaseService.GetEnvironment(r.Context(), envID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, env)

	case http.MethodDelete:
		if err := middleware.RequirePermission(r.Context(), domain.PermissionReleaseManage); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		if err := h.server.releaseService.DeleteEnvironment(r.Context(), envID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (h *ReleaseHandler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/approvals")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleListApprovals(w, r)
		case http.MethodPost:
			h.handleRequestApproval(w, r)
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	requestID := parts[0]

	if len(parts) >= 2 && parts[1] == "respond" {
		h.handleRespond(w, r, requestID)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	req, err := h.server.releaseService.GetRequest(r.Context(), requestID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, req)
}

func (h *ReleaseHandler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	// ?pending_for= lists requests awaiting a specific user
	if userID := r.URL.Query().Get("pending_for"); userID != "" {
		requests, err := h.server.releaseService.ListPendingFor(r.Context(), userID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"requests": requests})
		return
	}

	requests, err := h.server.releaseService.ListRequests(
		r.Context(),
		r.URL.Query().Get("environment_id"),
		domain.ApprovalStatus(r.URL.Query().Get("status")),
	)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (h *ReleaseHandler) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionReleaseManage); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var body struct {
		EnvironmentID string              `json:"environment_id"`
		DeploymentID  string              `json:"deployment_id"`
		Type          domain.ApprovalType `json:"type"`
		Approvers     []string            `json:"approvers"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}
	if body.Type == "" {
		body.Type = domain.ApprovalPreDeployment
	}

	req, err := h.server.releaseService.RequestApproval(
		r.Context(), body.EnvironmentID, body.DeploymentID, body.Type, body.Approvers,
	)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, req)
}

func (h *ReleaseHandler) handleRespond(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if err := middleware.RequirePermission(r.Context(), domain.PermissionReleaseApprove); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		Decision domain.ApprovalDecision `json:"decision"`
		Comment  string                  `json:"comment"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	req, err := h.server.releaseService.Respond(r.Context(), requestID, userID, body.Decision, body.Comment)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, req)
}
