package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/server/middleware"
	prservice "github.com/devgrid/devgrid/internal/services/pullrequest"
)

// PullRequestHandler provides REST endpoints for pull requests.
//
// Routes:
//   - GET    /api/v1/pullrequests                     - List pull requests
//   - POST   /api/v1/pullrequests                     - Open a pull request
//   - GET    /api/v1/pullrequests/{id}                - Get a pull request
//   - POST   /api/v1/pullrequests/{id}/reviewers      - Add a reviewer
//   - POST   /api/v1/pullrequests/{id}/approve        - Approve
//   - POST   /api/v1/pullrequests/{id}/revoke         - Revoke approval
//   - POST   /api/v1/pullrequests/{id}/complete       - Complete (merge)
//   - POST   /api/v1/pullrequests/{id}/abandon        - Abandon
//   - POST   /api/v1/pullrequests/{id}/workitems      - Link a work item
type PullRequestHandler struct {
	server *Server
	logger *zap.Logger
}

// NewPullRequestHandler creates a new pull request handler.
func NewPullRequestHandler(s *Server) *PullRequestHandler {
	return &PullRequestHandler{
		server: s,
		logger: s.logger.Named("pr-rest"),
	}
}

func (h *PullRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/pullrequests")
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
	prID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
			return
		}
		pr, err := h.server.prService.Get(r.Context(), prID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, pr)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}

	userID, _ := middleware.GetUserID(r.Context())
	action := parts[1]

	h.logger.Info("Pull request action",
		zap.String("pr_id", prID),
		zap.String("action", action),
		zap.String("user_id", userID),
	)

	var pr *domain.PullRequest
	var err error

	switch action {
	case "reviewers":
		var body struct {
			ReviewerID string `json:"reviewer_id"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
		pr, err = h.server.prService.AddReviewer(r.Context(), prID, body.ReviewerID)

	case "approve":
		if permErr := middleware.RequirePermission(r.Context(), domain.PermissionPRApprove); permErr != nil {
			writeServiceError(w, h.logger, permErr)
			return
		}
		pr, err = h.server.prService.Approve(r.Context(), prID, userID)

	case "revoke":
		pr, err = h.server.prService.RevokeApproval(r.Context(), prID, userID)

	case "complete":
		if permErr := middleware.RequirePermission(r.Context(), domain.PermissionPRComplete); permErr != nil {
			writeServiceError(w, h.logger, permErr)
			return
		}
		pr, err = h.server.prService.Complete(r.Context(), prID, userID)

	case "abandon":
		if permErr := middleware.RequirePermission(r.Context(), domain.PermissionPRAbandon); permErr != nil {
			writeServiceError(w, h.logger, permErr)
			return
		}
		pr, err = h.server.prService.Abandon(r.Context(), prID, userID)

	case "workitems":
		var body struct {
			WorkItemID string `json:"work_item_id"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
		pr, err = h.server.prService.LinkWorkItem(r.Context(), prID, body.WorkItemID)

	default:
		writeError(w, h.logger, http.StatusNotFound, "not_found", "Unknown pull request action")
		return
	}

	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, pr)
}

func (h *PullRequestHandler) handleList(w http.ResponseWriter, r *http.Request) {
	status := domain.PullRequestStatus(r.URL.Query().Get("status"))
	target := r.URL.Query().Get("target_branch")

	prs, err := h.server.prService.List(r.Context(), status, target)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"pull_requests": prs})
}

func (h *PullRequestHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionPRCreate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		SourceBranch string   `json:"source_branch"`
		TargetBranch string   `json:"target_branch"`
		Reviewers    []string `json:"reviewers"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	pr, err := h.server.prService.Create(r.Context(), &prservice.CreateRequest{
		Title:        body.Title,
		Description:  body.Description,
		SourceBranch: body.SourceBranch,
		TargetBranch: body.TargetBranch,
		AuthorID:     userID,
		Reviewers:    body.Reviewers,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, pr)
}
