package server

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/server/middleware"
	workitemservice "github.com/devgrid/devgrid/internal/services/workitem"
)

// WorkItemHandler provides REST endpoints for work item tracking.
//
// Routes:
//   - GET    /api/v1/workitems                   - List work items (criteria via query)
//   - POST   /api/v1/workitems                   - Create a work item
//   - GET    /api/v1/workitems/queries           - List saved queries
//   - POST   /api/v1/workitems/queries           - Save a query
//   - GET    /api/v1/workitems/queries/{name}    - Run a saved query
//   - GET    /api/v1/workitems/{id}              - Get a work item
//   - DELETE /api/v1/workitems/{id}              - Delete a work item
//   - POST   /api/v1/workitems/{id}/transition   - Transition state
//   - POST   /api/v1/workitems/{id}/assign       - Assign to a user
type WorkItemHandler struct {
	server *Server
	logger *zap.Logger
}

// NewWorkItemHandler creates a new work item handler.
func NewWorkItemHandler(s *Server) *WorkItemHandler {
	return &WorkItemHandler{
		server: s,
		logger: s.logger.Named("workitem-rest"),
	}
}

func (h *WorkItemHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/workitems")
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

	if parts[0] == "queries" {
		h.handleQueries(w, r, parts)
		return
	}

	itemID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			item, err := h.server.workItemService.Get(r.Context(), itemID)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, item)
		case http.MethodDelete:
			if err := h.server.workItemService.Delete(r.Context(), itemID); err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}

	switch parts[1] {
	case "transition":
		var body struct {
			State domain.WorkItemState `json:"state"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
		item, err := h.server.workItemService.Transition(r.Context(), itemID, body.State)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, item)

	case "assign":
		var body struct {
			UserID string `json:"user_id"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
		item, err := h.server.workItemService.Assign(r.Context(), itemID, body.UserID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, item)

	default:
		writeError(w, h.logger, http.StatusNotFound, "not_found", "Unknown work item action")
	}
}

func (h *WorkItemHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxPriority, _ := strconv.Atoi(q.Get("max_priority"))

	criteria := domain.WorkItemCriteria{
		Type:        domain.WorkItemType(q.Get("type")),
		State:       domain.WorkItemState(q.Get("state")),
		AssignedTo:  q.Get("assigned_to"),
		MaxPriority: maxPriority,
		Tag:         q.Get("tag"),
	}

	items, err := h.server.workItemService.List(r.Context(), criteria)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"work_items": items})
}

func (h *WorkItemHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionWorkItemCreate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		Title       string              `json:"title"`
		Type        domain.WorkItemType `json:"type"`
		Description string              `json:"description"`
		Priority    int                 `json:"priority"`
		AssignedTo  string              `json:"assigned_to"`
		Tags        []string            `json:"tags"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	item, err := h.server.workItemService.Create(r.Context(), &workitemservice.CreateRequest{
		Title:       body.Title,
		Type:        body.Type,
		Description: body.Description,
		Priority:    body.Priority,
		AssignedTo:  body.AssignedTo,
		Tags:        body.Tags,
		CreatedBy:   userID,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, item)
}

func (h *WorkItemHandler) handleQueries(w http.ResponseWriter, r *http.Request, parts []string) {
	// /api/v1/workitems/queries[/{name}]
	if len(parts) >= 2 && parts[1] != "" {
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
			return
		}
		items, err := h.server.workItemService.RunQuery(r.Context(), parts[1])
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"work_items": items})
		return
	}

	switch r.Method {
	case http.MethodGet:
		queries, err := h.server.workItemService.ListQueries(r.Context())
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"queries": queries})

	case http.MethodPost:
		userID, _ := middleware.GetUserID(r.Context())

		var body struct {
			Name     string                  `json:"name"`
			Criteria domain.WorkItemCriteria `json:"criteria"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}

		query, err := h.server.workItemService.SaveQuery(r.Context(), body.Name, body.Criteria, userID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusCreated, query)

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}
