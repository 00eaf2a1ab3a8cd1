package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/server/middleware"
)

// PipelineHandler provides REST endpoints for pipelines and runs.
//
// Routes:
//   - GET    /api/v1/pipelines               - List pipelines
//   - POST   /api/v1/pipelines               - Create a pipeline from YAML
//   - POST   /api/v1/pipelines/trigger       - Evaluate CI triggers for a push
//   - GET    /api/v1/pipelines/{id}          - Get a pipeline
//   - DELETE /api/v1/pipelines/{id}          - Delete a pipeline
//   - POST   /api/v1/pipelines/{id}/gates    - Add a gate
//   - GET    /api/v1/pipelines/{id}/runs     - List runs
//   - POST   /api/v1/pipelines/{id}/runs     - Start a run
//   - GET    /api/v1/runs/{id}               - Get a run
//   - POST   /api/v1/runs/{id}/complete      - Mark a running run finished
type PipelineHandler struct {
	server *Server
	logger *zap.Logger
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(s *Server) *PipelineHandler {
	return &PipelineHandler{
		server: s,
		logger: s.logger.Named("pipeline-rest"),
	}
}

func (h *PipelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/v1/runs/") {
		h.handleRuns(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/pipelines")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			pipelines, err := h.server.pipelineService.List(r.Context())
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"pipelines": pipelines})
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")

	if parts[0] == "trigger" {
		h.handlePushTrigger(w, r)
		return
	}

	pipelineID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			pipeline, err := h.server.pipelineService.Get(r.Context(), pipelineID)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, pipeline)
		case http.MethodDelete:
			if err := h.server.pipelineService.Delete(r.Context(), pipelineID); err != nil {
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
	case "gates":
		h.handleAddGate(w, r, pipelineID)
	case "runs":
		h.handlePipelineRuns(w, r, pipelineID)
	default:
		writeError(w, h.logger, http.StatusNotFound, "not_found", "Unknown pipeline action")
	}
}

func (h *PipelineHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionPipelineCreate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		YAML string `json:"yaml"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	pipeline, err := h.server.pipelineService.Create(r.Context(), body.YAML, userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, pipeline)
}

func (h *PipelineHandler) handleAddGate(w http.ResponseWriter, r *http.Request, pipelineID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if err := middleware.RequirePermission(r.Context(), domain.PermissionPipelineGates); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var gate domain.Gate
	if !decodeBody(w, r, h.logger, &gate) {
		return
	}

	pipeline, err := h.server.pipelineService.AddGate(r.Context(), pipelineID, gate)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, pipeline)
}

func (h *PipelineHandler) handlePipelineRuns(w http.ResponseWriter, r *http.Request, pipelineID string) {
	switch r.Method {
	case http.MethodGet:
		runs, err := h.server.pipelineService.ListRuns(r.Context(), pipelineID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"runs": runs})

	case http.MethodPost:
		if err := middleware.RequirePermission(r.Context(), domain.PermissionPipelineRun); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}

		userID, _ := middleware.GetUserID(r.Context())

		var body struct {
			Branch string `json:"branch"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}

		run, err := h.server.pipelineService.StartRun(r.Context(), pipelineID, body.Branch, userID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusCreated, run)

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (h *PipelineHandler) handlePushTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}

	var body struct {
		Branch       string   `json:"branch"`
		ChangedPaths []string `json:"changed_paths"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	runs, err := h.server.pipelineService.EvaluatePushTrigger(r.Context(), body.Branch, body.ChangedPaths)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *PipelineHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	// Parse path: /api/v1/runs/{id}[/complete]
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")

	runID := parts[0]
	if runID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_run_id", "Run ID is required")
		return
	}

	if len(parts) >= 2 && parts[1] == "complete" {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
			return
		}

		var body struct {
			Succeeded bool `json:"succeeded"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}

		run, err := h.server.pipelineService.CompleteRun(r.Context(), runID, body.Succeeded)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, run)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	run, err := h.server.pipelineService.GetRun(r.Context(), runID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, run)
}

// VariableHandler provides REST endpoints for pipeline variables and
// variable groups.
//
// Routes:
//   - GET    /api/v1/variables?scope=                 - List variables in a scope
//   - PUT    /api/v1/variables                        - Set a variable
//   - GET    /api/v1/variables/{scope}/{name}         - Get a variable (secrets masked)
//   - GET    /api/v1/variables/{scope}/{name}/reveal  - Get a variable unmasked (admin)
//   - DELETE /api/v1/variables/{scope}/{name}         - Delete a variable
//   - GET    /api/v1/variables/resolve?scope=         - Resolve effective variables
//   - GET    /api/v1/variable-groups                  - List variable groups
//   - POST   /api/v1/variable-groups                  - Create a variable group
//   - POST   /api/v1/variable-groups/{id}/link        - Link a group to a scope
//   - DELETE /api/v1/variable-groups/{id}             - Delete a variable group
type VariableHandler struct {
	server *Server
	logger *zap.Logger
}

// NewVariableHandler creates a new variable handler.
func NewVariableHandler(s *Server) *VariableHandler {
	return &VariableHandler{
		server: s,
		logger: s.logger.Named("variable-rest"),
	}
}

func (h *VariableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/v1/variable-groups") {
		h.handleGroups(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/variables")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			variables, err := h.server.variableService.List(r.Context(), r.URL.Query().Get("scope"))
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"variables": variables})

		case http.MethodPut:
			var body struct {
				Scope  string `json:"scope"`
				Name   string `json:"name"`
				Value  string `json:"value"`
				Secret bool   `json:"secret"`
			}
			if !decodeBody(w, r, h.logger, &body) {
				return
			}
			variable, err := h.server.variableService.Set(r.Context(), body.Scope, body.Name, body.Value, body.Secret)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, variable)

		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")

	if parts[0] == "resolve" {
		resolved, err := h.server.variableService.ResolveScope(r.Context(), r.URL.Query().Get("scope"))
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"variables": resolved})
		return
	}

	if len(parts) < 2 {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_path", "Expected /api/v1/variables/{scope}/{name}")
		return
	}
	scope, name := parts[0], parts[1]

	if len(parts) >= 3 && parts[2] == "reveal" {
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
			return
		}
		if err := middleware.RequirePermission(r.Context(), domain.PermissionSystemConfig); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		variable, err := h.server.variableService.Reveal(r.Context(), scope, name)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, variable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		variable, err := h.server.variableService.Get(r.Context(), scope, name)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, variable)

	case http.MethodDelete:
		if err := h.server.variableService.Delete(r.Context(), scope, name); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (h *VariableHandler) handleGroups(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/variable-groups")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			groups, err := h.server.variableService.ListGroups(r.Context())
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"groups": groups})

		case http.MethodPost:
			var body struct {
				Name        string            `json:"name"`
				Description string            `json:"description"`
				Variables   map[string]string `json:"variables"`
			}
			if !decodeBody(w, r, h.logger, &body) {
				return
			}
			group, err := h.server.variableService.CreateGroup(r.Context(), body.Name, body.Description, body.Variables)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusCreated, group)

		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	groupID := parts[0]

	if len(parts) >= 2 && parts[1] == "link" {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
			return
		}
		var body struct {
			Scope string `json:"scope"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
		group, err := h.server.variableService.LinkGroup(r.Context(), groupID, body.Scope)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, group)
		return
	}

	if r.Method == http.MethodDelete {
		if err := h.server.variableService.DeleteGroup(r.Context(), groupID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
		return
	}

	writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}

// AgentHandler provides REST endpoints for agent pools and build agents.
//
// Routes:
//   - GET    /api/v1/pools                   - List agent pools
//   - POST   /api/v1/pools                   - Create a pool
//   - GET    /api/v1/pools/{id}              - Get a pool
//   - DELETE /api/v1/pools/{id}              - Delete a pool
//   - GET    /api/v1/pools/{id}/agents       - List agents in a pool
//   - POST   /api/v1/pools/{id}/agents       - Register an agent
//   - POST   /api/v1/pools/{id}/demand       - Pick an agent matching capabilities
//   - GET    /api/v1/agents/registry         - List the shared agent registry
//   - POST   /api/v1/agents/{id}/heartbeat   - Record an agent heartbeat
//   - DELETE /api/v1/agents/{id}             - Unregister an agent
type AgentHandler struct {
	server *Server
	logger *zap.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(s *Server) *AgentHandler {
	return &AgentHandler{
		server: s,
		logger: s.logger.Named("agent-rest"),
	}
}

func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/v1/agents/") {
		h.handleAgents(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/pools")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			pools, err := h.server.agentService.ListPools(r.Context())
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"pools": pools})

		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if !decodeBody(w, r, h.logger, &body) {
				return
			}
			pool, err := h.server.agentService.CreatePool(r.Context(), body.Name, body.Description)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusCreated, pool)

		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	poolID := parts[0]

	if len(parts) >= 2 && parts[1] == "agents" {
		switch r.Method {
		case http.MethodGet:
			agents, err := h.server.agentService.ListAgents(r.Context(), poolID)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"agents": agents})

		case http.MethodPost:
			var body struct {
				Name         string   `json:"name"`
				OS           string   `json:"os"`
				Capabilities []string `json:"capabilities"`
			}
			if !decodeBody(w, r, h.logger, &body) {
				return
			}
			agent, err := h.server.agentService.Register(r.Context(), poolID, body.Name, body.OS, body.Capabilities)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusCreated, agent)

		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if len(parts) >= 2 && parts[1] == "demand" {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
			return
		}
		var body struct {
			Capabilities []string `json:"capabilities"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
		agent, err := h.server.agentService.PickAgent(r.Context(), poolID, body.Capabilities)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, agent)
		return
	}

	switch r.Method {
	case http.MethodGet:
		pool, err := h.server.agentService.GetPool(r.Context(), poolID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, pool)

	case http.MethodDelete:
		if err := h.server.agentService.DeletePool(r.Context(), poolID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (h *AgentHandler) handleAgents(w http.ResponseWriter, r *http.Request) {
	// Parse path: /api/v1/agents/{id}[/heartbeat]
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	parts := strings.Split(path, "/")

	agentID := parts[0]
	if agentID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_agent_id", "Agent ID is required")
		return
	}

	if agentID == "registry" {
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
			return
		}
		states, err := h.server.agentService.RegistryAgents(r.Context())
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"agents": states})
		return
	}

	if len(parts) >= 2 && parts[1] == "heartbeat" {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
			return
		}
		var body struct {
			Busy bool `json:"busy"`
		}
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
		if err := h.server.agentService.Heartbeat(r.Context(), agentID, body.Busy); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
		return
	}

	if r.Method == http.MethodDelete {
		if err := h.server.agentService.Unregister(r.Context(), agentID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
		return
	}

	writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}

// ConnectionHandler provides REST endpoints for service connections.
//
// Routes:
//   - GET    /api/v1/connections              - List service connections
//   - POST   /api/v1/connections              - Create a connection
//   - GET    /api/v1/connections/{id}         - Get a connection
//   - POST   /api/v1/connections/{id}/verify  - Verify a connection's config
//   - DELETE /api/v1/connections/{id}         - Delete a connection
type ConnectionHandler struct {
	server *Server
	logger *zap.Logger
}

// NewConnectionHandler creates a new connection handler.
func NewConnectionHandler(s *Server) *ConnectionHandler {
	return &ConnectionHandler{
		server: s,
		logger: s.logger.Named("connection-rest"),
	}
}

func (h *ConnectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/connections")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			connections, err := h.server.connectionService.List(r.Context())
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"connections": connections})

		case http.MethodPost:
			h.handleCreate(w, r)

		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	connectionID := parts[0]

	if len(parts) >= 2 && parts[1] == "verify" {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
			return
		}
		conn, err := h.server.connectionService.Verify(r.Context(), connectionID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, conn)
		return
	}

	switch r.Method {
	case http.MethodGet:
		conn, err := h.server.connectionService.Get(r.Context(), connectionID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, conn)

	case http.MethodDelete:
		if err := middleware.RequirePermission(r.Context(), domain.PermissionPipelineCreate); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		if err := h.server.connectionService.Delete(r.Context(), connectionID); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (h *ConnectionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := middleware.RequirePermission(r.Context(), domain.PermissionPipelineCreate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		Name   string            `json:"name"`
		Type   string            `json:"type"`
		Config map[string]string `json:"config"`
	}
	if !decodeBody(w, r, h.logger, &body) {
		return
	}

	conn, err := h.server.connectionService.Create(r.Context(), body.Name, body.Type, body.Config, userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, conn)
}
