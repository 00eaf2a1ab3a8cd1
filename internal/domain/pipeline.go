package domain

import "time"

// =============================================================================
// PIPELINE - Build pipelines, triggers, gates, runs
// =============================================================================

// PipelineStatus represents the last known status of a pipeline.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "PENDING"
	PipelineRunning   PipelineStatus = "RUNNING"
	PipelineSucceeded PipelineStatus = "SUCCEEDED"
	PipelineFailed    PipelineStatus = "FAILED"
	PipelineCanceled  PipelineStatus = "CANCELED"
)

// BuildTrigger configures when a pipeline runs automatically.
type BuildTrigger struct {
	BranchFilters         []string `json:"branch_filters,omitempty"` // glob patterns, e.g. feature/*
	PathFilters           []string `json:"path_filters,omitempty"`
	ContinuousIntegration bool     `json:"continuous_integration"`
	PullRequestTrigger    bool     `json:"pull_request_trigger"`
	ScheduledTriggers     []string `json:"scheduled_triggers,omitempty"` // cron expressions
}

// Gate is a pre-deployment check on a pipeline. Approval gates suspend a
// run until a release approval request resolves.
type Gate struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Condition        string        `json:"condition"`
	Timeout          time.Duration `json:"timeout"`
	Enabled          bool          `json:"enabled"`
	ApprovalRequired bool          `json:"approval_required"`
	Approvers        []string      `json:"approvers,omitempty"` // user IDs
	EnvironmentID    string        `json:"environment_id,omitempty"`
}

// Pipeline represents a build pipeline definition.
type Pipeline struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	YAML        string         `json:"yaml"`
	Triggers    BuildTrigger   `json:"triggers"`
	Gates       []Gate         `json:"gates,omitempty"`
	Status      PipelineStatus `json:"status"`
	AgentPoolID string         `json:"agent_pool_id,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
}

// RunStatus represents the state of a single pipeline run.
type RunStatus string

const (
	RunPending         RunStatus = "PENDING"
	RunRunning         RunStatus = "RUNNING"
	RunPendingApproval RunStatus = "PENDING_APPROVAL"
	RunSucceeded       RunStatus = "SUCCEEDED"
	RunFailed          RunStatus = "FAILED"
	RunCanceled        RunStatus = "CANCELED"
)

// GateResult records the evaluation of one gate during a run.
type GateResult struct {
	GateID    string    `json:"gate_id"`
	GateName  string    `json:"gate_name"`
	Passed    bool      `json:"passed"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// PipelineRun is one execution of a pipeline.
type PipelineRun struct {
	ID                string       `json:"id"`
	PipelineID        string       `json:"pipeline_id"`
	Branch            string       `json:"branch"`
	Status            RunStatus    `json:"status"`
	GateResults       []GateResult `json:"gate_results,omitempty"`
	ApprovalRequestID string       `json:"approval_request_id,omitempty"`
	TriggeredBy       string       `json:"triggered_by"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        *time.Time   `json:"finished_at,omitempty"`
}

// =============================================================================
// VARIABLES - Scoped pipeline variables
// =============================================================================

// Variable is a scoped pipeline variable. Secret values are masked on read.
type Variable struct {
	Scope     string    `json:"scope"` // pipeline ID or environment name
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	IsSecret  bool      `json:"is_secret"`
	CreatedAt time.Time `json:"created_at"`
}

// VariableGroup is a named set of variables shared across scopes.
type VariableGroup struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Variables   map[string]string `json:"variables"`
	Scopes      []string          `json:"scopes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// =============================================================================
// SERVICE CONNECTIONS - Credentials to external systems
// =============================================================================

// ConnectionStatus represents the verification state of a service connection.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "ACTIVE"
	ConnectionFailed   ConnectionStatus = "FAILED"
	ConnectionDisabled ConnectionStatus = "DISABLED"
)

// ServiceConnection is a named credential to an external system (container
// registry, cluster, artifact feed) that pipelines deploy through.
type ServiceConnection struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"` // e.g. "docker-registry", "kubernetes"
	Config         map[string]string `json:"config,omitempty"`
	Status         ConnectionStatus  `json:"status"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	LastVerifiedAt *time.Time        `json:"last_verified_at,omitempty"`
}

// =============================================================================
// AGENTS - Self-hosted build agents
// =============================================================================

// AgentStatus represents the availability of a build agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "ONLINE"
	AgentOffline AgentStatus = "OFFLINE"
	AgentBusy    AgentStatus = "BUSY"
)

// AgentPool is a named pool of self-hosted build agents.
type AgentPool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Agent is a self-hosted build agent registered in a pool.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	PoolID       string      `json:"pool_id"`
	OS           string      `json:"os"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Status       AgentStatus `json:"status"`
	RegisteredAt time.Time   `json:"registered_at"`
	LastSeen     time.Time   `json:"last_seen"`
}
