package domain

import "time"

// =============================================================================
// RELEASE - Environments and deployment approval requests
// =============================================================================

// ApprovalType distinguishes pre- and post-deployment approvals.
type ApprovalType string

const (
	ApprovalPreDeployment  ApprovalType = "PRE_DEPLOYMENT"
	ApprovalPostDeployment ApprovalType = "POST_DEPLOYMENT"
)

// Environment is a deployment target with designated approvers.
type Environment struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Approvers   []Approver `json:"approvers,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Approver designates a user who must sign off on deployments to an environment.
type Approver struct {
	UserID string       `json:"user_id"`
	Type   ApprovalType `json:"type"`
}

// ApproversOfType returns the user IDs of approvers with the given type.
func (e *Environment) ApproversOfType(t ApprovalType) []string {
	var ids []string
	for _, a := range e.Approvers {
		if a.Type == t {
			ids = append(ids, a.UserID)
		}
	}
	return ids
}

// ApprovalStatus represents the state of an approval request.
// PENDING is the only non-terminal state. A request resolves only once
// every listed approver has responded: APPROVED iff all responses are
// approvals, REJECTED otherwise. There is no majority logic and no timeout.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalDecision is a single approver's response.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "APPROVED"
	DecisionRejected ApprovalDecision = "REJECTED"
)

// ApprovalResponse records one approver's decision on a request.
type ApprovalResponse struct {
	ApproverID  string           `json:"approver_id"`
	Decision    ApprovalDecision `json:"decision"`
	Comment     string           `json:"comment,omitempty"`
	RespondedAt time.Time        `json:"responded_at"`
}

// ApprovalRequest asks a fixed set of approvers to sign off on a deployment.
type ApprovalRequest struct {
	ID            string             `json:"id"`
	EnvironmentID string             `json:"environment_id"`
	DeploymentID  string             `json:"deployment_id"` // e.g. pipeline run ID
	Type          ApprovalType       `json:"type"`
	Approvers     []string           `json:"approvers"` // user IDs, fixed at creation
	Responses     []ApprovalResponse `json:"responses"`
	Status        ApprovalStatus     `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
}

// IsApprover returns true if the user is a listed approver on the request.
func (r *ApprovalRequest) IsApprover(userID string) bool {
	for _, a := range r.Approvers {
		if a == userID {
			return true
		}
	}
	return false
}

// ResponseOf returns the response of the given approver, if any.
func (r *ApprovalRequest) ResponseOf(userID string) (ApprovalResponse, bool) {
	for _, resp := range r.Responses {
		if resp.ApproverID == userID {
			return resp, true
		}
	}
	return ApprovalResponse{}, false
}

// AllResponded reports whether every listed approver has responded.
func (r *ApprovalRequest) AllResponded() bool {
	for _, a := range r.Approvers {
		if _, ok := r.ResponseOf(a); !ok {
			return false
		}
	}
	return true
}

// Resolve computes the terminal status once all approvers have responded.
// It must only be called when AllResponded is true.
func (r *ApprovalRequest) Resolve() ApprovalStatus {
	for _, resp := range r.Responses {
		if resp.Decision != DecisionApproved {
			return ApprovalRejected
		}
	}
	return ApprovalApproved
}
