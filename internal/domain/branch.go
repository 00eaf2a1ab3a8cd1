package domain

import "time"

// =============================================================================
// BRANCH - Branches, policies, and security
// =============================================================================

// PermissionDecision represents an explicit grant or denial on a branch.
type PermissionDecision string

const (
	DecisionAllow   PermissionDecision = "ALLOW"
	DecisionDeny    PermissionDecision = "DENY"
	DecisionInherit PermissionDecision = "INHERIT"
)

// BranchAction is an action governed by branch security.
type BranchAction string

const (
	BranchActionRead         BranchAction = "read"
	BranchActionContribute   BranchAction = "contribute"
	BranchActionForcePush    BranchAction = "force_push"
	BranchActionCreateBranch BranchAction = "create_branch"
	BranchActionCreateTag    BranchAction = "create_tag"
	BranchActionPolicyExempt BranchAction = "policy_exempt"
)

// BranchPolicy defines merge requirements for a branch.
type BranchPolicy struct {
	RequirePullRequest     bool     `json:"require_pull_request"`
	RequireCodeReview      bool     `json:"require_code_review"`
	MinimumReviewers       int      `json:"minimum_reviewers"`
	DefaultReviewers       []string `json:"default_reviewers,omitempty"` // user IDs auto-assigned to new PRs
	RequireBuildValidation bool     `json:"require_build_validation"`
	RequireUpToDateBranch  bool     `json:"require_up_to_date_branch"`
	AutoCompleteEnabled    bool     `json:"auto_complete_enabled"`
	DeleteSourceBranch     bool     `json:"delete_source_branch"`
}

// BranchSecurity holds per-user and per-group permission maps for a branch.
type BranchSecurity struct {
	UserPermissions  map[string]map[BranchAction]PermissionDecision `json:"user_permissions"`
	GroupPermissions map[string]map[BranchAction]PermissionDecision `json:"group_permissions"`
	IsLocked         bool                                           `json:"is_locked"`
	LockReason       string                                         `json:"lock_reason,omitempty"`
	LockedBy         string                                         `json:"locked_by,omitempty"`
	LockedAt         *time.Time                                     `json:"locked_at,omitempty"`
	PathFilters      []string                                       `json:"path_filters,omitempty"`
}

// NewBranchSecurity returns an empty security record.
func NewBranchSecurity() *BranchSecurity {
	return &BranchSecurity{
		UserPermissions:  make(map[string]map[BranchAction]PermissionDecision),
		GroupPermissions: make(map[string]map[BranchAction]PermissionDecision),
	}
}

// UserDecision returns the explicit decision for a user, or INHERIT.
func (s *BranchSecurity) UserDecision(userID string, action BranchAction) PermissionDecision {
	if perms, ok := s.UserPermissions[userID]; ok {
		if d, ok := perms[action]; ok {
			return d
		}
	}
	return DecisionInherit
}

// GroupDecision returns the explicit decision for a group, or INHERIT.
func (s *BranchSecurity) GroupDecision(groupID string, action BranchAction) PermissionDecision {
	if perms, ok := s.GroupPermissions[groupID]; ok {
		if d, ok := perms[action]; ok {
			return d
		}
	}
	return DecisionInherit
}

// Branch represents a repository branch tracked by the control plane.
type Branch struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	IsDefault bool            `json:"is_default"`
	Protected bool            `json:"protected"`
	Policy    *BranchPolicy   `json:"policy,omitempty"`
	Security  *BranchSecurity `json:"security,omitempty"`
	Commits   []string        `json:"commits,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Locked reports whether the branch is currently locked.
func (b *Branch) Locked() bool {
	return b.Security != nil && b.Security.IsLocked
}
