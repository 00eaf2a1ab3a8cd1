// Package domain contains core business entities for the DevGrid platform.
// This file defines user and authentication-related domain models.
package domain

import (
	"time"
)

// =============================================================================
// USER - User account management
// =============================================================================

// Role represents a user's role in the system.
type Role string

const (
	RoleAdmin       Role = "admin"       // Full project administration
	RoleContributor Role = "contributor" // Can create branches, PRs, work items
	RoleReader      Role = "reader"      // Read-only access
	RoleBuildAdmin  Role = "build_admin" // Can manage pipelines and agent pools
)

// User represents a user account in the system.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"` // Never expose password hash
	Roles        []Role     `json:"roles"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// HasRole returns true if the user holds the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin returns true if the user has the project admin role.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// CanContribute returns true if the user can create branches and pull requests.
func (u *User) CanContribute() bool {
	return u.HasRole(RoleAdmin) || u.HasRole(RoleContributor)
}

// CanView returns true if the user can view resources.
func (u *User) CanView() bool {
	return u.Enabled // All enabled users can view
}

// =============================================================================
// PERMISSIONS - Role-based access control
// =============================================================================

// Permission represents a specific action on a resource type.
type Permission string

const (
	// Branch permissions
	PermissionBranchCreate Permission = "branch:create"
	PermissionBranchRead   Permission = "branch:read"
	PermissionBranchPolicy Permission = "branch:policy"
	PermissionBranchLock   Permission = "branch:lock"
	PermissionBranchDelete Permission = "branch:delete"

	// Pull request permissions
	PermissionPRCreate   Permission = "pr:create"
	PermissionPRRead     Permission = "pr:read"
	PermissionPRApprove  Permission = "pr:approve"
	PermissionPRComplete Permission = "pr:complete"
	PermissionPRAbandon  Permission = "pr:abandon"

	// Work item permissions
	PermissionWorkItemCreate Permission = "workitem:create"
	PermissionWorkItemRead   Permission = "workitem:read"
	PermissionWorkItemUpdate Permission = "workitem:update"

	// Pipeline permissions
	PermissionPipelineCreate Permission = "pipeline:create"
	PermissionPipelineRead   Permission = "pipeline:read"
	PermissionPipelineRun    Permission = "pipeline:run"
	PermissionPipelineGates  Permission = "pipeline:gates"

	// Release permissions
	PermissionReleaseRead    Permission = "release:read"
	PermissionReleaseApprove Permission = "release:approve"
	PermissionReleaseManage  Permission = "release:manage"

	// User and group permissions
	PermissionUserCreate  Permission = "user:create"
	PermissionUserRead    Permission = "user:read"
	PermissionUserUpdate  Permission = "user:update"
	PermissionUserDelete  Permission = "user:delete"
	PermissionGroupManage Permission = "group:manage"

	// System permissions
	PermissionSystemConfig Permission = "system:config"
	PermissionSystemAudit  Permission = "system:audit"
)

// RolePermissions defines which permissions each role has.
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionBranchCreate, PermissionBranchRead, PermissionBranchPolicy,
		PermissionBranchLock, PermissionBranchDelete,
		PermissionPRCreate, PermissionPRRead, PermissionPRApprove,
		PermissionPRComplete, PermissionPRAbandon,
		PermissionWorkItemCreate, PermissionWorkItemRead, PermissionWorkItemUpdate,
		PermissionPipelineCreate, PermissionPipelineRead, PermissionPipelineRun,
		PermissionPipelineGates,
		PermissionReleaseRead, PermissionReleaseApprove, PermissionReleaseManage,
		PermissionUserCreate, PermissionUserRead, PermissionUserUpdate,
		PermissionUserDelete, PermissionGroupManage,
		PermissionSystemConfig, PermissionSystemAudit,
	},
	RoleContributor: {
		PermissionBranchCreate, PermissionBranchRead,
		PermissionPRCreate, PermissionPRRead, PermissionPRApprove, PermissionPRAbandon,
		PermissionWorkItemCreate, PermissionWorkItemRead, PermissionWorkItemUpdate,
		PermissionPipelineRead, PermissionPipelineRun,
		PermissionReleaseRead,
		PermissionUserRead,
	},
	RoleBuildAdmin: {
		PermissionBranchRead,
		PermissionPRRead,
		PermissionWorkItemRead,
		PermissionPipelineCreate, PermissionPipelineRead, PermissionPipelineRun,
		PermissionPipelineGates,
		PermissionReleaseRead, PermissionReleaseManage,
		PermissionUserRead,
	},
	RoleReader: {
		PermissionBranchRead,
		PermissionPRRead,
		PermissionWorkItemRead,
		PermissionPipelineRead,
		PermissionReleaseRead,
		PermissionUserRead,
	},
}

// HasPermission checks if any of the given roles grants a specific permission.
func HasPermission(roles []Role, permission Permission) bool {
	for _, role := range roles {
		for _, p := range RolePermissions[role] {
			if p == permission {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// AUDIT LOG - Track user actions
// =============================================================================

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditActionLogin    AuditAction = "LOGIN"
	AuditActionLogout   AuditAction = "LOGOUT"
	AuditActionCreate   AuditAction = "CREATE"
	AuditActionUpdate   AuditAction = "UPDATE"
	AuditActionDelete   AuditAction = "DELETE"
	AuditActionApprove  AuditAction = "APPROVE"
	AuditActionReject   AuditAction = "REJECT"
	AuditActionComplete AuditAction = "COMPLETE"
	AuditActionAbandon  AuditAction = "ABANDON"
	AuditActionLock     AuditAction = "LOCK"
	AuditActionUnlock   AuditAction = "UNLOCK"
	AuditActionRun      AuditAction = "RUN"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	Username     string                 `json:"username"`
	Action       AuditAction            `json:"action"`
	ResourceType string                 `json:"resource_type"` // branch, pull_request, pipeline, etc.
	ResourceID   string                 `json:"resource_id"`
	ResourceName string                 `json:"resource_name"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	CreatedAt    time.Time              `json:"created_at"`
}
