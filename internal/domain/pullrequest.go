package domain

import "time"

// PullRequestStatus represents the lifecycle state of a pull request.
// ACTIVE is the only state from which a transition is possible;
// COMPLETED and ABANDONED are terminal.
type PullRequestStatus string

const (
	PullRequestActive    PullRequestStatus = "ACTIVE"
	PullRequestCompleted PullRequestStatus = "COMPLETED"
	PullRequestAbandoned PullRequestStatus = "ABANDONED"
)

// PullRequest represents a proposed merge from a source to a target branch.
type PullRequest struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	SourceBranch string            `json:"source_branch"`
	TargetBranch string            `json:"target_branch"`
	AuthorID     string            `json:"author_id"`
	Status       PullRequestStatus `json:"status"`
	Reviewers    []string          `json:"reviewers"` // user IDs
	Approvals    []string          `json:"approvals"` // subset of Reviewers
	WorkItems    []string          `json:"work_items,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	CompletedBy  string            `json:"completed_by,omitempty"`
}

// IsReviewer returns true if the user is a listed reviewer.
func (pr *PullRequest) IsReviewer(userID string) bool {
	for _, r := range pr.Reviewers {
		if r == userID {
			return true
		}
	}
	return false
}

// HasApproved returns true if the user has already approved.
func (pr *PullRequest) HasApproved(userID string) bool {
	for _, a := range pr.Approvals {
		if a == userID {
			return true
		}
	}
	return false
}

// FullyApproved reports whether every reviewer has approved.
// This is set containment, not a count comparison: an approval from a user
// who is not a reviewer never counts toward completion.
func (pr *PullRequest) FullyApproved() bool {
	for _, r := range pr.Reviewers {
		if !pr.HasApproved(r) {
			return false
		}
	}
	return true
}
