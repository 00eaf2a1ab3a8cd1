package domain

import "time"

// WorkItemType classifies a work item.
type WorkItemType string

const (
	WorkItemUserStory WorkItemType = "USER_STORY"
	WorkItemTask      WorkItemType = "TASK"
	WorkItemBug       WorkItemType = "BUG"
	WorkItemFeature   WorkItemType = "FEATURE"
)

// WorkItemState represents the workflow state of a work item.
type WorkItemState string

const (
	WorkItemNew      WorkItemState = "NEW"
	WorkItemActive   WorkItemState = "ACTIVE"
	WorkItemResolved WorkItemState = "RESOLVED"
	WorkItemClosed   WorkItemState = "CLOSED"
)

// workItemTransitions maps each state to the states reachable from it.
// Resolved items can be reopened to Active; Closed is terminal.
var workItemTransitions = map[WorkItemState][]WorkItemState{
	WorkItemNew:      {WorkItemActive, WorkItemClosed},
	WorkItemActive:   {WorkItemResolved, WorkItemClosed},
	WorkItemResolved: {WorkItemActive, WorkItemClosed},
	WorkItemClosed:   {},
}

// CanTransitionWorkItem reports whether a work item may move between two states.
func CanTransitionWorkItem(from, to WorkItemState) bool {
	for _, s := range workItemTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// WorkItem represents a tracked unit of work.
type WorkItem struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Type        WorkItemType  `json:"type"`
	State       WorkItemState `json:"state"`
	AssignedTo  string        `json:"assigned_to,omitempty"` // user ID
	Description string        `json:"description,omitempty"`
	Priority    int           `json:"priority"` // 1 (highest) .. 4
	Tags        []string      `json:"tags,omitempty"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// WorkItemQuery is a saved query over work items.
type WorkItemQuery struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Criteria  WorkItemCriteria   `json:"criteria"`
	CreatedBy string             `json:"created_by"`
	CreatedAt time.Time          `json:"created_at"`
}

// WorkItemCriteria holds the filter fields of a saved query.
// Zero values mean "any".
type WorkItemCriteria struct {
	Type        WorkItemType  `json:"type,omitempty"`
	State       WorkItemState `json:"state,omitempty"`
	AssignedTo  string        `json:"assigned_to,omitempty"`
	MaxPriority int           `json:"max_priority,omitempty"` // matches Priority <= MaxPriority
	Tag         string        `json:"tag,omitempty"`
}

// Matches reports whether a work item satisfies the criteria.
func (c WorkItemCriteria) Matches(item *WorkItem) bool {
	if c.Type != "" && item.Type != c.Type {
		return false
	}
	if c.State != "" && item.State != c.State {
		return false
	}
	if c.AssignedTo != "" && item.AssignedTo != c.AssignedTo {
		return false
	}
	if c.MaxPriority > 0 && item.Priority > c.MaxPriority {
		return false
	}
	if c.Tag != "" {
		found := false
		for _, t := range item.Tags {
			if t == c.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
