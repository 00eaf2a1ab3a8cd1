package domain

import "time"

// Group represents a named collection of users, e.g. a team.
// Membership is a set: adding an existing member is a no-op.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Members     []string  `json:"members"` // user IDs, no duplicates
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasMember returns true if the user is a member of the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// AddMember adds a user to the group. Idempotent: adding an existing
// member leaves the membership unchanged and reports false.
func (g *Group) AddMember(userID string) bool {
	if g.HasMember(userID) {
		return false
	}
	g.Members = append(g.Members, userID)
	return true
}

// RemoveMember removes a user from the group. Removing a non-member is
// a no-op and reports false.
func (g *Group) RemoveMember(userID string) bool {
	for i, m := range g.Members {
		if m == userID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return true
		}
	}
	return false
}
