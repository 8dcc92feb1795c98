// Package queue holds the canonical queue data model and the reconciler
// that turns raw broker/REST snapshots into local state and derived facts.
package queue

import "time"

// Status is a token's lifecycle state. Transitions are driven entirely by
// the backend: WAITING -> IN_SERVICE -> COMPLETED, with WAITING tokens
// removable by cancellation.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusInService Status = "IN_SERVICE"
	StatusCompleted Status = "COMPLETED"
)

// GroupMember is one member of a group token.
type GroupMember struct {
	Name    string `json:"name"`
	Details string `json:"details,omitempty"`
}

// UserDetails carries the optional purpose/condition/notes block a customer
// may attach to a token, plus the provider-visibility flag.
type UserDetails struct {
	UserName       string            `json:"userName,omitempty"`
	Purpose        string            `json:"purpose,omitempty"`
	Condition      string            `json:"condition,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	DetailsVisible bool              `json:"detailsVisible"`
	CustomFields   map[string]string `json:"customFields,omitempty"`
}

// Token is a customer's place-holder in a queue.
type Token struct {
	TokenID          string       `json:"tokenId"`
	Status           Status       `json:"status"`
	UserID           string       `json:"userId"`
	IsGroup          bool         `json:"isGroup,omitempty"`
	GroupMembers     []GroupMember `json:"groupMembers,omitempty"`
	IsEmergency      bool         `json:"isEmergency,omitempty"`
	EmergencyDetails string       `json:"emergencyDetails,omitempty"`
	UserDetails      *UserDetails `json:"userDetails,omitempty"`
	IssuedAt         *time.Time   `json:"issuedAt,omitempty"`
	ServedAt         *time.Time   `json:"servedAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
}

// Queue is the canonical local representation of a queue snapshot. IsActive
// is nil when the snapshot carried neither of the two inbound field names.
type Queue struct {
	ID                      string  `json:"id"`
	ServiceName             string  `json:"serviceName,omitempty"`
	PlaceID                 string  `json:"placeId,omitempty"`
	ProviderID              string  `json:"providerId,omitempty"`
	IsActive                *bool   `json:"isActive,omitempty"`
	SupportsGroupToken      bool    `json:"supportsGroupToken,omitempty"`
	EmergencySupport        bool    `json:"emergencySupport,omitempty"`
	EmergencyPriorityWeight int     `json:"emergencyPriorityWeight,omitempty"`
	MaxCapacity             *int    `json:"maxCapacity,omitempty"`
	EstimatedWaitTime       int     `json:"estimatedWaitTime,omitempty"`
	TokenCounter            int     `json:"tokenCounter,omitempty"`
	Tokens                  []Token `json:"tokens"`
}

// Active reports the canonical activity flag, defaulting to true when the
// snapshot never carried one. Matches the origin system's behavior of
// treating unknown as active.
func (q *Queue) Active() bool {
	if q.IsActive == nil {
		return true
	}
	return *q.IsActive
}

// TokensByStatus returns the queue's tokens with the given status, in list
// order.
func (q *Queue) TokensByStatus(status Status) []Token {
	var out []Token
	for _, t := range q.Tokens {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}
