// Package approval implements the human-consent gate in front of automated
// actions: a pending request either receives a decision event correlated by
// action id, or expires after a bounded wait. Terminal states are final.
package approval

import (
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when no request exists for an action id.
	ErrNotFound = errors.New("approval: request not found")

	// ErrInvalidDecision is returned for decision events that are neither
	// approved nor rejected.
	ErrInvalidDecision = errors.New("approval: decision must be approved or rejected")
)

// Status is the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status is final. No transition leaves a
// terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Action describes what the system wants to do once approved.
type Action struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Request is one approval state machine instance, identified by ActionID.
type Request struct {
	ActionID       string    `json:"action_id"`
	ConversationID string    `json:"conversation_id"`
	AppID          string    `json:"app_id,omitempty"`
	Action         Action    `json:"action"`
	AgentReasoning string    `json:"agent_reasoning,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	// NotificationRef correlates the outbound notification with later
	// replies from the human channel.
	NotificationRef string     `json:"notification_ref,omitempty"`
	NotifyError     string     `json:"notify_error,omitempty"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecisionReason  string     `json:"decision_reason,omitempty"`
}

// DecisionEvent is an external decision, correlated by ApprovalID (the
// action id of the pending request).
type DecisionEvent struct {
	ApprovalID string    `json:"approval_id"`
	Decision   Status    `json:"decision"`
	DecidedBy  string    `json:"decided_by"`
	DecidedAt  time.Time `json:"decided_at"`
	Reason     string    `json:"reason,omitempty"`
}

// Outcome is the result of a completed wait: either a decision arrived or
// the wait timed out. The two race; exactly one wins.
type Outcome struct {
	Result   string `json:"result"` // "decision" or "timeout"
	ActionID string `json:"action_id"`
	Decision Status `json:"decision,omitempty"`
}

const (
	ResultDecision = "decision"
	ResultTimeout  = "timeout"
)
