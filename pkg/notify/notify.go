// Package notify is the boundary to the human notification channel. The real
// channel (chat workspace, ticketing comments) lives outside this repository;
// implementations here are a webhook bridge and an in-memory fake.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ApprovalNotice is the payload shown to a human when an action needs consent.
type ApprovalNotice struct {
	ActionID       string            `json:"action_id"`
	ConversationID string            `json:"conversation_id"`
	AppID          string            `json:"app_id,omitempty"`
	ActionType     string            `json:"action_type"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	AgentReasoning string            `json:"agent_reasoning,omitempty"`
}

// Notifier delivers approval requests and reminder comments to humans.
type Notifier interface {
	// SendApprovalRequest posts a pending approval to the human channel and
	// returns the channel's reference id for later correlation.
	SendApprovalRequest(ctx context.Context, notice ApprovalNotice) (string, error)

	// PostComment posts a free-form comment on a conversation.
	PostComment(ctx context.Context, conversationID, text string) error
}

// Memory is an in-process Notifier that records everything it is asked to
// send. It backs tests and local runs.
type Memory struct {
	mu       sync.Mutex
	Notices  []ApprovalNotice
	Comments map[string][]string
	// FailWith, when set, makes every call fail with this error.
	FailWith error
}

// NewMemory creates an empty in-memory notifier.
func NewMemory() *Memory {
	return &Memory{Comments: make(map[string][]string)}
}

// SendApprovalRequest records the notice and returns a fresh reference id.
func (m *Memory) SendApprovalRequest(_ context.Context, notice ApprovalNotice) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return "", m.FailWith
	}
	m.Notices = append(m.Notices, notice)
	return uuid.NewString(), nil
}

// PostComment records the comment.
func (m *Memory) PostComment(_ context.Context, conversationID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.Comments[conversationID] = append(m.Comments[conversationID], text)
	return nil
}

// CommentCount returns the number of comments posted to a conversation.
func (m *Memory) CommentCount(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Comments[conversationID])
}
