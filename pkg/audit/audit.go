// Package audit writes append-only JSONL records of routing decisions and
// escalation outcomes. Outcomes are derived fresh at each firing; the audit
// trail is the only place they are written down.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DecisionRecord captures one routing decision.
type DecisionRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Route          string    `json:"route"`
	Reason         string    `json:"reason,omitempty"`
	Confidence     float64   `json:"confidence"`
	Category       string    `json:"category,omitempty"`
	RuleID         string    `json:"rule_id,omitempty"`
	CacheHit       bool      `json:"cache_hit"`
}

// ReminderRecord captures one escalation reminder firing.
type ReminderRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	ActionID       string    `json:"action_id"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
}

// DraftRecord captures one draft-deletion check.
type DraftRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	DraftID        string    `json:"draft_id"`
	Deleted        bool      `json:"deleted"`
}

// Log appends records to per-kind JSONL files under a base directory.
type Log struct {
	mu      sync.Mutex
	baseDir string
}

// NewLog creates an audit log rooted at baseDir.
func NewLog(baseDir string) (*Log, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("audit: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &Log{baseDir: baseDir}, nil
}

// Decision appends a routing decision record.
func (l *Log) Decision(record DecisionRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return l.append("decisions", record)
}

// Reminder appends an escalation reminder record.
func (l *Log) Reminder(record ReminderRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return l.append("reminders", record)
}

// Draft appends a draft-deletion check record.
func (l *Log) Draft(record DraftRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return l.append("drafts", record)
}

func (l *Log) append(kind string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: marshal %s record: %w", kind, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.baseDir, kind+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}
