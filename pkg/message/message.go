package message

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Message represents an immutable inbound support message.
type Message struct {
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	AppID          string            `json:"app_id,omitempty"`
	Sender         string            `json:"sender"`
	Text           string            `json:"text"`
	RecentMessages []string          `json:"recent_messages,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
	Hash           string            `json:"hash"`
}

// New creates a new Message with computed content hash.
func New(conversationID, messageID, sender, text string) *Message {
	m := &Message{
		ConversationID: conversationID,
		MessageID:      messageID,
		Sender:         sender,
		Text:           text,
		Metadata:       make(map[string]string),
		ReceivedAt:     time.Now().UTC(),
	}
	m.Hash = m.computeHash()
	return m
}

// WithContext returns a copy of the message carrying recent conversation turns.
func (m *Message) WithContext(recent []string) *Message {
	copied := *m
	copied.RecentMessages = append([]string(nil), recent...)
	return &copied
}

// WithApp returns a copy of the message tagged with an application id.
func (m *Message) WithApp(appID string) *Message {
	copied := *m
	copied.AppID = appID
	return &copied
}

// Key returns the cache identity of the message, `<conversationId>:<messageId>`.
func (m *Message) Key() string {
	return m.ConversationID + ":" + m.MessageID
}

func (m *Message) computeHash() string {
	h := sha256.New()
	h.Write([]byte(m.ConversationID))
	h.Write([]byte(m.MessageID))
	h.Write([]byte(m.Sender))
	h.Write([]byte(m.Text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
