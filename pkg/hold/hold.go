// Package hold implements time-boxed suppression of automated action on a
// conversation. Expiry is enforced by the storage layer's TTL; an expired
// hold reads as absent without any polling.
package hold

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zen-systems/triagegate/pkg/kvstore"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

const keyPrefix = "hold:"

// Info describes an active hold on a conversation.
type Info struct {
	ConversationID string    `json:"conversation_id"`
	Until          time.Time `json:"until"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store manages at most one active hold per conversation.
type Store struct {
	kv kvstore.Store
}

// NewStore creates a hold store over the given key-value store.
func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Set places a hold on the conversation until the given time, overwriting
// any existing hold (last write wins). A hold whose `until` is already in
// the past is silently ignored.
func (s *Store) Set(ctx context.Context, conversationID string, until time.Time, reason string) error {
	now := timeNow()
	if !until.After(now) {
		return nil
	}

	info := Info{
		ConversationID: conversationID,
		Until:          until,
		Reason:         reason,
		CreatedAt:      now,
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("hold marshal: %w", err)
	}

	if err := s.kv.Set(ctx, keyPrefix+conversationID, raw, until.Sub(now)); err != nil {
		return fmt.Errorf("hold set %q: %w", conversationID, err)
	}
	return nil
}

// IsOnHold reports whether the conversation has an active hold.
func (s *Store) IsOnHold(ctx context.Context, conversationID string) (bool, error) {
	info, err := s.Get(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// Get returns the active hold, or nil when none exists.
func (s *Store) Get(ctx context.Context, conversationID string) (*Info, error) {
	raw, ok, err := s.kv.Get(ctx, keyPrefix+conversationID)
	if err != nil {
		return nil, fmt.Errorf("hold get %q: %w", conversationID, err)
	}
	if !ok {
		return nil, nil
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("hold unmarshal %q: %w", conversationID, err)
	}
	return &info, nil
}

// Clear removes the hold explicitly. Clearing an absent hold is not an
// error.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	if err := s.kv.Delete(ctx, keyPrefix+conversationID); err != nil {
		return fmt.Errorf("hold clear %q: %w", conversationID, err)
	}
	return nil
}
