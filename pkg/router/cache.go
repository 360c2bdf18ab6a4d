package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zen-systems/triagegate/pkg/kvstore"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// DefaultDecisionTTL bounds how long a routing decision may be replayed.
const DefaultDecisionTTL = 5 * time.Minute

// CacheEntry is the stored form of a cached decision.
type CacheEntry struct {
	Decision  *Decision `json:"decision"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
}

// DecisionCache is the idempotency backbone of the pipeline: a TTL map from
// `<conversationId>:<messageId>` to the decision already computed for it.
type DecisionCache struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewDecisionCache creates a cache over the given store. A non-positive TTL
// falls back to DefaultDecisionTTL.
func NewDecisionCache(kv kvstore.Store, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	return &DecisionCache{kv: kv, ttl: ttl}
}

// Get returns the cached decision for key, or nil. An entry whose age has
// reached the TTL is evicted and treated as absent; there is no background
// sweep.
func (c *DecisionCache) Get(ctx context.Context, key string) (*Decision, error) {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("decision cache get: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry behaves like a miss.
		_ = c.kv.Delete(ctx, key)
		return nil, nil
	}

	age := timeNow().UnixMilli() - entry.Timestamp
	if age >= c.ttl.Milliseconds() {
		if err := c.kv.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("decision cache evict: %w", err)
		}
		return nil, nil
	}

	return entry.Decision, nil
}

// Set stores the decision for key, overwriting any previous entry.
func (c *DecisionCache) Set(ctx context.Context, key string, decision *Decision) error {
	entry := CacheEntry{Decision: decision, Timestamp: timeNow().UnixMilli()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("decision cache marshal: %w", err)
	}

	// The storage TTL is garbage collection only; the read path enforces
	// the exact boundary.
	if err := c.kv.Set(ctx, key, raw, 2*c.ttl); err != nil {
		return fmt.Errorf("decision cache set: %w", err)
	}
	return nil
}

// InvalidateConversation drops every cached decision whose key is prefixed
// by the conversation id, so routing never replays across inbound turns.
func (c *DecisionCache) InvalidateConversation(ctx context.Context, conversationID string) error {
	if err := c.kv.DeletePrefix(ctx, conversationID+":"); err != nil {
		return fmt.Errorf("decision cache invalidate %q: %w", conversationID, err)
	}
	return nil
}
