// Package triage orchestrates the full lifecycle of an inbound support
// message: cache invalidation, routing, approval creation, and the durable
// timers that drive escalation reminders, approval expiry, and draft
// checks. All mutations for one conversation are serialized; different
// conversations proceed independently.
package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/triagegate/pkg/approval"
	"github.com/zen-systems/triagegate/pkg/audit"
	"github.com/zen-systems/triagegate/pkg/escalation"
	"github.com/zen-systems/triagegate/pkg/hold"
	"github.com/zen-systems/triagegate/pkg/message"
	"github.com/zen-systems/triagegate/pkg/router"
)

// DefaultDraftTimeout is how long after drafting a reply the draft check
// fires.
const DefaultDraftTimeout = 2 * time.Hour

// DraftChecker reports whether a drafted reply still exists in the source
// system. A draft the human deleted counts as a silent veto.
type DraftChecker interface {
	DraftExists(ctx context.Context, conversationID, draftID string) (bool, error)
}

// Service wires the routing pipeline to the approval lifecycle.
type Service struct {
	router    *router.Router
	cache     *router.DecisionCache
	holds     *hold.Store
	approvals *approval.Machine
	reminder  *escalation.Reminder
	scheduler *Scheduler
	drafts    DraftChecker
	audit     *audit.Log
	logger    *zap.Logger

	draftTimeout time.Duration

	mu        sync.Mutex
	convLocks map[string]*sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDraftChecker enables the draft-deletion check.
func WithDraftChecker(d DraftChecker) ServiceOption {
	return func(s *Service) { s.drafts = d }
}

// WithDraftTimeout overrides the draft check delay.
func WithDraftTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.draftTimeout = d
		}
	}
}

// WithAudit attaches an audit log.
func WithAudit(l *audit.Log) ServiceOption {
	return func(s *Service) { s.audit = l }
}

// WithServiceLogger attaches a logger.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService assembles the orchestration layer and registers its timer
// handlers on the scheduler.
func NewService(r *router.Router, cache *router.DecisionCache, holds *hold.Store, approvals *approval.Machine, reminder *escalation.Reminder, scheduler *Scheduler, opts ...ServiceOption) *Service {
	s := &Service{
		router:       r,
		cache:        cache,
		holds:        holds,
		approvals:    approvals,
		reminder:     reminder,
		scheduler:    scheduler,
		logger:       zap.NewNop(),
		draftTimeout: DefaultDraftTimeout,
		convLocks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}

	scheduler.Handle(TimerReminder, s.fireReminder)
	scheduler.Handle(TimerApprovalExpiry, s.fireExpiry)
	scheduler.Handle(TimerDraftCheck, s.fireDraftCheck)
	return s
}

// InboundResult is what handling one inbound message produced.
type InboundResult struct {
	Decision *router.Decision
	CacheHit bool
	// ActionID is set when the decision required consent and an approval
	// request was created.
	ActionID string
}

// HandleInbound routes an inbound message. A redelivery of the same
// message replays its cached decision without side effects; a new
// message id is a new turn, so the conversation's earlier decisions are
// invalidated before routing. Decisions that require consent open an
// approval request and arm its expiry and reminder timers.
func (s *Service) HandleInbound(ctx context.Context, msg *message.Message) (*InboundResult, error) {
	if msg == nil {
		return nil, fmt.Errorf("triage: message is required")
	}
	unlock := s.lockConversation(msg.ConversationID)
	defer unlock()

	// The exact-key lookup must happen before the conversation-wide
	// invalidation, or a retried delivery would wipe its own entry and
	// open a second approval.
	cached, err := s.cache.Get(ctx, msg.Key())
	if err != nil {
		return nil, fmt.Errorf("triage: cache lookup: %w", err)
	}
	if cached != nil {
		s.recordDecision(msg, cached, true)
		result := &InboundResult{Decision: cached, CacheHit: true}
		if cached.NeedsConsent() {
			result.ActionID = approvalActionID(msg)
		}
		return result, nil
	}

	if err := s.cache.InvalidateConversation(ctx, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("triage: invalidate cache: %w", err)
	}

	decision, cacheHit, err := s.router.RouteDetailed(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.recordDecision(msg, decision, cacheHit)

	result := &InboundResult{Decision: decision, CacheHit: cacheHit}
	if !decision.NeedsConsent() {
		return result, nil
	}

	req, err := s.approvals.Create(ctx, approval.CreateInput{
		ActionID:       approvalActionID(msg),
		ConversationID: msg.ConversationID,
		AppID:          msg.AppID,
		Action: approval.Action{
			Type:       "send_response",
			Parameters: map[string]string{"body": decision.Response},
		},
		AgentReasoning: decision.Reason,
	})
	if err != nil {
		return nil, err
	}
	result.ActionID = req.ActionID

	if _, err := s.scheduler.Schedule(Timer{
		Kind:           TimerApprovalExpiry,
		FireAt:         req.ExpiresAt,
		ConversationID: msg.ConversationID,
		ActionID:       req.ActionID,
	}); err != nil {
		return nil, err
	}
	if _, err := s.scheduler.Schedule(Timer{
		Kind:           TimerReminder,
		FireAt:         time.Now().Add(s.reminder.Delay()),
		ConversationID: msg.ConversationID,
		ActionID:       req.ActionID,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("approval opened",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("action_id", req.ActionID),
		zap.String("route", string(decision.Route)))
	return result, nil
}

// approvalActionID derives the approval id from the message's cache key.
// A replayed message therefore resolves to the approval it already
// opened instead of minting a new one.
func approvalActionID(msg *message.Message) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(msg.Key())).String()
}

// Event is one item from the inbound event stream.
type Event struct {
	Type     string                  `json:"type"`
	Decision *approval.DecisionEvent `json:"decision,omitempty"`
	Hold     *HoldEvent              `json:"hold,omitempty"`
	Message  *message.Message        `json:"message,omitempty"`
}

// HoldEvent pauses or resumes automated action on a conversation.
type HoldEvent struct {
	ConversationID string    `json:"conversation_id"`
	Until          time.Time `json:"until,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// Event types the service understands. Anything else is acknowledged
// without action so upstream delivery never retries forever.
const (
	EventMessage          = "message"
	EventApprovalDecision = "approval_decision"
	EventHoldSet          = "hold_set"
	EventHoldClear        = "hold_clear"
)

// HandleEvent dispatches one event. Unknown event types and decision
// events that match no pending approval return nil.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventMessage:
		if ev.Message == nil {
			return fmt.Errorf("triage: message event without message")
		}
		_, err := s.HandleInbound(ctx, ev.Message)
		return err

	case EventApprovalDecision:
		if ev.Decision == nil {
			return fmt.Errorf("triage: decision event without decision")
		}
		_, err := s.approvals.Resolve(ctx, *ev.Decision)
		if err == approval.ErrNotFound {
			s.logger.Info("decision for unknown approval acknowledged",
				zap.String("approval_id", ev.Decision.ApprovalID))
			return nil
		}
		return err

	case EventHoldSet:
		if ev.Hold == nil {
			return fmt.Errorf("triage: hold event without hold")
		}
		unlock := s.lockConversation(ev.Hold.ConversationID)
		defer unlock()
		return s.holds.Set(ctx, ev.Hold.ConversationID, ev.Hold.Until, ev.Hold.Reason)

	case EventHoldClear:
		if ev.Hold == nil {
			return fmt.Errorf("triage: hold event without hold")
		}
		unlock := s.lockConversation(ev.Hold.ConversationID)
		defer unlock()
		return s.holds.Clear(ctx, ev.Hold.ConversationID)

	default:
		s.logger.Info("unknown event type acknowledged", zap.String("type", ev.Type))
		return nil
	}
}

// ScheduleDraftCheck arms the deleted-draft check for a reply that was
// just drafted.
func (s *Service) ScheduleDraftCheck(conversationID, draftID string) (Timer, error) {
	return s.scheduler.Schedule(Timer{
		Kind:           TimerDraftCheck,
		FireAt:         time.Now().Add(s.draftTimeout),
		ConversationID: conversationID,
		DraftID:        draftID,
	})
}

func (s *Service) fireReminder(ctx context.Context, t Timer) {
	s.reminder.Check(ctx, t.ConversationID, t.ActionID)
}

func (s *Service) fireExpiry(ctx context.Context, t Timer) {
	if _, err := s.approvals.Expire(ctx, t.ActionID); err != nil {
		s.logger.Warn("approval expiry failed",
			zap.String("action_id", t.ActionID),
			zap.Error(err))
	}
}

func (s *Service) fireDraftCheck(ctx context.Context, t Timer) {
	if s.drafts == nil {
		return
	}
	exists, err := s.drafts.DraftExists(ctx, t.ConversationID, t.DraftID)
	if err != nil {
		s.logger.Warn("draft check failed",
			zap.String("conversation_id", t.ConversationID),
			zap.String("draft_id", t.DraftID),
			zap.Error(err))
		return
	}
	if s.audit != nil {
		if err := s.audit.Draft(audit.DraftRecord{
			ConversationID: t.ConversationID,
			DraftID:        t.DraftID,
			Deleted:        !exists,
		}); err != nil {
			s.logger.Warn("audit draft record failed", zap.Error(err))
		}
	}
	if !exists {
		// A deleted draft is a human saying no. Nothing is sent and the
		// conversation's cached decisions no longer apply.
		if err := s.cache.InvalidateConversation(ctx, t.ConversationID); err != nil {
			s.logger.Warn("invalidate after draft deletion failed", zap.Error(err))
		}
		s.logger.Info("draft deleted, send vetoed",
			zap.String("conversation_id", t.ConversationID),
			zap.String("draft_id", t.DraftID))
	}
}

func (s *Service) recordDecision(msg *message.Message, d *router.Decision, cacheHit bool) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Decision(audit.DecisionRecord{
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		Route:          string(d.Route),
		Reason:         d.Reason,
		Confidence:     d.Confidence,
		Category:       d.Category,
		RuleID:         d.RuleID,
		CacheHit:       cacheHit,
	}); err != nil {
		s.logger.Warn("audit decision record failed", zap.Error(err))
	}
}

// lockConversation serializes work per conversation id. The returned
// function releases the lock.
func (s *Service) lockConversation(conversationID string) func() {
	s.mu.Lock()
	l, ok := s.convLocks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.convLocks[conversationID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}
