package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/triagegate/pkg/notify"
)

// DefaultTimeout is how long a pending request waits for a decision before
// it expires.
const DefaultTimeout = 24 * time.Hour

var timeNow = time.Now

// Machine drives approval requests through their lifecycle. All state
// transitions go through the machine so that each request sees exactly one
// terminal transition, even when a decision and the expiry race.
type Machine struct {
	store    Store
	notifier notify.Notifier
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan Outcome
}

// Option configures a Machine.
type Option func(*Machine)

// WithTimeout overrides the pending-decision timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMachine builds a Machine over a store and a notifier.
func NewMachine(store Store, notifier notify.Notifier, opts ...Option) *Machine {
	m := &Machine{
		store:    store,
		notifier: notifier,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
		waiters:  make(map[string]chan Outcome),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput describes a new approval request.
type CreateInput struct {
	ActionID       string
	ConversationID string
	AppID          string
	Action         Action
	AgentReasoning string
}

// Create persists a pending request and sends the approval notification.
// A notification failure is recorded on the request but does not fail the
// create; the request stays pending and can still be decided or expire.
// Creating an action id that already exists returns the existing request.
func (m *Machine) Create(ctx context.Context, in CreateInput) (*Request, error) {
	if in.ActionID == "" {
		return nil, fmt.Errorf("approval: action id is required")
	}
	if existing, err := m.store.Get(ctx, in.ActionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := timeNow()
	req := &Request{
		ActionID:       in.ActionID,
		ConversationID: in.ConversationID,
		AppID:          in.AppID,
		Action:         in.Action,
		AgentReasoning: in.AgentReasoning,
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.timeout),
	}

	ref, err := m.notifier.SendApprovalRequest(ctx, notify.ApprovalNotice{
		ActionID:       req.ActionID,
		ConversationID: req.ConversationID,
		AppID:          req.AppID,
		ActionType:     req.Action.Type,
		Parameters:     req.Action.Parameters,
		AgentReasoning: req.AgentReasoning,
	})
	if err != nil {
		req.NotifyError = err.Error()
		m.logger.Warn("approval notification failed",
			zap.String("action_id", req.ActionID),
			zap.Error(err))
	} else {
		req.NotificationRef = ref
	}

	if err := m.store.Put(ctx, req); err != nil {
		return nil, fmt.Errorf("approval: persist request: %w", err)
	}
	return req, nil
}

// Get returns the current state of a request.
func (m *Machine) Get(ctx context.Context, actionID string) (*Request, error) {
	return m.store.Get(ctx, actionID)
}

// ListPending returns every request still waiting on a decision.
func (m *Machine) ListPending(ctx context.Context) ([]*Request, error) {
	return m.store.ListPending(ctx)
}

// Resolve applies a decision event to the request it names. Events whose
// approval id matches no request return ErrNotFound; the caller
// acknowledges and other pending requests are untouched. Re-delivery of a
// decision for an already-terminal request is a no-op that returns the
// stored request.
func (m *Machine) Resolve(ctx context.Context, ev DecisionEvent) (*Request, error) {
	if ev.Decision != StatusApproved && ev.Decision != StatusRejected {
		return nil, ErrInvalidDecision
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.Get(ctx, ev.ApprovalID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return req, nil
	}

	decidedAt := ev.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = timeNow()
	}
	req.Status = ev.Decision
	req.DecidedBy = ev.DecidedBy
	req.DecidedAt = &decidedAt
	req.DecisionReason = ev.Reason
	if err := m.store.Put(ctx, req); err != nil {
		return nil, fmt.Errorf("approval: persist decision: %w", err)
	}

	m.signalLocked(req.ActionID, Outcome{
		Result:   ResultDecision,
		ActionID: req.ActionID,
		Decision: req.Status,
	})
	m.logger.Info("approval decided",
		zap.String("action_id", req.ActionID),
		zap.String("decision", string(req.Status)),
		zap.String("decided_by", req.DecidedBy))
	return req, nil
}

// Expire transitions a pending request whose deadline has passed to
// expired. Requests that are already terminal or not yet due are left as
// they are.
func (m *Machine) Expire(ctx context.Context, actionID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return req, nil
	}
	if timeNow().Before(req.ExpiresAt) {
		return req, nil
	}

	req.Status = StatusExpired
	if err := m.store.Put(ctx, req); err != nil {
		return nil, fmt.Errorf("approval: persist expiry: %w", err)
	}

	m.signalLocked(actionID, Outcome{
		Result:   ResultTimeout,
		ActionID: actionID,
	})
	m.logger.Info("approval expired", zap.String("action_id", actionID))
	return req, nil
}

// Await blocks until the request reaches a terminal state or the context
// is cancelled. A request that is already terminal returns immediately.
// Each request supports a single in-process waiter; the wait ends on the
// first decision or on the request deadline, whichever comes first.
func (m *Machine) Await(ctx context.Context, actionID string) (*Outcome, error) {
	m.mu.Lock()
	req, err := m.store.Get(ctx, actionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if req.Status.Terminal() {
		m.mu.Unlock()
		return terminalOutcome(req), nil
	}
	ch := make(chan Outcome, 1)
	m.waiters[actionID] = ch
	deadline := req.ExpiresAt
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.waiters[actionID] == ch {
			delete(m.waiters, actionID)
		}
		m.mu.Unlock()
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case out := <-ch:
		return &out, nil
	case <-timer.C:
		if _, err := m.Expire(ctx, actionID); err != nil {
			return nil, err
		}
		// A decision may have won the race inside Expire.
		select {
		case out := <-ch:
			return &out, nil
		default:
		}
		latest, err := m.store.Get(ctx, actionID)
		if err != nil {
			return nil, err
		}
		return terminalOutcome(latest), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// signalLocked delivers an outcome to the waiter, if any. Callers hold
// m.mu. The channel is buffered so the state transition never blocks on a
// slow waiter.
func (m *Machine) signalLocked(actionID string, out Outcome) {
	ch, ok := m.waiters[actionID]
	if !ok {
		return
	}
	select {
	case ch <- out:
	default:
	}
	delete(m.waiters, actionID)
}

func terminalOutcome(req *Request) *Outcome {
	out := &Outcome{ActionID: req.ActionID}
	if req.Status == StatusExpired {
		out.Result = ResultTimeout
		return out
	}
	out.Result = ResultDecision
	out.Decision = req.Status
	return out
}
