// Package escalation nudges humans about approval requests that sit
// unresolved past a fixed delay. Each firing re-derives its outcome from
// the current hold and approval state; nothing is decided ahead of time.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/zen-systems/triagegate/pkg/approval"
	"github.com/zen-systems/triagegate/pkg/audit"
	"github.com/zen-systems/triagegate/pkg/hold"
	"github.com/zen-systems/triagegate/pkg/notify"
)

const (
	// DefaultDelay is how long after an approval request is created the
	// reminder check fires.
	DefaultDelay = 4 * time.Hour

	// DefaultMaxConcurrent bounds reminder checks in flight across all
	// conversations.
	DefaultMaxConcurrent = 4
)

// Outcome is the derived result of one reminder firing.
type Outcome string

const (
	OutcomeSkippedOnHold   Outcome = "skipped-on-hold"
	OutcomeAlreadyApproved Outcome = "already-approved"
	OutcomeEscalated       Outcome = "escalated"
	OutcomeFailed          Outcome = "failed"
)

// Result reports what one reminder check did.
type Result struct {
	Outcome        Outcome
	ConversationID string
	ActionID       string
	Err            error
}

// Reminder runs the delayed escalation check. At most one check per
// conversation is in flight at a time; concurrent firings for the same
// conversation collapse into a single check.
type Reminder struct {
	holds     *hold.Store
	approvals *approval.Machine
	notifier  notify.Notifier
	audit     *audit.Log
	logger    *zap.Logger
	delay     time.Duration

	group singleflight.Group
	sem   *semaphore.Weighted
}

// ReminderOption configures a Reminder.
type ReminderOption func(*Reminder)

// WithDelay overrides the reminder delay.
func WithDelay(d time.Duration) ReminderOption {
	return func(r *Reminder) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithMaxConcurrent overrides the fan-out limit.
func WithMaxConcurrent(n int64) ReminderOption {
	return func(r *Reminder) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithAudit attaches an audit log for reminder outcomes.
func WithAudit(l *audit.Log) ReminderOption {
	return func(r *Reminder) { r.audit = l }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) ReminderOption {
	return func(r *Reminder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReminder builds a Reminder over the hold store, the approval machine
// and the notification channel.
func NewReminder(holds *hold.Store, approvals *approval.Machine, notifier notify.Notifier, opts ...ReminderOption) *Reminder {
	r := &Reminder{
		holds:     holds,
		approvals: approvals,
		notifier:  notifier,
		logger:    zap.NewNop(),
		delay:     DefaultDelay,
		sem:       semaphore.NewWeighted(DefaultMaxConcurrent),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Delay returns the configured reminder delay.
func (r *Reminder) Delay() time.Duration { return r.delay }

// Check runs the reminder check for one approval request. The check never
// returns an error; failures surface as OutcomeFailed with the underlying
// error attached. Checks for the same conversation are single-flighted and
// the overall fan-out is bounded.
func (r *Reminder) Check(ctx context.Context, conversationID, actionID string) Result {
	v, err, _ := r.group.Do(conversationID, func() (any, error) {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return Result{}, err
		}
		defer r.sem.Release(1)
		return r.check(ctx, conversationID, actionID), nil
	})
	if err != nil {
		return r.record(Result{
			Outcome:        OutcomeFailed,
			ConversationID: conversationID,
			ActionID:       actionID,
			Err:            err,
		})
	}
	return v.(Result)
}

func (r *Reminder) check(ctx context.Context, conversationID, actionID string) Result {
	res := Result{ConversationID: conversationID, ActionID: actionID}

	onHold, err := r.holds.IsOnHold(ctx, conversationID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("read hold state: %w", err)
		return r.record(res)
	}
	if onHold {
		res.Outcome = OutcomeSkippedOnHold
		return r.record(res)
	}

	req, err := r.approvals.Get(ctx, actionID)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			// The request is gone; nothing to remind about.
			res.Outcome = OutcomeAlreadyApproved
			return r.record(res)
		}
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("read approval state: %w", err)
		return r.record(res)
	}
	if req.Status != approval.StatusPending {
		res.Outcome = OutcomeAlreadyApproved
		return r.record(res)
	}

	comment := fmt.Sprintf("Reminder: approval %s has been pending for %s and still needs a decision.", actionID, r.delay)
	if err := r.notifier.PostComment(ctx, conversationID, comment); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("post reminder: %w", err)
		return r.record(res)
	}

	res.Outcome = OutcomeEscalated
	return r.record(res)
}

func (r *Reminder) record(res Result) Result {
	fields := []zap.Field{
		zap.String("conversation_id", res.ConversationID),
		zap.String("action_id", res.ActionID),
		zap.String("outcome", string(res.Outcome)),
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
		r.logger.Warn("escalation reminder", fields...)
	} else {
		r.logger.Info("escalation reminder", fields...)
	}

	if r.audit != nil {
		rec := audit.ReminderRecord{
			ConversationID: res.ConversationID,
			ActionID:       res.ActionID,
			Outcome:        string(res.Outcome),
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if err := r.audit.Reminder(rec); err != nil {
			r.logger.Warn("audit reminder record failed", zap.Error(err))
		}
	}
	return res
}
