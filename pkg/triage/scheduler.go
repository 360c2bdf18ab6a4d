package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/triagegate/pkg/journal"
)

// TimerKind names what a timer does when it fires.
type TimerKind string

const (
	TimerApprovalExpiry TimerKind = "approval_expiry"
	TimerReminder       TimerKind = "escalation_reminder"
	TimerDraftCheck     TimerKind = "draft_check"
)

// Timer is a persisted delayed action. Timers live in the journal until
// they fire, so pending waits survive a process restart.
type Timer struct {
	ID             string    `json:"id"`
	Kind           TimerKind `json:"kind"`
	FireAt         time.Time `json:"fire_at"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ActionID       string    `json:"action_id,omitempty"`
	DraftID        string    `json:"draft_id,omitempty"`
}

// TimerHandler runs when a timer of its kind fires.
type TimerHandler func(ctx context.Context, t Timer)

const timerJournalKind = "timers"

// Scheduler persists timers and fires them from a poll loop. On startup it
// picks up whatever timers the previous process left behind; timers whose
// deadline passed while the process was down fire on the first poll.
type Scheduler struct {
	j        *journal.Store
	logger   *zap.Logger
	interval time.Duration

	mu       sync.Mutex
	handlers map[TimerKind]TimerHandler
	started  bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPollInterval overrides how often the scheduler scans for due timers.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger attaches a logger.
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler builds a scheduler over a journal.
func NewScheduler(j *journal.Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		j:        j,
		logger:   zap.NewNop(),
		interval: 30 * time.Second,
		handlers: make(map[TimerKind]TimerHandler),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers the handler for a timer kind. A kind without a handler
// is left in the journal untouched when it comes due.
func (s *Scheduler) Handle(kind TimerKind, fn TimerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = fn
}

// Schedule persists a timer. An empty id gets a fresh one; the final timer
// is returned.
func (s *Scheduler) Schedule(t Timer) (Timer, error) {
	if t.Kind == "" {
		return Timer{}, fmt.Errorf("triage: timer kind is required")
	}
	if t.FireAt.IsZero() {
		return Timer{}, fmt.Errorf("triage: timer fire time is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.j.Put(timerJournalKind, t.ID, t); err != nil {
		return Timer{}, fmt.Errorf("triage: persist timer: %w", err)
	}
	return t, nil
}

// Cancel removes a timer that has not fired yet. Cancelling an unknown id
// is a no-op.
func (s *Scheduler) Cancel(id string) error {
	return s.j.Delete(timerJournalKind, id)
}

// Pending returns every timer still waiting to fire.
func (s *Scheduler) Pending() ([]Timer, error) {
	ids, err := s.j.List(timerJournalKind)
	if err != nil {
		return nil, err
	}
	timers := make([]Timer, 0, len(ids))
	for _, id := range ids {
		var t Timer
		if err := s.j.Get(timerJournalKind, id, &t); err != nil {
			continue
		}
		timers = append(timers, t)
	}
	return timers, nil
}

// Start runs the poll loop until Stop is called or the context ends.
// Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.FireDue(ctx)
			}
		}
	}()
}

// Stop ends the poll loop and waits for it to exit. Stopping a
// scheduler that was never started returns immediately.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	<-s.done
}

// FireDue runs every timer whose deadline has passed. The timer record is
// deleted before its handler runs; a handler that needs another firing
// schedules a new timer.
func (s *Scheduler) FireDue(ctx context.Context) {
	timers, err := s.Pending()
	if err != nil {
		s.logger.Warn("scheduler scan failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, t := range timers {
		if now.Before(t.FireAt) {
			continue
		}
		s.mu.Lock()
		handler := s.handlers[t.Kind]
		s.mu.Unlock()
		if handler == nil {
			continue
		}
		if err := s.j.Delete(timerJournalKind, t.ID); err != nil {
			s.logger.Warn("scheduler delete failed",
				zap.String("timer_id", t.ID),
				zap.Error(err))
			continue
		}
		handler(ctx, t)
	}
}
