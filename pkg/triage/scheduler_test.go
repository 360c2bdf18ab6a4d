package triage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/triagegate/pkg/journal"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	j, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewScheduler(j)
}

func TestScheduleAssignsID(t *testing.T) {
	s := newTestScheduler(t)

	out, err := s.Schedule(Timer{Kind: TimerReminder, FireAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, out.ID, pending[0].ID)
}

func TestScheduleValidates(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Schedule(Timer{FireAt: time.Now()})
	assert.Error(t, err)

	_, err = s.Schedule(Timer{Kind: TimerReminder})
	assert.Error(t, err)
}

func TestFireDueRunsDueTimersOnly(t *testing.T) {
	s := newTestScheduler(t)

	var fired []Timer
	s.Handle(TimerReminder, func(_ context.Context, tm Timer) {
		fired = append(fired, tm)
	})

	due, err := s.Schedule(Timer{Kind: TimerReminder, FireAt: time.Now().Add(-time.Second), ActionID: "act-due"})
	require.NoError(t, err)
	_, err = s.Schedule(Timer{Kind: TimerReminder, FireAt: time.Now().Add(time.Hour), ActionID: "act-later"})
	require.NoError(t, err)

	s.FireDue(context.Background())

	require.Len(t, fired, 1)
	assert.Equal(t, due.ID, fired[0].ID)
	assert.Equal(t, "act-due", fired[0].ActionID)

	// The due timer is consumed; the future one stays.
	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "act-later", pending[0].ActionID)
}

func TestFireDueSkipsUnhandledKinds(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Schedule(Timer{Kind: TimerDraftCheck, FireAt: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	s.FireDue(context.Background())

	// Without a handler the timer stays in the journal.
	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestTimersSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.NewStore(dir)
	require.NoError(t, err)

	first := NewScheduler(j)
	_, err = first.Schedule(Timer{Kind: TimerApprovalExpiry, FireAt: time.Now().Add(-time.Minute), ActionID: "act-1"})
	require.NoError(t, err)

	// A new scheduler over the same journal sees the timer and fires it.
	j2, err := journal.NewStore(dir)
	require.NoError(t, err)
	second := NewScheduler(j2)

	var fired []Timer
	second.Handle(TimerApprovalExpiry, func(_ context.Context, tm Timer) {
		fired = append(fired, tm)
	})
	second.FireDue(context.Background())

	require.Len(t, fired, 1)
	assert.Equal(t, "act-1", fired[0].ActionID)
}

func TestCancelRemovesTimer(t *testing.T) {
	s := newTestScheduler(t)

	out, err := s.Schedule(Timer{Kind: TimerReminder, FireAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(out.ID))

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Cancelling again is a no-op.
	assert.NoError(t, s.Cancel(out.ID))
}

func TestStartStopPollLoop(t *testing.T) {
	j, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	s := NewScheduler(j, WithPollInterval(5*time.Millisecond))

	fired := make(chan Timer, 1)
	s.Handle(TimerReminder, func(_ context.Context, tm Timer) {
		select {
		case fired <- tm:
		default:
		}
	})
	_, err = s.Schedule(Timer{Kind: TimerReminder, FireAt: time.Now(), ActionID: "act-1"})
	require.NoError(t, err)

	s.Start(context.Background())
	select {
	case tm := <-fired:
		assert.Equal(t, "act-1", tm.ActionID)
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never fired the timer")
	}
	s.Stop()
}

func TestStopWithoutStartReturns(t *testing.T) {
	s := newTestScheduler(t)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked without a running poll loop")
	}
}
