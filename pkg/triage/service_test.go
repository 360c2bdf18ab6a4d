package triage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/triagegate/pkg/approval"
	"github.com/zen-systems/triagegate/pkg/classify"
	"github.com/zen-systems/triagegate/pkg/escalation"
	"github.com/zen-systems/triagegate/pkg/hold"
	"github.com/zen-systems/triagegate/pkg/journal"
	"github.com/zen-systems/triagegate/pkg/kvstore"
	"github.com/zen-systems/triagegate/pkg/message"
	"github.com/zen-systems/triagegate/pkg/notify"
	"github.com/zen-systems/triagegate/pkg/router"
)

type serviceFixture struct {
	service    *Service
	classifier *classify.Static
	notifier   *notify.Memory
	approvals  *approval.Machine
	holds      *hold.Store
	scheduler  *Scheduler
}

func newServiceFixture(t *testing.T, rules []router.Rule, opts ...ServiceOption) *serviceFixture {
	t.Helper()

	classifier := &classify.Static{Result: &classify.Result{
		Category:   "billing",
		Confidence: 0.9,
		Reasoning:  "mentions an invoice",
	}}
	cache := router.NewDecisionCache(kvstore.NewMemory(), time.Minute)
	r := router.NewRouter(cache, router.NewRuleSet(nil, rules), classifier)

	notifier := notify.NewMemory()
	approvals := approval.NewMachine(approval.NewMemoryStore(), notifier,
		approval.WithTimeout(time.Hour))
	holds := hold.NewStore(kvstore.NewMemory())
	reminder := escalation.NewReminder(holds, approvals, notifier,
		escalation.WithDelay(time.Millisecond))

	j, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)
	scheduler := NewScheduler(j)

	return &serviceFixture{
		service:    NewService(r, cache, holds, approvals, reminder, scheduler, opts...),
		classifier: classifier,
		notifier:   notifier,
		approvals:  approvals,
		holds:      holds,
		scheduler:  scheduler,
	}
}

func TestInboundOpensApprovalForConsentDecision(t *testing.T) {
	f := newServiceFixture(t, nil)

	msg := message.New("conv-1", "msg-1", "pat@example.com", "my invoice is wrong")
	res, err := f.service.HandleInbound(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, router.RouteClassifier, res.Decision.Route)
	require.NotEmpty(t, res.ActionID)
	require.Len(t, f.notifier.Notices, 1)
	assert.Equal(t, res.ActionID, f.notifier.Notices[0].ActionID)

	// Expiry and reminder timers are both armed.
	pending, err := f.scheduler.Pending()
	require.NoError(t, err)
	kinds := map[TimerKind]int{}
	for _, tm := range pending {
		kinds[tm.Kind]++
		assert.Equal(t, res.ActionID, tm.ActionID)
	}
	assert.Equal(t, 1, kinds[TimerApprovalExpiry])
	assert.Equal(t, 1, kinds[TimerReminder])
}

func TestInboundNoRespondSkipsApproval(t *testing.T) {
	f := newServiceFixture(t, []router.Rule{
		{ID: "r-bounce", Priority: 1, Type: router.RuleTypeKeyword, Pattern: "undeliverable", Action: router.ActionNoRespond},
	})

	msg := message.New("conv-1", "msg-1", "mailer@example.com", "mail undeliverable")
	res, err := f.service.HandleInbound(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, router.RouteRule, res.Decision.Route)
	assert.Empty(t, res.ActionID)
	assert.Empty(t, f.notifier.Notices)

	pending, err := f.scheduler.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInboundReplayReturnsExistingApproval(t *testing.T) {
	f := newServiceFixture(t, nil)
	msg := message.New("conv-1", "msg-1", "pat@example.com", "my invoice is wrong")

	first, err := f.service.HandleInbound(context.Background(), msg)
	require.NoError(t, err)

	// Redelivery of the same message replays the cached decision. No
	// second approval is opened, no second notification goes out, and
	// no extra timers are armed.
	second, err := f.service.HandleInbound(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ActionID, second.ActionID)
	assert.Equal(t, 1, f.classifier.Calls)
	assert.Len(t, f.notifier.Notices, 1)

	pending, err := f.scheduler.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestInboundNewMessageInvalidatesPriorDecisions(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.service.HandleInbound(context.Background(),
		message.New("conv-1", "msg-1", "pat@example.com", "my invoice is wrong"))
	require.NoError(t, err)

	// A different message id is a new turn; the conversation's cached
	// decisions are dropped and the classifier runs again.
	res, err := f.service.HandleInbound(context.Background(),
		message.New("conv-1", "msg-2", "pat@example.com", "it is still wrong"))
	require.NoError(t, err)

	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, f.classifier.Calls)
}

func TestHandleEventApprovalDecision(t *testing.T) {
	f := newServiceFixture(t, nil)

	msg := message.New("conv-1", "msg-1", "pat@example.com", "my invoice is wrong")
	res, err := f.service.HandleInbound(context.Background(), msg)
	require.NoError(t, err)

	err = f.service.HandleEvent(context.Background(), Event{
		Type: EventApprovalDecision,
		Decision: &approval.DecisionEvent{
			ApprovalID: res.ActionID,
			Decision:   approval.StatusApproved,
			DecidedBy:  "alex",
		},
	})
	require.NoError(t, err)

	req, err := f.approvals.Get(context.Background(), res.ActionID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, req.Status)
}

func TestHandleEventDecisionForUnknownApprovalIsAcknowledged(t *testing.T) {
	f := newServiceFixture(t, nil)

	err := f.service.HandleEvent(context.Background(), Event{
		Type: EventApprovalDecision,
		Decision: &approval.DecisionEvent{
			ApprovalID: "no-such-action",
			Decision:   approval.StatusApproved,
		},
	})
	assert.NoError(t, err)
}

func TestHandleEventUnknownTypeIsAcknowledged(t *testing.T) {
	f := newServiceFixture(t, nil)
	err := f.service.HandleEvent(context.Background(), Event{Type: "typing_indicator"})
	assert.NoError(t, err)
}

func TestHandleEventHoldSetAndClear(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	err := f.service.HandleEvent(ctx, Event{
		Type: EventHoldSet,
		Hold: &HoldEvent{ConversationID: "conv-1", Until: time.Now().Add(time.Hour), Reason: "customer asked to wait"},
	})
	require.NoError(t, err)

	onHold, err := f.holds.IsOnHold(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, onHold)

	err = f.service.HandleEvent(ctx, Event{Type: EventHoldClear, Hold: &HoldEvent{ConversationID: "conv-1"}})
	require.NoError(t, err)

	onHold, err = f.holds.IsOnHold(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, onHold)
}

func TestReminderTimerPostsComment(t *testing.T) {
	f := newServiceFixture(t, nil)

	msg := message.New("conv-1", "msg-1", "pat@example.com", "my invoice is wrong")
	res, err := f.service.HandleInbound(context.Background(), msg)
	require.NoError(t, err)

	// The reminder delay in this fixture is one millisecond.
	time.Sleep(5 * time.Millisecond)
	f.scheduler.FireDue(context.Background())

	comments := f.notifier.Comments["conv-1"]
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], res.ActionID)
}

func TestExpiryTimerExpiresApproval(t *testing.T) {
	f := newServiceFixture(t, nil)

	msg := message.New("conv-1", "msg-1", "pat@example.com", "my invoice is wrong")
	res, err := f.service.HandleInbound(context.Background(), msg)
	require.NoError(t, err)

	// Pull the expiry forward so the poll sees it as due.
	pending, err := f.scheduler.Pending()
	require.NoError(t, err)
	for _, tm := range pending {
		if tm.Kind == TimerApprovalExpiry {
			require.NoError(t, f.scheduler.Cancel(tm.ID))
			tm.FireAt = time.Now().Add(-time.Second)
			_, err = f.scheduler.Schedule(tm)
			require.NoError(t, err)
		}
	}

	// The request deadline itself has not passed, so firing early is a
	// no-op and the approval stays pending.
	f.scheduler.FireDue(context.Background())
	req, err := f.approvals.Get(context.Background(), res.ActionID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, req.Status)
}

type fakeDraftChecker struct {
	mu     sync.Mutex
	exists bool
	calls  []string
}

func (f *fakeDraftChecker) DraftExists(_ context.Context, conversationID, draftID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, conversationID+"/"+draftID)
	return f.exists, nil
}

func TestDraftCheckFires(t *testing.T) {
	checker := &fakeDraftChecker{exists: false}
	f := newServiceFixture(t, nil,
		WithDraftChecker(checker),
		WithDraftTimeout(time.Millisecond))

	_, err := f.service.ScheduleDraftCheck("conv-1", "draft-9")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	f.scheduler.FireDue(context.Background())

	checker.mu.Lock()
	defer checker.mu.Unlock()
	require.Len(t, checker.calls, 1)
	assert.Equal(t, "conv-1/draft-9", checker.calls[0])
}
