package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/converso/flowengine/channel"
	"github.com/converso/flowengine/flow"
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence/memory"
	"github.com/stretchr/testify/require"
)

type stubChannel struct{}

func (stubChannel) Send(contactId string, content channel.Content) (*channel.SendResult, error) {
	return &channel.SendResult{MessageId: "m1", Status: "sent"}, nil
}

type stubWebhooks struct{}

func (stubWebhooks) Call(method string, url string, payload map[string]any) error {
	return nil
}

type dispatcherFixture struct {
	store      *memory.Storage
	dispatcher *Dispatcher
	wg         sync.WaitGroup
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{store: memory.NewStorage()}
	deps := flow.Dependencies{
		Definitions: f.store,
		Executions:  f.store,
		Logs:        f.store,
		Contacts:    f.store,
		Timers:      f.store,
		Channel:     stubChannel{},
		Webhooks:    stubWebhooks{},
		Now:         time.Now,
	}
	loader := flow.NewLoader(f.store)
	f.dispatcher = NewDispatcher(loader, deps, 4, 16, 1, &f.wg)
	f.dispatcher.Start()
	t.Cleanup(func() {
		f.dispatcher.Stop()
		f.wg.Wait()
	})

	require.NoError(t, f.store.SaveContact(&model.Contact{Id: "c1", Name: "Ana"}))
	return f
}

func (f *dispatcherFixture) publishFlow(t *testing.T, def *model.FlowDefinition) {
	t.Helper()
	def.Status = model.FLOW_STATUS_PUBLISHED
	def.Active = true
	require.NoError(t, f.store.SaveFlowDefinition(def))
}

func keywordFlow(id string) *model.FlowDefinition {
	return &model.FlowDefinition{
		Id:            id,
		Version:       1,
		TriggerType:   model.TRIGGER_KEYWORD,
		TriggerConfig: map[string]any{"keywords": []any{"oi"}},
		Nodes: []model.Node{
			{Id: "t1", Kind: model.TRIGGER_KEYWORD, Config: map[string]any{"keywords": []any{"oi"}}},
			{Id: "w1", Kind: model.ACTION_WAIT_REPLY, Config: map[string]any{}},
			{Id: "s1", Kind: model.ACTION_SEND_TEXT, Config: map[string]any{"message": "obrigado"}},
			{Id: "e1", Kind: model.ACTION_END},
		},
		Edges: []model.Edge{
			{SourceId: "t1", TargetId: "w1"},
			{SourceId: "w1", TargetId: "s1"},
			{SourceId: "s1", TargetId: "e1"},
		},
	}
}

func (f *dispatcherFixture) waitForActive(t *testing.T, flowId string, contactId string) *model.ExecutionContext {
	t.Helper()
	var execCtx *model.ExecutionContext
	require.Eventually(t, func() bool {
		var err error
		execCtx, err = f.store.GetActiveExecution(flowId, contactId)
		return err == nil && execCtx != nil
	}, 2*time.Second, 10*time.Millisecond)
	return execCtx
}

func TestKeywordTriggerStartsExecution(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publishFlow(t, keywordFlow("f1"))

	event := &model.InboundEvent{Type: model.EVENT_MESSAGE, ContactId: "c1", Text: "Oi pessoal"}
	require.NoError(t, f.dispatcher.StartOrRouteEvent(event))

	execCtx := f.waitForActive(t, "f1", "c1")
	require.Equal(t, model.EXECUTION_WAITING, execCtx.State)
	require.Equal(t, "w1", execCtx.CurrentNode)
}

func TestReTriggerWhileActiveIsNoOp(t *testing.T) {
	f := newDispatcherFixture(t)
	def := &model.FlowDefinition{
		Id:            "f1",
		Version:       1,
		TriggerType:   model.TRIGGER_KEYWORD,
		TriggerConfig: map[string]any{"keywords": []any{"oi"}},
		Nodes: []model.Node{
			{Id: "t1", Kind: model.TRIGGER_KEYWORD, Config: map[string]any{"keywords": []any{"oi"}}},
			{Id: "d1", Kind: model.ACTION_DELAY, Config: map[string]any{"amount": float64(1), "unit": "hours"}},
			{Id: "e1", Kind: model.ACTION_END},
		},
		Edges: []model.Edge{
			{SourceId: "t1", TargetId: "d1"},
			{SourceId: "d1", TargetId: "e1"},
		},
	}
	f.publishFlow(t, def)

	event := &model.InboundEvent{Type: model.EVENT_MESSAGE, ContactId: "c1", Text: "oi"}
	require.NoError(t, f.dispatcher.StartOrRouteEvent(event))
	first := f.waitForActive(t, "f1", "c1")
	require.Equal(t, model.SUSPEND_DELAY, first.Suspend)

	// suspended on a timer, not a reply: the same keyword matches the
	// trigger again and must be dropped, not start a second execution
	require.NoError(t, f.dispatcher.StartOrRouteEvent(event))
	time.Sleep(100 * time.Millisecond)
	current := f.waitForActive(t, "f1", "c1")
	require.Equal(t, first.Id, current.Id)
	require.Equal(t, model.EXECUTION_WAITING, current.State)
}

func TestDraftEditKeepsPublishedTriggering(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publishFlow(t, keywordFlow("f1"))

	draft := keywordFlow("f1")
	draft.Version = 2
	draft.Status = model.FLOW_STATUS_DRAFT
	require.NoError(t, f.store.SaveFlowDefinition(draft))

	// the draft is the latest version but the published one stays live
	event := &model.InboundEvent{Type: model.EVENT_MESSAGE, ContactId: "c1", Text: "oi"}
	require.NoError(t, f.dispatcher.StartOrRouteEvent(event))

	execCtx := f.waitForActive(t, "f1", "c1")
	require.Equal(t, 1, execCtx.FlowVersion)
	require.Equal(t, model.EXECUTION_WAITING, execCtx.State)
}

func TestStartTaskRacingSuspendResumesWait(t *testing.T) {
	f := newDispatcherFixture(t)
	def := keywordFlow("f1")
	f.publishFlow(t, def)

	// an execution already waiting at w1 when its keyword arrives again:
	// the event was matched as a trigger, but the partition worker must
	// route it to the wait instead of dropping it as a re-trigger
	execCtx := &model.ExecutionContext{
		Id:          "x9",
		FlowId:      "f1",
		FlowVersion: 1,
		ContactId:   "c1",
		CurrentNode: "w1",
		Variables:   map[string]string{},
		State:       model.EXECUTION_WAITING,
		Suspend:     model.SUSPEND_REPLY,
		StartedAt:   time.Now(),
	}
	require.NoError(t, f.store.SaveExecutionContext(execCtx))

	event := &model.InboundEvent{Type: model.EVENT_MESSAGE, ContactId: "c1", Text: "oi"}
	require.NoError(t, f.dispatcher.handleStart(startTask{def: def, event: event}))

	stored, err := f.store.GetExecutionContext("x9")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, stored.State)
	require.Equal(t, "oi", stored.Variables["reply"])
}

func TestReplyRoutingTakesPrecedence(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publishFlow(t, keywordFlow("f1"))

	start := &model.InboundEvent{Type: model.EVENT_MESSAGE, ContactId: "c1", Text: "oi"}
	require.NoError(t, f.dispatcher.StartOrRouteEvent(start))
	execCtx := f.waitForActive(t, "f1", "c1")
	require.Equal(t, model.EXECUTION_WAITING, execCtx.State)

	reply := &model.InboundEvent{Type: model.EVENT_MESSAGE, ContactId: "c1", Text: "qualquer coisa"}
	require.NoError(t, f.dispatcher.StartOrRouteEvent(reply))

	require.Eventually(t, func() bool {
		stored, err := f.store.GetExecutionContext(execCtx.Id)
		return err == nil && stored != nil && stored.State == model.EXECUTION_COMPLETED
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookTokenVerification(t *testing.T) {
	f := newDispatcherFixture(t)
	def := &model.FlowDefinition{
		Id:           "hooked",
		Version:      1,
		TriggerType:  model.TRIGGER_WEBHOOK,
		WebhookToken: "secret-token",
		Nodes: []model.Node{
			{Id: "t1", Kind: model.TRIGGER_WEBHOOK},
			{Id: "e1", Kind: model.ACTION_END},
		},
		Edges: []model.Edge{
			{SourceId: "t1", TargetId: "e1"},
		},
	}
	f.publishFlow(t, def)

	bad := &model.InboundEvent{Type: model.EVENT_WEBHOOK, ContactId: "c1", FlowId: "hooked", Token: "wrong"}
	require.Error(t, f.dispatcher.StartOrRouteEvent(bad))

	good := &model.InboundEvent{Type: model.EVENT_WEBHOOK, ContactId: "c1", FlowId: "hooked", Token: "secret-token"}
	require.NoError(t, f.dispatcher.StartOrRouteEvent(good))
	require.Eventually(t, func() bool {
		def, err := f.store.GetFlowDefinition("hooked", 1)
		return err == nil && def.TotalExecutions == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelExecution(t *testing.T) {
	f := newDispatcherFixture(t)
	f.publishFlow(t, keywordFlow("f1"))

	event := &model.InboundEvent{Type: model.EVENT_MESSAGE, ContactId: "c1", Text: "oi"}
	require.NoError(t, f.dispatcher.StartOrRouteEvent(event))
	execCtx := f.waitForActive(t, "f1", "c1")

	require.NoError(t, f.dispatcher.CancelExecution(execCtx.Id, "contact opted out"))
	require.Eventually(t, func() bool {
		stored, err := f.store.GetExecutionContext(execCtx.Id)
		return err == nil && stored != nil && stored.State == model.EXECUTION_CANCELLED
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := f.store.GetExecutionContext(execCtx.Id)
	require.NoError(t, err)
	require.Equal(t, "contact opted out", stored.LastError)

	// cancelling a finished execution is rejected
	require.Error(t, f.dispatcher.CancelExecution(execCtx.Id, "again"))
}

func TestMatchKeywords(t *testing.T) {
	config := map[string]any{"keywords": []any{"oi", "menu"}}

	require.True(t, matchKeywords(config, "OI"))
	require.True(t, matchKeywords(config, "oi pessoal"))
	require.True(t, matchKeywords(config, "quero o MENU por favor"))
	require.False(t, matchKeywords(config, "tchau"))

	exact := map[string]any{"keywords": []any{"oi"}, "exactMatch": true}
	require.True(t, matchKeywords(exact, "oi"))
	require.True(t, matchKeywords(exact, "  Oi "))
	require.False(t, matchKeywords(exact, "oi pessoal"))
}

func TestEventMatchesWait(t *testing.T) {
	waiting := &model.ExecutionContext{
		Id:      "x1",
		Suspend: model.SUSPEND_REPLY,
		State:   model.EXECUTION_WAITING,
	}
	require.True(t, eventMatchesWait(waiting, &model.InboundEvent{Type: model.EVENT_MESSAGE, Text: "oi"}))
	require.True(t, eventMatchesWait(waiting, &model.InboundEvent{Type: model.EVENT_BUTTON, ButtonId: "b1"}))

	waiting.AwaitedButtons = []string{"yes", "no"}
	require.True(t, eventMatchesWait(waiting, &model.InboundEvent{Type: model.EVENT_BUTTON, ButtonId: "yes"}))
	require.False(t, eventMatchesWait(waiting, &model.InboundEvent{Type: model.EVENT_BUTTON, ButtonId: "maybe"}))

	delayed := &model.ExecutionContext{Id: "x2", Suspend: model.SUSPEND_DELAY}
	require.False(t, eventMatchesWait(delayed, &model.InboundEvent{Type: model.EVENT_MESSAGE, Text: "oi"}))
}
