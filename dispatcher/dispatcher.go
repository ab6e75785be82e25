package dispatcher

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/converso/flowengine/flow"
	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence"
	"github.com/converso/flowengine/registry"
	"github.com/converso/flowengine/util"
)

func defaultNow() time.Time {
	return time.Now()
}

type startTask struct {
	def   *model.FlowDefinition
	event *model.InboundEvent
}

type resumeTask struct {
	executionId string
	event       *model.InboundEvent
}

type wakeTask struct {
	wake *model.WakeUp
}

type cancelTask struct {
	executionId string
	reason      string
}

// Dispatcher routes inbound events to flows: it matches triggers,
// resumes waiting executions, and replays due wake-ups from the delay
// queue. Everything touching one (flow, contact) key runs on the same
// serial partition worker, so an execution context is never advanced by
// two goroutines at once.
type Dispatcher struct {
	definitions persistence.MetadataStorage
	executions  persistence.ExecutionStorage
	timers      persistence.DelayQueue
	loader      *flow.Loader
	machineDeps flow.Dependencies

	workers      []*util.Worker
	wakeupPoller *util.TickWorker
	wg           *sync.WaitGroup
	wakeEncDec   util.EncoderDecoder[model.WakeUp]
}

func NewDispatcher(loader *flow.Loader, deps flow.Dependencies, partitions int, capacity int, delayPollSeconds int, wg *sync.WaitGroup) *Dispatcher {
	if partitions <= 0 {
		partitions = 1
	}
	d := &Dispatcher{
		definitions: deps.Definitions,
		executions:  deps.Executions,
		timers:      deps.Timers,
		loader:      loader,
		machineDeps: deps,
		wg:          wg,
		wakeEncDec:  util.NewJsonEncoderDecoder[model.WakeUp](),
	}
	d.workers = make([]*util.Worker, partitions)
	for i := 0; i < partitions; i++ {
		d.workers[i] = util.NewWorker("executor-"+strconv.Itoa(i), wg, d.handleTask, capacity)
	}
	d.wakeupPoller = util.NewTickWorker("wakeup-poller", delayPollSeconds, d.pollWakeups, wg)
	return d
}

func (d *Dispatcher) Start() {
	for _, w := range d.workers {
		w.Start()
	}
	d.wakeupPoller.Start()
}

func (d *Dispatcher) Stop() {
	d.wakeupPoller.Stop()
	for _, w := range d.workers {
		w.Stop()
	}
}

// StartOrRouteEvent is the single entry point for inbound events. Reply
// routing takes precedence over trigger matching: an execution waiting
// on this contact consumes the event before any new execution starts.
func (d *Dispatcher) StartOrRouteEvent(event *model.InboundEvent) error {
	if event.Type == model.EVENT_WEBHOOK {
		return d.routeWebhook(event)
	}

	waiting, err := d.executions.GetWaitingExecutions(event.ContactId)
	if err != nil {
		return err
	}
	for _, execCtx := range waiting {
		if eventMatchesWait(execCtx, event) {
			d.submit(execCtx.FlowId, execCtx.ContactId, resumeTask{executionId: execCtx.Id, event: event})
			return nil
		}
	}

	flows, err := d.definitions.GetActiveFlows()
	if err != nil {
		return err
	}
	matched := false
	for _, def := range flows {
		ok, err := d.triggerMatches(def, event)
		if err != nil {
			logger.Error("error matching trigger", zap.String("flowId", def.Id), zap.Error(err))
			continue
		}
		if ok {
			matched = true
			d.submit(def.Id, event.ContactId, startTask{def: def, event: event})
		}
	}
	if !matched {
		logger.Debug("no flow matched inbound event", zap.String("contactId", event.ContactId), zap.String("type", string(event.Type)))
	}
	return nil
}

func (d *Dispatcher) routeWebhook(event *model.InboundEvent) error {
	def, err := d.definitions.GetPublishedFlowDefinition(event.FlowId)
	if err != nil {
		return err
	}
	if def == nil || !def.Active {
		return fmt.Errorf("flow %s is not accepting webhooks", event.FlowId)
	}
	if def.TriggerType != model.TRIGGER_WEBHOOK {
		return fmt.Errorf("flow %s has no webhook trigger", event.FlowId)
	}
	if def.WebhookToken == "" || def.WebhookToken != event.Token {
		return fmt.Errorf("webhook token mismatch for flow %s", event.FlowId)
	}
	d.submit(def.Id, event.ContactId, startTask{def: def, event: event})
	return nil
}

// CancelExecution flips the stored execution to cancelled between
// steps; the interpreter checks for it before each node visit.
func (d *Dispatcher) CancelExecution(executionId string, reason string) error {
	execCtx, err := d.executions.GetExecutionContext(executionId)
	if err != nil {
		return err
	}
	if execCtx == nil {
		return fmt.Errorf("execution %s not found", executionId)
	}
	if execCtx.State.Terminal() {
		return fmt.Errorf("execution %s already %s", executionId, execCtx.State)
	}
	d.submit(execCtx.FlowId, execCtx.ContactId, cancelTask{executionId: executionId, reason: reason})
	return nil
}

// eventMatchesWait reports whether an inbound event satisfies the
// suspension of a waiting execution. A button reply must be one of the
// buttons that execution actually sent.
func eventMatchesWait(execCtx *model.ExecutionContext, event *model.InboundEvent) bool {
	if execCtx.Suspend != model.SUSPEND_REPLY {
		return false
	}
	switch event.Type {
	case model.EVENT_MESSAGE:
		return true
	case model.EVENT_BUTTON:
		if len(execCtx.AwaitedButtons) == 0 {
			return true
		}
		for _, id := range execCtx.AwaitedButtons {
			if id == event.ButtonId {
				return true
			}
		}
	}
	return false
}

func (d *Dispatcher) triggerMatches(def *model.FlowDefinition, event *model.InboundEvent) (bool, error) {
	switch def.TriggerType {
	case model.TRIGGER_KEYWORD:
		if event.Type != model.EVENT_MESSAGE {
			return false, nil
		}
		return matchKeywords(def.TriggerConfig, event.Text), nil
	case model.TRIGGER_MESSAGE:
		return event.Type == model.EVENT_MESSAGE, nil
	case model.TRIGGER_BUTTON_CLICK:
		if event.Type != model.EVENT_BUTTON || event.ButtonId == "" {
			return false, nil
		}
		return d.definitions.IsIssuedButton(def.Id, event.ButtonId)
	}
	return false, nil
}

// submit routes a task to the serial worker owning the (flow, contact)
// key.
func (d *Dispatcher) submit(flowId string, contactId string, task util.Task) {
	partition := int(murmur3.Sum64([]byte(flowId+"|"+contactId)) % uint64(len(d.workers)))
	d.workers[partition].Sender() <- task
}

func (d *Dispatcher) handleTask(task util.Task) error {
	switch t := task.(type) {
	case startTask:
		return d.handleStart(t)
	case resumeTask:
		return d.handleResume(t)
	case wakeTask:
		return d.handleWake(t)
	case cancelTask:
		return d.handleCancel(t)
	}
	return fmt.Errorf("unknown dispatcher task %T", task)
}

func (d *Dispatcher) handleStart(t startTask) error {
	// re-check the wait state on the serial worker: the event may have
	// been matched as a trigger while an earlier task for this key was
	// still suspending the execution
	waiting, err := d.executions.GetWaitingExecutions(t.event.ContactId)
	if err != nil {
		return err
	}
	for _, execCtx := range waiting {
		if execCtx.FlowId == t.def.Id && eventMatchesWait(execCtx, t.event) {
			return d.handleResume(resumeTask{executionId: execCtx.Id, event: t.event})
		}
	}

	existing, err := d.executions.GetActiveExecution(t.def.Id, t.event.ContactId)
	if err != nil {
		return err
	}
	if existing != nil && !existing.State.Terminal() {
		// strict no-op: one execution per (flow, contact) at a time
		logger.Info("re-trigger ignored, execution active",
			zap.String("flowId", t.def.Id),
			zap.String("contactId", t.event.ContactId),
			zap.String("executionId", existing.Id))
		return nil
	}

	graph, err := d.loader.Load(t.def.Id, t.def.Version)
	if err != nil {
		return err
	}
	entry, ok := entryForEvent(graph, t.event)
	if !ok {
		return fmt.Errorf("flow %s has no trigger for event type %s", t.def.Id, t.event.Type)
	}

	contact, err := d.machineDeps.Contacts.GetContact(t.event.ContactId)
	if err != nil {
		return err
	}

	now := d.machineDeps.Now
	if now == nil {
		now = defaultNow
	}
	execCtx := &model.ExecutionContext{
		Id:          uuid.New().String(),
		FlowId:      t.def.Id,
		FlowVersion: t.def.Version,
		ContactId:   t.event.ContactId,
		CurrentNode: entry.Id,
		Variables:   flow.SeedVariables(contact, t.event, t.def.TriggerConfig),
		TriggerData: triggerData(t.event),
		Suspend:     model.SUSPEND_NONE,
		State:       model.EXECUTION_RUNNING,
		StartedAt:   now(),
	}
	if err := d.executions.SaveExecutionContext(execCtx); err != nil {
		return err
	}
	if err := d.machineDeps.Contacts.SetActiveExecution(t.event.ContactId, execCtx.Id); err != nil {
		logger.Error("error setting contact execution pointer", zap.String("contactId", t.event.ContactId), zap.Error(err))
	}
	logger.Info("execution started",
		zap.String("flowId", t.def.Id),
		zap.String("contactId", t.event.ContactId),
		zap.String("executionId", execCtx.Id))
	return flow.NewMachine(graph, execCtx, d.machineDeps).Run()
}

func (d *Dispatcher) handleResume(t resumeTask) error {
	execCtx, err := d.executions.GetExecutionContext(t.executionId)
	if err != nil {
		return err
	}
	if execCtx == nil {
		return fmt.Errorf("execution %s not found", t.executionId)
	}
	graph, err := d.loader.Load(execCtx.FlowId, execCtx.FlowVersion)
	if err != nil {
		return err
	}
	return flow.NewMachine(graph, execCtx, d.machineDeps).ResumeReply(t.event)
}

func (d *Dispatcher) handleWake(t wakeTask) error {
	execCtx, err := d.executions.GetExecutionContext(t.wake.ExecutionId)
	if err != nil {
		return err
	}
	if execCtx == nil {
		// execution evaporated; drop the stale wakeup
		return nil
	}
	graph, err := d.loader.Load(execCtx.FlowId, execCtx.FlowVersion)
	if err != nil {
		return err
	}
	return flow.NewMachine(graph, execCtx, d.machineDeps).ResumeTimer(t.wake)
}

func (d *Dispatcher) handleCancel(t cancelTask) error {
	execCtx, err := d.executions.GetExecutionContext(t.executionId)
	if err != nil {
		return err
	}
	if execCtx == nil || execCtx.State.Terminal() {
		return nil
	}
	now := d.machineDeps.Now
	if now == nil {
		now = defaultNow
	}
	completedAt := now()
	execCtx.State = model.EXECUTION_CANCELLED
	execCtx.Suspend = model.SUSPEND_NONE
	execCtx.WakeAt = 0
	execCtx.LastError = t.reason
	execCtx.CompletedAt = &completedAt
	entry := &model.ExecutionLogEntry{
		ExecutionId: execCtx.Id,
		NodeId:      execCtx.CurrentNode,
		Sequence:    execCtx.Sequence,
		Status:      model.LOG_STATUS_SKIPPED,
		Error:       t.reason,
		ExecutedAt:  completedAt,
	}
	execCtx.Sequence++
	if err := d.executions.SaveExecutionContext(execCtx); err != nil {
		return err
	}
	if err := d.machineDeps.Logs.Append(entry); err != nil {
		logger.Error("error logging cancellation", zap.String("executionId", execCtx.Id), zap.Error(err))
	}
	if err := d.definitions.IncrementExecutionCounters(execCtx.FlowId, model.EXECUTION_CANCELLED); err != nil {
		logger.Error("error updating execution counters", zap.String("flowId", execCtx.FlowId), zap.Error(err))
	}
	if err := d.machineDeps.Contacts.SetActiveExecution(execCtx.ContactId, ""); err != nil {
		logger.Error("error clearing contact execution pointer", zap.String("contactId", execCtx.ContactId), zap.Error(err))
	}
	logger.Info("execution cancelled", zap.String("executionId", execCtx.Id), zap.String("reason", t.reason))
	return nil
}

// pollWakeups drains due wake-ups from the durable delay queue and
// routes each to its partition.
func (d *Dispatcher) pollWakeups() {
	messages, err := d.timers.Pop(persistence.WAKEUP_QUEUE)
	if err != nil {
		logger.Error("error polling wakeup queue", zap.Error(err))
		return
	}
	for _, msg := range messages {
		wake, err := d.wakeEncDec.Decode([]byte(msg))
		if err != nil {
			logger.Error("malformed wakeup message dropped", zap.Error(err))
			continue
		}
		d.submit(wake.FlowId, wake.ContactId, wakeTask{wake: wake})
	}
}

// entryForEvent picks the trigger node matching the inbound event's
// type among the graph's entry nodes.
func entryForEvent(graph *flow.Graph, event *model.InboundEvent) (model.Node, bool) {
	entries := graph.Entry()
	for _, node := range entries {
		switch event.Type {
		case model.EVENT_MESSAGE:
			if node.Kind == model.TRIGGER_KEYWORD || node.Kind == model.TRIGGER_MESSAGE {
				return node, true
			}
		case model.EVENT_BUTTON:
			if node.Kind == model.TRIGGER_BUTTON_CLICK {
				return node, true
			}
		case model.EVENT_WEBHOOK:
			if node.Kind == model.TRIGGER_WEBHOOK {
				return node, true
			}
		}
	}
	if len(entries) == 1 {
		return entries[0], true
	}
	return model.Node{}, false
}

func matchKeywords(triggerConfig map[string]any, text string) bool {
	keywords := registry.StringList(triggerConfig, "keywords")
	if len(keywords) == 0 {
		return false
	}
	exact := registry.Bool(triggerConfig, "exactMatch", false)
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if exact {
			if normalized == k {
				return true
			}
		} else if strings.Contains(normalized, k) {
			return true
		}
	}
	return false
}

func triggerData(event *model.InboundEvent) map[string]any {
	switch event.Type {
	case model.EVENT_WEBHOOK:
		return event.Payload
	case model.EVENT_BUTTON:
		return map[string]any{"buttonId": event.ButtonId}
	case model.EVENT_MESSAGE:
		return map[string]any{"text": event.Text}
	}
	return nil
}
