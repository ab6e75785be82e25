package flow

import (
	"fmt"
	"time"

	"github.com/converso/flowengine/channel"
	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence"
	"github.com/converso/flowengine/registry"
	"github.com/converso/flowengine/util"
	"go.uber.org/zap"
)

// Dependencies are the collaborators one machine needs to advance an
// execution. Now and MaxSteps are overridable for tests.
type Dependencies struct {
	Definitions persistence.MetadataStorage
	Executions  persistence.ExecutionStorage
	Logs        persistence.LogSink
	Contacts    persistence.ContactStorage
	Timers      persistence.DelayQueue
	Channel     channel.Channel
	Webhooks    channel.WebhookCaller
	Now         func() time.Time
	MaxSteps    int
}

// Machine walks one execution through its graph snapshot, one node
// visit at a time, appending exactly one log entry per visit. It is
// only ever driven from the serial worker owning the execution's
// (flow, contact) key.
type Machine struct {
	graph      *Graph
	ctx        *model.ExecutionContext
	deps       Dependencies
	wakeEncDec util.EncoderDecoder[model.WakeUp]
}

func NewMachine(graph *Graph, ctx *model.ExecutionContext, deps Dependencies) *Machine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MaxSteps <= 0 {
		deps.MaxSteps = 256
	}
	return &Machine{
		graph:      graph,
		ctx:        ctx,
		deps:       deps,
		wakeEncDec: util.NewJsonEncoderDecoder[model.WakeUp](),
	}
}

func (m *Machine) Context() *model.ExecutionContext {
	return m.ctx
}

// Run advances the execution synchronously until it suspends, reaches a
// terminal state, or exhausts the defensive step budget.
func (m *Machine) Run() error {
	steps := 0
	for m.ctx.State == model.EXECUTION_RUNNING {
		if m.cancelled() {
			logger.Info("execution cancelled", zap.String("executionId", m.ctx.Id))
			return nil
		}
		steps++
		if steps > m.deps.MaxSteps {
			fault := InterpreterFault{Message: fmt.Sprintf("step budget %d exceeded in one pass", m.deps.MaxSteps)}
			m.appendLog(m.ctx.CurrentNode, nil, nil, model.LOG_STATUS_ERROR, fault.Error())
			return m.markFailed(fault)
		}
		node, ok := m.graph.Node(m.ctx.CurrentNode)
		if !ok {
			fault := InterpreterFault{Message: fmt.Sprintf("node %s not in graph", m.ctx.CurrentNode)}
			m.appendLog(m.ctx.CurrentNode, nil, nil, model.LOG_STATUS_ERROR, fault.Error())
			return m.markFailed(fault)
		}
		if err := m.step(node); err != nil {
			return err
		}
	}
	return nil
}

// step executes one node visit. Every branch appends its log entry
// before any state transition.
func (m *Machine) step(node model.Node) error {
	switch node.Kind {
	case model.TRIGGER_BUTTON_CLICK, model.TRIGGER_KEYWORD, model.TRIGGER_WEBHOOK, model.TRIGGER_MESSAGE:
		// triggers are entry points only; execution is a pass-through
		m.appendLog(node.Id, m.ctx.TriggerData, nil, model.LOG_STATUS_SUCCESS, "")
		return m.advance(model.HANDLE_DEFAULT)

	case model.CONDITION_TAG, model.CONDITION_FIELD, model.CONDITION_TIME, model.CONDITION_DAY:
		contact, err := m.deps.Contacts.GetContact(m.ctx.ContactId)
		if err != nil {
			m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
			return m.markFailed(InterpreterFault{Message: err.Error()})
		}
		result, err := EvalCondition(node, contact, m.deps.Now())
		if err != nil {
			m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
			return m.markFailed(err)
		}
		m.appendLog(node.Id, node.Config, map[string]any{"result": result}, model.LOG_STATUS_SUCCESS, "")
		if result {
			return m.advance(model.HANDLE_TRUE)
		}
		return m.advance(model.HANDLE_FALSE)

	case model.ACTION_SEND_TEXT, model.ACTION_SEND_TEMPLATE, model.ACTION_SEND_BUTTONS,
		model.ACTION_SEND_LIST, model.ACTION_SEND_MEDIA:
		return m.stepSend(node)

	case model.ACTION_WAIT_REPLY:
		return m.stepWaitReply(node)

	case model.ACTION_DELAY:
		return m.stepDelay(node)

	case model.ACTION_ADD_TAG, model.ACTION_REMOVE_TAG:
		tag := registry.String(node.Config, "tag")
		if tag == "" {
			err := ConfigError{NodeId: node.Id, Message: "tag missing"}
			m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
			return m.markFailed(err)
		}
		var err error
		if node.Kind == model.ACTION_ADD_TAG {
			err = m.deps.Contacts.AddTag(m.ctx.ContactId, tag)
		} else {
			err = m.deps.Contacts.RemoveTag(m.ctx.ContactId, tag)
		}
		if err != nil {
			m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
			return m.markFailed(InterpreterFault{Message: err.Error()})
		}
		m.appendLog(node.Id, node.Config, map[string]any{"tag": tag}, model.LOG_STATUS_SUCCESS, "")
		return m.advance(model.HANDLE_DEFAULT)

	case model.ACTION_UPDATE_FIELD:
		field := registry.String(node.Config, "field")
		if field == "" {
			err := ConfigError{NodeId: node.Id, Message: "field missing"}
			m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
			return m.markFailed(err)
		}
		value := Render(registry.String(node.Config, "value"), m.ctx.Variables)
		if err := m.deps.Contacts.UpdateField(m.ctx.ContactId, field, value); err != nil {
			m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
			return m.markFailed(InterpreterFault{Message: err.Error()})
		}
		m.ctx.Variables[field] = value
		m.appendLog(node.Id, node.Config, map[string]any{"field": field, "value": value}, model.LOG_STATUS_SUCCESS, "")
		return m.advance(model.HANDLE_DEFAULT)

	case model.ACTION_WEBHOOK:
		return m.stepWebhook(node)

	case model.ACTION_TRANSFER_HUMAN:
		if err := m.deps.Contacts.MarkNeedsHuman(m.ctx.ContactId); err != nil {
			m.appendLog(node.Id, nil, nil, model.LOG_STATUS_ERROR, err.Error())
			return m.markFailed(InterpreterFault{Message: err.Error()})
		}
		m.appendLog(node.Id, nil, map[string]any{"transferred": true}, model.LOG_STATUS_SUCCESS, "")
		return m.markCompleted()

	case model.ACTION_END:
		m.appendLog(node.Id, nil, nil, model.LOG_STATUS_SUCCESS, "")
		return m.markCompleted()
	}

	err := InterpreterFault{Message: fmt.Sprintf("unknown node kind %s", node.Kind)}
	m.appendLog(node.Id, nil, nil, model.LOG_STATUS_ERROR, err.Error())
	return m.markFailed(err)
}

func (m *Machine) stepSend(node model.Node) error {
	content, err := m.buildContent(node)
	if err != nil {
		m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
		return m.markFailed(err)
	}
	input := map[string]any{"content": content}
	result, err := m.deps.Channel.Send(m.ctx.ContactId, content)
	if err != nil {
		if channel.IsRetryable(err) {
			// delivery failure does not halt the flow; redelivery is
			// the channel's concern
			m.appendLog(node.Id, input, nil, model.LOG_STATUS_ERROR, err.Error())
			logger.Warn("send failed, advancing", zap.String("executionId", m.ctx.Id), zap.String("nodeId", node.Id), zap.Error(err))
			return m.advance(model.HANDLE_DEFAULT)
		}
		m.appendLog(node.Id, input, nil, model.LOG_STATUS_ERROR, err.Error())
		return m.markFailed(err)
	}
	if node.Kind == model.ACTION_SEND_BUTTONS {
		ids := make([]string, 0, len(content.Buttons))
		for _, b := range content.Buttons {
			ids = append(ids, b.Id)
		}
		m.ctx.AwaitedButtons = ids
		if err := m.deps.Definitions.RecordIssuedButtons(m.ctx.FlowId, ids); err != nil {
			logger.Error("error recording issued buttons", zap.String("flowId", m.ctx.FlowId), zap.Error(err))
		}
	}
	m.appendLog(node.Id, input, map[string]any{"messageId": result.MessageId, "status": result.Status}, model.LOG_STATUS_SUCCESS, "")
	return m.advance(model.HANDLE_DEFAULT)
}

func (m *Machine) buildContent(node model.Node) (channel.Content, error) {
	vars := m.ctx.Variables
	switch node.Kind {
	case model.ACTION_SEND_TEXT:
		message := registry.String(node.Config, "message")
		if message == "" {
			return channel.Content{}, ConfigError{NodeId: node.Id, Message: "message missing"}
		}
		return channel.Content{Kind: channel.CONTENT_TEXT, Text: Render(message, vars)}, nil
	case model.ACTION_SEND_TEMPLATE:
		name := registry.String(node.Config, "templateName")
		if name == "" {
			return channel.Content{}, ConfigError{NodeId: node.Id, Message: "templateName missing"}
		}
		params := make(map[string]string)
		if raw, ok := node.Config["params"].(map[string]any); ok {
			for k, v := range raw {
				params[k] = Render(fmt.Sprintf("%v", v), vars)
			}
		}
		return channel.Content{Kind: channel.CONTENT_TEMPLATE, TemplateName: name, Params: params}, nil
	case model.ACTION_SEND_BUTTONS:
		body := registry.String(node.Config, "body")
		raw := registry.List(node.Config, "buttons")
		if body == "" || len(raw) == 0 {
			return channel.Content{}, ConfigError{NodeId: node.Id, Message: "body or buttons missing"}
		}
		buttons := make([]channel.Button, 0, len(raw))
		for _, b := range raw {
			bm, ok := b.(map[string]any)
			if !ok {
				return channel.Content{}, ConfigError{NodeId: node.Id, Message: "malformed button"}
			}
			buttons = append(buttons, channel.Button{
				Id:   registry.String(bm, "id"),
				Text: Render(registry.String(bm, "text"), vars),
			})
		}
		return channel.Content{Kind: channel.CONTENT_BUTTONS, Text: Render(body, vars), Buttons: buttons}, nil
	case model.ACTION_SEND_LIST:
		body := registry.String(node.Config, "body")
		sections := registry.List(node.Config, "sections")
		if body == "" || len(sections) == 0 {
			return channel.Content{}, ConfigError{NodeId: node.Id, Message: "body or sections missing"}
		}
		return channel.Content{Kind: channel.CONTENT_LIST, Text: Render(body, vars), Sections: sections}, nil
	case model.ACTION_SEND_MEDIA:
		mediaUrl := registry.String(node.Config, "mediaUrl")
		if mediaUrl == "" {
			return channel.Content{}, ConfigError{NodeId: node.Id, Message: "mediaUrl missing"}
		}
		return channel.Content{
			Kind:      channel.CONTENT_MEDIA,
			MediaUrl:  mediaUrl,
			MediaType: registry.String(node.Config, "mediaType"),
			Caption:   Render(registry.String(node.Config, "caption"), vars),
		}, nil
	}
	return channel.Content{}, ConfigError{NodeId: node.Id, Message: "not a message node"}
}

func (m *Machine) stepWaitReply(node model.Node) error {
	m.appendLog(node.Id, node.Config, map[string]any{"waiting": string(model.SUSPEND_REPLY)}, model.LOG_STATUS_SUCCESS, "")
	m.ctx.Suspend = model.SUSPEND_REPLY
	m.ctx.State = model.EXECUTION_WAITING
	m.ctx.WakeAt = 0
	if minutes, ok := registry.Int(node.Config, "timeoutMinutes"); ok && minutes >= 1 {
		timeout := time.Duration(minutes) * time.Minute
		m.ctx.WakeAt = m.deps.Now().Add(timeout).UnixMilli()
		m.scheduleWake(node.Id, timeout, model.SUSPEND_REPLY)
	}
	return m.save()
}

func (m *Machine) stepDelay(node model.Node) error {
	amount, ok := registry.Int(node.Config, "amount")
	unit := registry.String(node.Config, "unit")
	if !ok || amount < 1 || unit == "" {
		err := ConfigError{NodeId: node.Id, Message: "amount or unit missing"}
		m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
		return m.markFailed(err)
	}
	var delay time.Duration
	switch unit {
	case "minutes":
		delay = time.Duration(amount) * time.Minute
	case "hours":
		delay = time.Duration(amount) * time.Hour
	case "days":
		delay = time.Duration(amount) * 24 * time.Hour
	default:
		err := ConfigError{NodeId: node.Id, Message: "unit " + unit + " not recognized"}
		m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
		return m.markFailed(err)
	}
	wakeAt := m.deps.Now().Add(delay)
	m.appendLog(node.Id, node.Config, map[string]any{"wakeAt": wakeAt.UnixMilli()}, model.LOG_STATUS_SUCCESS, "")
	m.ctx.Suspend = model.SUSPEND_DELAY
	m.ctx.State = model.EXECUTION_WAITING
	m.ctx.WakeAt = wakeAt.UnixMilli()
	m.scheduleWake(node.Id, delay, model.SUSPEND_DELAY)
	return m.save()
}

func (m *Machine) stepWebhook(node model.Node) error {
	target := Render(registry.String(node.Config, "url"), m.ctx.Variables)
	if target == "" {
		err := ConfigError{NodeId: node.Id, Message: "url missing"}
		m.appendLog(node.Id, node.Config, nil, model.LOG_STATUS_ERROR, err.Error())
		return m.markFailed(err)
	}
	payload := make(map[string]any, len(m.ctx.Variables)+3)
	for k, v := range m.ctx.Variables {
		payload[k] = v
	}
	payload["executionId"] = m.ctx.Id
	payload["flowId"] = m.ctx.FlowId
	payload["contactId"] = m.ctx.ContactId
	input := map[string]any{"url": target, "method": registry.String(node.Config, "method")}
	if err := m.deps.Webhooks.Call(registry.String(node.Config, "method"), target, payload); err != nil {
		// best-effort fire: log the failure on this node and advance
		m.appendLog(node.Id, input, nil, model.LOG_STATUS_ERROR, err.Error())
		logger.Warn("webhook call failed, advancing", zap.String("executionId", m.ctx.Id), zap.String("nodeId", node.Id), zap.Error(err))
		return m.advance(model.HANDLE_DEFAULT)
	}
	m.appendLog(node.Id, input, map[string]any{"delivered": true}, model.LOG_STATUS_SUCCESS, "")
	return m.advance(model.HANDLE_DEFAULT)
}

// ResumeReply continues an execution suspended at action_wait_reply
// with the awaited inbound event. Calling it on an execution that is
// not waiting for a reply is a no-op.
func (m *Machine) ResumeReply(event *model.InboundEvent) error {
	if m.ctx.State != model.EXECUTION_WAITING || m.ctx.Suspend != model.SUSPEND_REPLY {
		return nil
	}
	if event.Text != "" {
		m.ctx.Variables["reply"] = event.Text
	}
	if event.ButtonId != "" {
		m.ctx.Variables["button"] = event.ButtonId
	}
	m.ctx.Suspend = model.SUSPEND_NONE
	m.ctx.WakeAt = 0
	m.ctx.AwaitedButtons = nil
	m.ctx.State = model.EXECUTION_RUNNING
	if err := m.advance(model.HANDLE_DEFAULT); err != nil {
		return err
	}
	return m.Run()
}

// ResumeTimer continues an execution whose persisted wake time has
// passed. Firing before the wake time, or after the execution already
// moved on, is a no-op.
func (m *Machine) ResumeTimer(wake *model.WakeUp) error {
	if m.ctx.State != model.EXECUTION_WAITING || m.ctx.Suspend != wake.Reason {
		return nil
	}
	if wake.NodeId != m.ctx.CurrentNode {
		return nil
	}
	if m.ctx.WakeAt == 0 || m.deps.Now().UnixMilli() < m.ctx.WakeAt {
		return nil
	}
	switch wake.Reason {
	case model.SUSPEND_DELAY:
		m.ctx.Suspend = model.SUSPEND_NONE
		m.ctx.WakeAt = 0
		m.ctx.State = model.EXECUTION_RUNNING
		if err := m.advance(model.HANDLE_DEFAULT); err != nil {
			return err
		}
		return m.Run()
	case model.SUSPEND_REPLY:
		// wait timeout: resume along the timeout edge; a wait node
		// without one keeps waiting for the reply
		if _, ok := m.graph.Outgoing(m.ctx.CurrentNode, model.HANDLE_TIMEOUT); !ok {
			return nil
		}
		m.ctx.Suspend = model.SUSPEND_NONE
		m.ctx.WakeAt = 0
		m.ctx.AwaitedButtons = nil
		m.ctx.State = model.EXECUTION_RUNNING
		if err := m.advance(model.HANDLE_TIMEOUT); err != nil {
			return err
		}
		return m.Run()
	}
	return nil
}

func (m *Machine) advance(handle string) error {
	edge, ok := m.graph.Outgoing(m.ctx.CurrentNode, handle)
	if !ok {
		// graph exhausted
		return m.markCompleted()
	}
	m.ctx.CurrentNode = edge.TargetId
	return m.save()
}

func (m *Machine) scheduleWake(nodeId string, delay time.Duration, reason model.SuspendKind) {
	wake := model.WakeUp{
		ExecutionId: m.ctx.Id,
		FlowId:      m.ctx.FlowId,
		ContactId:   m.ctx.ContactId,
		NodeId:      nodeId,
		Reason:      reason,
	}
	data, err := m.wakeEncDec.Encode(wake)
	if err != nil {
		logger.Error("can not encode wakeup", zap.String("executionId", m.ctx.Id), zap.Error(err))
		return
	}
	if err := m.deps.Timers.PushWithDelay(persistence.WAKEUP_QUEUE, delay, data); err != nil {
		logger.Error("error scheduling wakeup", zap.String("executionId", m.ctx.Id), zap.Error(err))
	}
}

func (m *Machine) cancelled() bool {
	stored, err := m.deps.Executions.GetExecutionContext(m.ctx.Id)
	if err != nil || stored == nil {
		return false
	}
	if stored.State == model.EXECUTION_CANCELLED {
		m.ctx.State = model.EXECUTION_CANCELLED
		m.ctx.LastError = stored.LastError
		return true
	}
	return false
}

func (m *Machine) markCompleted() error {
	now := m.deps.Now()
	m.ctx.State = model.EXECUTION_COMPLETED
	m.ctx.CompletedAt = &now
	m.ctx.Suspend = model.SUSPEND_NONE
	if err := m.save(); err != nil {
		return err
	}
	m.finish(model.EXECUTION_COMPLETED)
	logger.Info("execution completed", zap.String("flowId", m.ctx.FlowId), zap.String("executionId", m.ctx.Id))
	return nil
}

func (m *Machine) markFailed(cause error) error {
	now := m.deps.Now()
	m.ctx.State = model.EXECUTION_FAILED
	m.ctx.CompletedAt = &now
	m.ctx.Suspend = model.SUSPEND_NONE
	m.ctx.LastError = cause.Error()
	if err := m.save(); err != nil {
		return err
	}
	m.finish(model.EXECUTION_FAILED)
	logger.Error("execution failed", zap.String("flowId", m.ctx.FlowId), zap.String("executionId", m.ctx.Id), zap.Error(cause))
	return nil
}

func (m *Machine) finish(state model.ExecutionState) {
	if err := m.deps.Definitions.IncrementExecutionCounters(m.ctx.FlowId, state); err != nil {
		logger.Error("error updating execution counters", zap.String("flowId", m.ctx.FlowId), zap.Error(err))
	}
	if err := m.deps.Contacts.SetActiveExecution(m.ctx.ContactId, ""); err != nil {
		logger.Error("error clearing contact execution pointer", zap.String("contactId", m.ctx.ContactId), zap.Error(err))
	}
}

func (m *Machine) save() error {
	return m.deps.Executions.SaveExecutionContext(m.ctx)
}

func (m *Machine) appendLog(nodeId string, input map[string]any, output map[string]any, status model.LogStatus, errMsg string) {
	entry := &model.ExecutionLogEntry{
		ExecutionId: m.ctx.Id,
		NodeId:      nodeId,
		Sequence:    m.ctx.Sequence,
		Input:       input,
		Output:      output,
		Status:      status,
		Error:       errMsg,
		ExecutedAt:  m.deps.Now(),
	}
	m.ctx.Sequence++
	if err := m.deps.Logs.Append(entry); err != nil {
		logger.Error("error appending execution log entry", zap.String("executionId", m.ctx.Id), zap.String("nodeId", nodeId), zap.Error(err))
	}
}
