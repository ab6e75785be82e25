package memory

import (
	"sync"
	"time"

	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence"
)

// Storage keeps everything in process memory behind one mutex. It backs
// the memory storage mode and the engine's tests; it implements every
// persistence interface so a single instance can serve the whole agent.
type Storage struct {
	mu sync.Mutex

	flows       map[string]map[int]*model.FlowDefinition
	latest      map[string]int
	published   map[string]int
	activeFlows map[string]bool
	buttons     map[string]map[string]bool
	counters    map[string]*flowCounters

	executions map[string]*model.ExecutionContext
	active     map[string]string
	waiting    map[string]map[string]bool

	logs map[string][]*model.ExecutionLogEntry

	contacts         map[string]*model.Contact
	contactExecution map[string]string

	queues map[string][]delayedMessage
}

type flowCounters struct {
	total      int
	successful int
	failed     int
}

type delayedMessage struct {
	wakeAt  int64
	payload string
}

var _ persistence.MetadataStorage = new(Storage)
var _ persistence.ExecutionStorage = new(Storage)
var _ persistence.LogSink = new(Storage)
var _ persistence.ContactStorage = new(Storage)
var _ persistence.DelayQueue = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		flows:            make(map[string]map[int]*model.FlowDefinition),
		latest:           make(map[string]int),
		published:        make(map[string]int),
		activeFlows:      make(map[string]bool),
		buttons:          make(map[string]map[string]bool),
		counters:         make(map[string]*flowCounters),
		executions:       make(map[string]*model.ExecutionContext),
		active:           make(map[string]string),
		waiting:          make(map[string]map[string]bool),
		logs:             make(map[string][]*model.ExecutionLogEntry),
		contacts:         make(map[string]*model.Contact),
		contactExecution: make(map[string]string),
		queues:           make(map[string][]delayedMessage),
	}
}

func (s *Storage) SaveFlowDefinition(def *model.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.flows[def.Id]
	if !ok {
		versions = make(map[int]*model.FlowDefinition)
		s.flows[def.Id] = versions
	}
	cp := *def
	cp.Nodes = append([]model.Node(nil), def.Nodes...)
	cp.Edges = append([]model.Edge(nil), def.Edges...)
	versions[def.Version] = &cp
	if def.Version >= s.latest[def.Id] {
		s.latest[def.Id] = def.Version
	}
	// only a publish moves the live pointer; saving a draft must not
	// deactivate the published version
	if def.Status == model.FLOW_STATUS_PUBLISHED {
		s.published[def.Id] = def.Version
		if def.Active {
			s.activeFlows[def.Id] = true
		} else {
			delete(s.activeFlows, def.Id)
		}
	}
	return nil
}

func (s *Storage) GetFlowDefinition(flowId string, version int) (*model.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getFlowLocked(flowId, version), nil
}

func (s *Storage) GetLatestFlowDefinition(flowId string) (*model.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.latest[flowId]
	if !ok {
		return nil, nil
	}
	return s.getFlowLocked(flowId, version), nil
}

func (s *Storage) GetPublishedFlowDefinition(flowId string) (*model.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.published[flowId]
	if !ok {
		return nil, nil
	}
	return s.getFlowLocked(flowId, version), nil
}

func (s *Storage) getFlowLocked(flowId string, version int) *model.FlowDefinition {
	versions, ok := s.flows[flowId]
	if !ok {
		return nil
	}
	def, ok := versions[version]
	if !ok {
		return nil
	}
	cp := *def
	cp.Nodes = append([]model.Node(nil), def.Nodes...)
	cp.Edges = append([]model.Edge(nil), def.Edges...)
	if c, ok := s.counters[flowId]; ok {
		cp.TotalExecutions = c.total
		cp.SuccessfulExecutions = c.successful
		cp.FailedExecutions = c.failed
	}
	return &cp
}

func (s *Storage) DeleteFlowDefinition(flowId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, flowId)
	delete(s.latest, flowId)
	delete(s.published, flowId)
	delete(s.activeFlows, flowId)
	delete(s.buttons, flowId)
	delete(s.counters, flowId)
	return nil
}

func (s *Storage) GetActiveFlows() ([]*model.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flows := make([]*model.FlowDefinition, 0, len(s.activeFlows))
	for id := range s.activeFlows {
		def := s.getFlowLocked(id, s.published[id])
		if def != nil && def.Active {
			flows = append(flows, def)
		}
	}
	return flows, nil
}

func (s *Storage) IncrementExecutionCounters(flowId string, state model.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[flowId]
	if !ok {
		c = &flowCounters{}
		s.counters[flowId] = c
	}
	c.total++
	switch state {
	case model.EXECUTION_COMPLETED:
		c.successful++
	case model.EXECUTION_FAILED:
		c.failed++
	}
	return nil
}

func (s *Storage) RecordIssuedButtons(flowId string, buttonIds []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.buttons[flowId]
	if !ok {
		set = make(map[string]bool)
		s.buttons[flowId] = set
	}
	for _, id := range buttonIds {
		set[id] = true
	}
	return nil
}

func (s *Storage) IsIssuedButton(flowId string, buttonId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttons[flowId][buttonId], nil
}

func (s *Storage) SaveExecutionContext(execCtx *model.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyExecution(execCtx)
	s.executions[execCtx.Id] = cp
	activeKey := execCtx.FlowId + "|" + execCtx.ContactId
	if execCtx.State.Terminal() {
		if s.active[activeKey] == execCtx.Id {
			delete(s.active, activeKey)
		}
	} else {
		s.active[activeKey] = execCtx.Id
	}
	waitSet, ok := s.waiting[execCtx.ContactId]
	if !ok {
		waitSet = make(map[string]bool)
		s.waiting[execCtx.ContactId] = waitSet
	}
	if execCtx.State == model.EXECUTION_WAITING && execCtx.Suspend == model.SUSPEND_REPLY {
		waitSet[execCtx.Id] = true
	} else {
		delete(waitSet, execCtx.Id)
	}
	return nil
}

func (s *Storage) GetExecutionContext(executionId string) (*model.ExecutionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execCtx, ok := s.executions[executionId]
	if !ok {
		return nil, nil
	}
	return copyExecution(execCtx), nil
}

func (s *Storage) GetActiveExecution(flowId string, contactId string) (*model.ExecutionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[flowId+"|"+contactId]
	if !ok {
		return nil, nil
	}
	execCtx, ok := s.executions[id]
	if !ok {
		return nil, nil
	}
	return copyExecution(execCtx), nil
}

func (s *Storage) GetWaitingExecutions(contactId string) ([]*model.ExecutionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	executions := make([]*model.ExecutionContext, 0)
	for id := range s.waiting[contactId] {
		execCtx, ok := s.executions[id]
		if !ok || execCtx.State != model.EXECUTION_WAITING {
			delete(s.waiting[contactId], id)
			continue
		}
		executions = append(executions, copyExecution(execCtx))
	}
	return executions, nil
}

func copyExecution(execCtx *model.ExecutionContext) *model.ExecutionContext {
	cp := *execCtx
	if execCtx.Variables != nil {
		cp.Variables = make(map[string]string, len(execCtx.Variables))
		for k, v := range execCtx.Variables {
			cp.Variables[k] = v
		}
	}
	if execCtx.TriggerData != nil {
		cp.TriggerData = make(map[string]any, len(execCtx.TriggerData))
		for k, v := range execCtx.TriggerData {
			cp.TriggerData[k] = v
		}
	}
	cp.AwaitedButtons = append([]string(nil), execCtx.AwaitedButtons...)
	return &cp
}

func (s *Storage) Append(entry *model.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.logs[entry.ExecutionId] = append(s.logs[entry.ExecutionId], &cp)
	return nil
}

func (s *Storage) GetLog(executionId string) ([]*model.ExecutionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*model.ExecutionLogEntry, 0, len(s.logs[executionId]))
	for _, entry := range s.logs[executionId] {
		cp := *entry
		entries = append(entries, &cp)
	}
	return entries, nil
}

// SaveContact seeds a contact; tests and the memory storage mode use it
// since the contact store is external in the redis deployment.
func (s *Storage) SaveContact(contact *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.Id] = copyContact(contact)
	return nil
}

func (s *Storage) GetContact(contactId string) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactId]
	if !ok {
		return nil, nil
	}
	return copyContact(contact), nil
}

func (s *Storage) AddTag(contactId string, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactId]
	if !ok {
		return persistence.StorageLayerError{Message: "contact " + contactId + " not found"}
	}
	for _, t := range contact.Tags {
		if t == tag {
			return nil
		}
	}
	contact.Tags = append(contact.Tags, tag)
	return nil
}

func (s *Storage) RemoveTag(contactId string, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactId]
	if !ok {
		return persistence.StorageLayerError{Message: "contact " + contactId + " not found"}
	}
	tags := contact.Tags[:0]
	for _, t := range contact.Tags {
		if t != tag {
			tags = append(tags, t)
		}
	}
	contact.Tags = tags
	return nil
}

func (s *Storage) UpdateField(contactId string, field string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactId]
	if !ok {
		return persistence.StorageLayerError{Message: "contact " + contactId + " not found"}
	}
	switch field {
	case "name":
		contact.Name = value
	case "phone_number":
		contact.PhoneNumber = value
	case "email":
		contact.Email = value
	default:
		if contact.Fields == nil {
			contact.Fields = make(map[string]string)
		}
		contact.Fields[field] = value
	}
	return nil
}

func (s *Storage) MarkNeedsHuman(contactId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactId]
	if !ok {
		return persistence.StorageLayerError{Message: "contact " + contactId + " not found"}
	}
	contact.NeedsHuman = true
	return nil
}

func (s *Storage) SetActiveExecution(contactId string, executionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if executionId == "" {
		delete(s.contactExecution, contactId)
		return nil
	}
	s.contactExecution[contactId] = executionId
	return nil
}

func copyContact(contact *model.Contact) *model.Contact {
	cp := *contact
	cp.Tags = append([]string(nil), contact.Tags...)
	if contact.Fields != nil {
		cp.Fields = make(map[string]string, len(contact.Fields))
		for k, v := range contact.Fields {
			cp.Fields[k] = v
		}
	}
	return &cp
}

func (s *Storage) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queueName] = append(s.queues[queueName], delayedMessage{
		wakeAt:  time.Now().Add(delay).UnixMilli(),
		payload: string(message),
	})
	return nil
}

// Pop drains every message whose wake time has passed, like the sorted
// set drain in the redis queue.
func (s *Storage) Pop(queueName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	due := make([]string, 0)
	remaining := make([]delayedMessage, 0, len(s.queues[queueName]))
	for _, msg := range s.queues[queueName] {
		if msg.wakeAt <= now {
			due = append(due, msg.payload)
		} else {
			remaining = append(remaining, msg)
		}
	}
	s.queues[queueName] = remaining
	return due, nil
}
