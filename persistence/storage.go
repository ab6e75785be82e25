package persistence

import (
	"time"

	"github.com/converso/flowengine/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	if len(e.Message) == 0 {
		return "error in storage layer"
	}
	return "error in storage layer: " + e.Message
}

// MetadataStorage holds flow definitions and publish-time artifacts
// (webhook tokens, issued button ids, execution counters). The published
// version is tracked separately from the latest one: a draft saved over
// a published flow becomes the latest version without touching what is
// live, so triggering keeps running on the published version while the
// draft is edited.
type MetadataStorage interface {
	SaveFlowDefinition(def *model.FlowDefinition) error
	GetFlowDefinition(flowId string, version int) (*model.FlowDefinition, error)
	GetLatestFlowDefinition(flowId string) (*model.FlowDefinition, error)
	GetPublishedFlowDefinition(flowId string) (*model.FlowDefinition, error)
	DeleteFlowDefinition(flowId string) error
	GetActiveFlows() ([]*model.FlowDefinition, error)
	IncrementExecutionCounters(flowId string, state model.ExecutionState) error
	RecordIssuedButtons(flowId string, buttonIds []string) error
	IsIssuedButton(flowId string, buttonId string) (bool, error)
}

// ExecutionStorage persists execution contexts and the indexes the
// dispatcher needs: the single active execution per (flow, contact) and
// the set of executions waiting on a reply from a contact. Save keeps
// both indexes consistent with the context's state.
type ExecutionStorage interface {
	SaveExecutionContext(ctx *model.ExecutionContext) error
	GetExecutionContext(executionId string) (*model.ExecutionContext, error)
	GetActiveExecution(flowId string, contactId string) (*model.ExecutionContext, error)
	GetWaitingExecutions(contactId string) ([]*model.ExecutionContext, error)
}

// LogSink is the append-only execution log. Entries are never mutated
// after write.
type LogSink interface {
	Append(entry *model.ExecutionLogEntry) error
	GetLog(executionId string) ([]*model.ExecutionLogEntry, error)
}

// ContactStorage is the engine's view of the contact/conversation store
// collaborator.
type ContactStorage interface {
	GetContact(contactId string) (*model.Contact, error)
	AddTag(contactId string, tag string) error
	RemoveTag(contactId string, tag string) error
	UpdateField(contactId string, field string, value string) error
	MarkNeedsHuman(contactId string) error
	SetActiveExecution(contactId string, executionId string) error
}

// DelayQueue is the durable timer primitive: messages pushed with a
// delay become visible to Pop once their wake time has passed.
type DelayQueue interface {
	PushWithDelay(queueName string, delay time.Duration, message []byte) error
	Pop(queueName string) ([]string, error)
}

// WAKEUP_QUEUE holds model.WakeUp messages for delay nodes and
// wait-reply timeouts.
const WAKEUP_QUEUE string = "wakeups"
