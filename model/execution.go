package model

import "time"

type ExecutionState string

const EXECUTION_RUNNING ExecutionState = "running"
const EXECUTION_WAITING ExecutionState = "waiting"
const EXECUTION_COMPLETED ExecutionState = "completed"
const EXECUTION_FAILED ExecutionState = "failed"
const EXECUTION_CANCELLED ExecutionState = "cancelled"

func (s ExecutionState) Terminal() bool {
	return s == EXECUTION_COMPLETED || s == EXECUTION_FAILED || s == EXECUTION_CANCELLED
}

type SuspendKind string

const SUSPEND_NONE SuspendKind = "none"
const SUSPEND_REPLY SuspendKind = "reply"
const SUSPEND_DELAY SuspendKind = "delay"

// ExecutionContext is the durable state of one run of a flow for one
// contact. It is mutated only by the interpreter, on the serial worker
// owning its (flow, contact) key.
type ExecutionContext struct {
	Id             string            `json:"id"`
	FlowId         string            `json:"flowId"`
	FlowVersion    int               `json:"flowVersion"`
	ContactId      string            `json:"contactId"`
	CurrentNode    string            `json:"currentNode"`
	Variables      map[string]string `json:"variables"`
	TriggerData    map[string]any    `json:"triggerData,omitempty"`
	Suspend        SuspendKind       `json:"suspend"`
	WakeAt         int64             `json:"wakeAt,omitempty"`
	AwaitedButtons []string          `json:"awaitedButtons,omitempty"`
	State          ExecutionState    `json:"state"`
	Sequence       int               `json:"sequence"`
	StartedAt      time.Time         `json:"startedAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
}

// WakeUp is the delay-queue message scheduling an execution resume.
// Persisted wake timestamps are authoritative across process restarts.
type WakeUp struct {
	ExecutionId string      `json:"executionId"`
	FlowId      string      `json:"flowId"`
	ContactId   string      `json:"contactId"`
	NodeId      string      `json:"nodeId"`
	Reason      SuspendKind `json:"reason"`
}
