package model

import "time"

type LogStatus string

const LOG_STATUS_SUCCESS LogStatus = "success"
const LOG_STATUS_ERROR LogStatus = "error"
const LOG_STATUS_SKIPPED LogStatus = "skipped"

// ExecutionLogEntry records one node visit. Entries are append-only and
// strictly ordered by Sequence within an execution.
type ExecutionLogEntry struct {
	ExecutionId string         `json:"executionId"`
	NodeId      string         `json:"nodeId"`
	Sequence    int            `json:"sequence"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Status      LogStatus      `json:"status"`
	Error       string         `json:"error,omitempty"`
	ExecutedAt  time.Time      `json:"executedAt"`
}
