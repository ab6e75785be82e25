package analytics

import (
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence"
)

var _ persistence.LogSink = new(AuditingSink)

// AuditingSink tees every appended log entry to a data collector before
// delegating to the durable sink. Collector failures never block the
// execution path.
type AuditingSink struct {
	delegate  persistence.LogSink
	collector ExecutionDataCollector
}

func NewAuditingSink(delegate persistence.LogSink, collector ExecutionDataCollector) *AuditingSink {
	return &AuditingSink{
		delegate:  delegate,
		collector: collector,
	}
}

func (as *AuditingSink) Append(entry *model.ExecutionLogEntry) error {
	as.collector.Record(entry)
	return as.delegate.Append(entry)
}

func (as *AuditingSink) GetLog(executionId string) ([]*model.ExecutionLogEntry, error) {
	return as.delegate.GetLog(executionId)
}
