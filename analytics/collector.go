package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/converso/flowengine/model"
)

// ExecutionDataCollector receives every node visit as it happens, for
// offline analysis of flow performance.
type ExecutionDataCollector interface {
	Record(entry *model.ExecutionLogEntry)
}

// LogFileDataCollector writes node visits as JSON lines to a dedicated
// audit file, separate from the process log.
type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

var _ ExecutionDataCollector = new(LogFileDataCollector)

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = "" // to hide stacktrace info
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	logger := zap.New(core)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   logger,
	}, nil
}

func (lc *LogFileDataCollector) Record(entry *model.ExecutionLogEntry) {
	lc.logger.Info("node-visit",
		zap.String("executionId", entry.ExecutionId),
		zap.String("nodeId", entry.NodeId),
		zap.Int("sequence", entry.Sequence),
		zap.String("status", string(entry.Status)),
		zap.Any("input", entry.Input),
		zap.Any("output", entry.Output),
		zap.String("error", entry.Error))
}

// NoopDataCollector discards everything; used when no audit file is
// configured.
type NoopDataCollector struct{}

var _ ExecutionDataCollector = NoopDataCollector{}

func (NoopDataCollector) Record(entry *model.ExecutionLogEntry) {}
