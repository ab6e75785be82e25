package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence"
	"github.com/converso/flowengine/util"
	"go.uber.org/zap"
)

const LOG_KEY string = "LOG"

var _ persistence.LogSink = new(redisLogSink)

// redisLogSink appends entries to a list per execution; RPush keeps
// them in visit order.
type redisLogSink struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.ExecutionLogEntry]
}

func NewRedisLogSink(conf Config) *redisLogSink {
	return &redisLogSink{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.ExecutionLogEntry](),
	}
}

func (rls *redisLogSink) Append(entry *model.ExecutionLogEntry) error {
	data, err := rls.encoderDecoder.Encode(*entry)
	if err != nil {
		return err
	}
	ctx := context.Background()
	key := rls.getNamespaceKey(LOG_KEY, entry.ExecutionId)
	if err := rls.redisClient.RPush(ctx, key, data).Err(); err != nil {
		logger.Error("error appending to execution log", zap.String("executionId", entry.ExecutionId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rls *redisLogSink) GetLog(executionId string) ([]*model.ExecutionLogEntry, error) {
	ctx := context.Background()
	key := rls.getNamespaceKey(LOG_KEY, executionId)
	items, err := rls.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	entries := make([]*model.ExecutionLogEntry, 0, len(items))
	for _, item := range items {
		entry, err := rls.encoderDecoder.Decode([]byte(item))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
