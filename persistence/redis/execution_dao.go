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

const EXECUTION_KEY string = "EXECUTION"
const ACTIVE_KEY string = "ACTIVE"
const WAITING_KEY string = "WAITING"

var _ persistence.ExecutionStorage = new(redisExecutionDao)

type redisExecutionDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.ExecutionContext]
}

func NewRedisExecutionDao(conf Config) *redisExecutionDao {
	return &redisExecutionDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.ExecutionContext](),
	}
}

// SaveExecutionContext writes the context and keeps the active and
// waiting indexes consistent with its state in one pipeline.
func (rdao *redisExecutionDao) SaveExecutionContext(execCtx *model.ExecutionContext) error {
	data, err := rdao.encoderDecoder.Encode(*execCtx)
	if err != nil {
		return err
	}
	ctx := context.Background()
	executionKey := rdao.getNamespaceKey(EXECUTION_KEY, execCtx.Id)
	activeKey := rdao.getNamespaceKey(ACTIVE_KEY, execCtx.FlowId, execCtx.ContactId)
	waitingKey := rdao.getNamespaceKey(WAITING_KEY, execCtx.ContactId)

	pipe := rdao.redisClient.Pipeline()
	pipe.Set(ctx, executionKey, data, 0)
	if execCtx.State.Terminal() {
		pipe.Del(ctx, activeKey)
	} else {
		pipe.Set(ctx, activeKey, execCtx.Id, 0)
	}
	if execCtx.State == model.EXECUTION_WAITING && execCtx.Suspend == model.SUSPEND_REPLY {
		pipe.SAdd(ctx, waitingKey, execCtx.Id)
	} else {
		pipe.SRem(ctx, waitingKey, execCtx.Id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving execution context", zap.String("executionId", execCtx.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rdao *redisExecutionDao) GetExecutionContext(executionId string) (*model.ExecutionContext, error) {
	ctx := context.Background()
	key := rdao.getNamespaceKey(EXECUTION_KEY, executionId)
	data, err := rdao.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		logger.Error("error in getting execution context", zap.String("executionId", executionId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rdao.encoderDecoder.Decode([]byte(data))
}

func (rdao *redisExecutionDao) GetActiveExecution(flowId string, contactId string) (*model.ExecutionContext, error) {
	ctx := context.Background()
	key := rdao.getNamespaceKey(ACTIVE_KEY, flowId, contactId)
	executionId, err := rdao.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rdao.GetExecutionContext(executionId)
}

func (rdao *redisExecutionDao) GetWaitingExecutions(contactId string) ([]*model.ExecutionContext, error) {
	ctx := context.Background()
	key := rdao.getNamespaceKey(WAITING_KEY, contactId)
	ids, err := rdao.redisClient.SMembers(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	executions := make([]*model.ExecutionContext, 0, len(ids))
	for _, id := range ids {
		execCtx, err := rdao.GetExecutionContext(id)
		if err != nil {
			return nil, err
		}
		if execCtx == nil || execCtx.State != model.EXECUTION_WAITING {
			// stale index entry
			rdao.redisClient.SRem(ctx, key, id)
			continue
		}
		executions = append(executions, execCtx)
	}
	return executions, nil
}
