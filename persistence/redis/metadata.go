package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence"
	"github.com/converso/flowengine/util"
	"go.uber.org/zap"
)

const FLOW_DEF_KEY string = "FLOW"
const FLOW_LATEST_KEY string = "FLOW_LATEST"
const FLOW_PUBLISHED_KEY string = "FLOW_PUBLISHED"
const ACTIVE_FLOWS_KEY string = "ACTIVE_FLOWS"
const BUTTONS_KEY string = "BUTTONS"
const COUNTERS_KEY string = "COUNTERS"

var _ persistence.MetadataStorage = new(redisMetadataStorage)

type redisMetadataStorage struct {
	baseDao
	flowEncoderDecoder util.EncoderDecoder[model.FlowDefinition]
}

func NewRedisMetadataStorage(conf Config) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:            *newBaseDao(conf),
		flowEncoderDecoder: util.NewJsonEncoderDecoder[model.FlowDefinition](),
	}
}

func (rms *redisMetadataStorage) SaveFlowDefinition(def *model.FlowDefinition) error {
	data, err := rms.flowEncoderDecoder.Encode(*def)
	if err != nil {
		return err
	}
	ctx := context.Background()
	versionKey := rms.getNamespaceKey(FLOW_DEF_KEY, def.Id, strconv.Itoa(def.Version))
	latestKey := rms.getNamespaceKey(FLOW_LATEST_KEY, def.Id)
	activeKey := rms.getNamespaceKey(ACTIVE_FLOWS_KEY)

	pipe := rms.redisClient.Pipeline()
	pipe.Set(ctx, versionKey, data, 0)
	pipe.Set(ctx, latestKey, strconv.Itoa(def.Version), 0)
	// only a publish moves the live pointer; saving a draft must not
	// deactivate the published version
	if def.Status == model.FLOW_STATUS_PUBLISHED {
		pipe.Set(ctx, rms.getNamespaceKey(FLOW_PUBLISHED_KEY, def.Id), strconv.Itoa(def.Version), 0)
		if def.Active {
			pipe.SAdd(ctx, activeKey, def.Id)
		} else {
			pipe.SRem(ctx, activeKey, def.Id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving flow definition", zap.String("flowId", def.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rms *redisMetadataStorage) GetFlowDefinition(flowId string, version int) (*model.FlowDefinition, error) {
	ctx := context.Background()
	key := rms.getNamespaceKey(FLOW_DEF_KEY, flowId, strconv.Itoa(version))
	data, err := rms.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	def, err := rms.flowEncoderDecoder.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	rms.attachCounters(ctx, def)
	return def, nil
}

func (rms *redisMetadataStorage) GetLatestFlowDefinition(flowId string) (*model.FlowDefinition, error) {
	ctx := context.Background()
	latestKey := rms.getNamespaceKey(FLOW_LATEST_KEY, flowId)
	versionStr, err := rms.redisClient.Get(ctx, latestKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: fmt.Sprintf("malformed latest version %q", versionStr)}
	}
	return rms.GetFlowDefinition(flowId, version)
}

func (rms *redisMetadataStorage) GetPublishedFlowDefinition(flowId string) (*model.FlowDefinition, error) {
	ctx := context.Background()
	publishedKey := rms.getNamespaceKey(FLOW_PUBLISHED_KEY, flowId)
	versionStr, err := rms.redisClient.Get(ctx, publishedKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: fmt.Sprintf("malformed published version %q", versionStr)}
	}
	return rms.GetFlowDefinition(flowId, version)
}

func (rms *redisMetadataStorage) DeleteFlowDefinition(flowId string) error {
	ctx := context.Background()
	latest, err := rms.GetLatestFlowDefinition(flowId)
	if err != nil {
		return err
	}
	pipe := rms.redisClient.Pipeline()
	if latest != nil {
		for v := 1; v <= latest.Version; v++ {
			pipe.Del(ctx, rms.getNamespaceKey(FLOW_DEF_KEY, flowId, strconv.Itoa(v)))
		}
	}
	pipe.Del(ctx, rms.getNamespaceKey(FLOW_LATEST_KEY, flowId))
	pipe.Del(ctx, rms.getNamespaceKey(FLOW_PUBLISHED_KEY, flowId))
	pipe.Del(ctx, rms.getNamespaceKey(BUTTONS_KEY, flowId))
	pipe.Del(ctx, rms.getNamespaceKey(COUNTERS_KEY, flowId))
	pipe.SRem(ctx, rms.getNamespaceKey(ACTIVE_FLOWS_KEY), flowId)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rms *redisMetadataStorage) GetActiveFlows() ([]*model.FlowDefinition, error) {
	ctx := context.Background()
	ids, err := rms.redisClient.SMembers(ctx, rms.getNamespaceKey(ACTIVE_FLOWS_KEY)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	flows := make([]*model.FlowDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := rms.GetPublishedFlowDefinition(id)
		if err != nil {
			return nil, err
		}
		if def != nil && def.Active {
			flows = append(flows, def)
		}
	}
	return flows, nil
}

func (rms *redisMetadataStorage) IncrementExecutionCounters(flowId string, state model.ExecutionState) error {
	ctx := context.Background()
	key := rms.getNamespaceKey(COUNTERS_KEY, flowId)
	pipe := rms.redisClient.Pipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	switch state {
	case model.EXECUTION_COMPLETED:
		pipe.HIncrBy(ctx, key, "successful", 1)
	case model.EXECUTION_FAILED:
		pipe.HIncrBy(ctx, key, "failed", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rms *redisMetadataStorage) RecordIssuedButtons(flowId string, buttonIds []string) error {
	if len(buttonIds) == 0 {
		return nil
	}
	ctx := context.Background()
	members := make([]any, 0, len(buttonIds))
	for _, id := range buttonIds {
		members = append(members, id)
	}
	if err := rms.redisClient.SAdd(ctx, rms.getNamespaceKey(BUTTONS_KEY, flowId), members...).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rms *redisMetadataStorage) IsIssuedButton(flowId string, buttonId string) (bool, error) {
	ctx := context.Background()
	ok, err := rms.redisClient.SIsMember(ctx, rms.getNamespaceKey(BUTTONS_KEY, flowId), buttonId).Result()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return ok, nil
}

func (rms *redisMetadataStorage) attachCounters(ctx context.Context, def *model.FlowDefinition) {
	counters, err := rms.redisClient.HGetAll(ctx, rms.getNamespaceKey(COUNTERS_KEY, def.Id)).Result()
	if err != nil {
		return
	}
	def.TotalExecutions, _ = strconv.Atoi(counters["total"])
	def.SuccessfulExecutions, _ = strconv.Atoi(counters["successful"])
	def.FailedExecutions, _ = strconv.Atoi(counters["failed"])
}
