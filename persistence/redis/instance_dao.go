package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const INSTANCE_KEY string = "INSTANCE"
const ACTIVE_INSTANCES_KEY string = "ACTIVE_INSTANCES"
const TASK_KEY string = "TASK"
const INSTANCE_TASKS_KEY string = "INSTANCE_TASKS"
const ANNOTATIONS_KEY string = "ANNOTATIONS"
const STEPS_KEY string = "STEPS"
const STEP_SEQ_KEY string = "STEP_SEQ"

const stepTxRetries = 20

var _ persistence.InstanceStorage = new(redisInstanceStorage)

type redisInstanceStorage struct {
	*baseDao
	instanceEncDec   util.EncoderDecoder[model.DocumentInstance]
	taskEncDec       util.EncoderDecoder[model.DocumentTask]
	annotationEncDec util.EncoderDecoder[model.Annotation]
	stepEncDec       util.EncoderDecoder[model.ExecutionStep]
}

func newRedisInstanceStorage(base *baseDao) *redisInstanceStorage {
	return &redisInstanceStorage{
		baseDao:          base,
		instanceEncDec:   util.NewJsonEncoderDecoder[model.DocumentInstance](),
		taskEncDec:       util.NewJsonEncoderDecoder[model.DocumentTask](),
		annotationEncDec: util.NewJsonEncoderDecoder[model.Annotation](),
		stepEncDec:       util.NewJsonEncoderDecoder[model.ExecutionStep](),
	}
}

func (rs *redisInstanceStorage) SaveInstance(instance model.DocumentInstance) error {
	key := rs.getNamespaceKey(INSTANCE_KEY, instance.Id)
	activeKey := rs.getNamespaceKey(ACTIVE_INSTANCES_KEY, instance.FlowId)
	ctx := context.Background()
	data, err := rs.instanceEncDec.Encode(instance)
	if err != nil {
		return err
	}
	pipe := rs.redisClient.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	switch instance.Status {
	case model.INSTANCE_PENDING, model.INSTANCE_IN_PROGRESS:
		pipe.SAdd(ctx, activeKey, instance.Id)
	default:
		pipe.SRem(ctx, activeKey, instance.Id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving instance", zap.String("instanceId", instance.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisInstanceStorage) GetInstance(id string) (*model.DocumentInstance, error) {
	key := rs.getNamespaceKey(INSTANCE_KEY, id)
	ctx := context.Background()
	val, err := rs.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "instance", Id: id}
		}
		logger.Error("error in getting instance", zap.String("instanceId", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rs.instanceEncDec.Decode([]byte(val))
}

func (rs *redisInstanceStorage) CountActiveInstances(flowId string) (int, error) {
	activeKey := rs.getNamespaceKey(ACTIVE_INSTANCES_KEY, flowId)
	ctx := context.Background()
	count, err := rs.redisClient.SCard(ctx, activeKey).Result()
	if err != nil {
		logger.Error("error in counting active instances", zap.String("flowId", flowId), zap.Error(err))
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return int(count), nil
}

func (rs *redisInstanceStorage) SaveTask(task model.DocumentTask) error {
	key := rs.getNamespaceKey(TASK_KEY, task.Id)
	indexKey := rs.getNamespaceKey(INSTANCE_TASKS_KEY, task.InstanceId)
	ctx := context.Background()
	data, err := rs.taskEncDec.Encode(task)
	if err != nil {
		return err
	}
	pipe := rs.redisClient.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, task.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving task", zap.String("taskId", task.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisInstanceStorage) GetTask(id string) (*model.DocumentTask, error) {
	key := rs.getNamespaceKey(TASK_KEY, id)
	ctx := context.Background()
	val, err := rs.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "task", Id: id}
		}
		logger.Error("error in getting task", zap.String("taskId", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rs.taskEncDec.Decode([]byte(val))
}

func (rs *redisInstanceStorage) GetTasksByInstance(instanceId string) ([]model.DocumentTask, error) {
	indexKey := rs.getNamespaceKey(INSTANCE_TASKS_KEY, instanceId)
	ctx := context.Background()
	ids, err := rs.redisClient.SMembers(ctx, indexKey).Result()
	if err != nil {
		logger.Error("error in listing instance tasks", zap.String("instanceId", instanceId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	tasks := make([]model.DocumentTask, 0, len(ids))
	for _, id := range ids {
		task, err := rs.GetTask(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

func (rs *redisInstanceStorage) SaveAnnotation(annotation model.Annotation) error {
	key := rs.getNamespaceKey(ANNOTATIONS_KEY, annotation.InstanceId)
	ctx := context.Background()
	data, err := rs.annotationEncDec.Encode(annotation)
	if err != nil {
		return err
	}
	if err := rs.redisClient.RPush(ctx, key, data).Err(); err != nil {
		logger.Error("error in saving annotation", zap.String("instanceId", annotation.InstanceId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

// AppendExecutionStep runs an optimistic transaction around the step
// counter so concurrent appenders on one instance always produce gap-free,
// strictly increasing step numbers.
func (rs *redisInstanceStorage) AppendExecutionStep(instanceId string, event string, nodeId string, payload map[string]any) (*model.ExecutionStep, error) {
	seqKey := rs.getNamespaceKey(STEP_SEQ_KEY, instanceId)
	stepsKey := rs.getNamespaceKey(STEPS_KEY, instanceId)
	ctx := context.Background()

	var step *model.ExecutionStep
	txFn := func(tx *rd.Tx) error {
		last, err := tx.Get(ctx, seqKey).Int()
		if err != nil && !errors.Is(err, rd.Nil) {
			return err
		}
		step = &model.ExecutionStep{
			InstanceId: instanceId,
			Step:       last + 1,
			Event:      event,
			NodeId:     nodeId,
			Payload:    payload,
			CreatedAt:  time.Now(),
		}
		data, err := rs.stepEncDec.Encode(*step)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, seqKey, strconv.Itoa(step.Step), 0)
			pipe.RPush(ctx, stepsKey, data)
			return nil
		})
		return err
	}
	for i := 0; i < stepTxRetries; i++ {
		err := rs.redisClient.Watch(ctx, txFn, seqKey)
		if err == nil {
			return step, nil
		}
		if errors.Is(err, rd.TxFailedErr) {
			continue
		}
		logger.Error("error in appending execution step", zap.String("instanceId", instanceId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return nil, persistence.StorageLayerError{Message: "step counter contention exhausted retries"}
}

func (rs *redisInstanceStorage) GetExecutionSteps(instanceId string) ([]model.ExecutionStep, error) {
	stepsKey := rs.getNamespaceKey(STEPS_KEY, instanceId)
	ctx := context.Background()
	vals, err := rs.redisClient.LRange(ctx, stepsKey, 0, -1).Result()
	if err != nil {
		logger.Error("error in listing execution steps", zap.String("instanceId", instanceId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	steps := make([]model.ExecutionStep, 0, len(vals))
	for _, val := range vals {
		step, err := rs.stepEncDec.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, nil
}
