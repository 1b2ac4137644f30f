package redis

import (
	"context"
	"errors"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const FLOW_KEY string = "FLOW"
const DEPT_FLOWS_KEY string = "DEPT_FLOWS"

var _ persistence.FlowStorage = new(redisFlowStorage)

type redisFlowStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Flow]
}

func newRedisFlowStorage(base *baseDao) *redisFlowStorage {
	return &redisFlowStorage{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Flow](),
	}
}

func (rf *redisFlowStorage) SaveFlow(flow model.Flow) error {
	key := rf.getNamespaceKey(FLOW_KEY, flow.Id)
	deptKey := rf.getNamespaceKey(DEPT_FLOWS_KEY, flow.DepartmentId)
	ctx := context.Background()
	data, err := rf.encoderDecoder.Encode(flow)
	if err != nil {
		return err
	}
	pipe := rf.redisClient.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, deptKey, flow.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving flow", zap.String("flowId", flow.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

// ReplaceDefinition writes the whole flow, nodes and edges included, in a
// single SET. The old graph stays intact unless the write succeeds.
func (rf *redisFlowStorage) ReplaceDefinition(flow model.Flow) error {
	key := rf.getNamespaceKey(FLOW_KEY, flow.Id)
	ctx := context.Background()
	data, err := rf.encoderDecoder.Encode(flow)
	if err != nil {
		return err
	}
	if err := rf.redisClient.Set(ctx, key, data, 0).Err(); err != nil {
		logger.Error("error in replacing flow definition", zap.String("flowId", flow.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rf *redisFlowStorage) GetFlow(id string) (*model.Flow, error) {
	key := rf.getNamespaceKey(FLOW_KEY, id)
	ctx := context.Background()
	val, err := rf.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "flow", Id: id}
		}
		logger.Error("error in getting flow", zap.String("flowId", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rf.encoderDecoder.Decode([]byte(val))
}

func (rf *redisFlowStorage) ListFlowsByDepartment(departmentId string) ([]model.Flow, error) {
	deptKey := rf.getNamespaceKey(DEPT_FLOWS_KEY, departmentId)
	ctx := context.Background()
	ids, err := rf.redisClient.SMembers(ctx, deptKey).Result()
	if err != nil {
		logger.Error("error in listing department flows", zap.String("departmentId", departmentId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	flows := make([]model.Flow, 0, len(ids))
	for _, id := range ids {
		flow, err := rf.GetFlow(id)
		if err != nil {
			if _, ok := err.(api.NotFoundError); ok {
				continue
			}
			return nil, err
		}
		if flow.IsActive {
			flows = append(flows, *flow)
		}
	}
	return flows, nil
}
