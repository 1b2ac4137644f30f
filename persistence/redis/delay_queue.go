package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

type redisDelayQueue struct {
	*baseDao
}

var _ persistence.DelayQueue = new(redisDelayQueue)

func NewRedisDelayQueue(base *baseDao) *redisDelayQueue {
	return &redisDelayQueue{
		baseDao: base,
	}
}

func (rq *redisDelayQueue) Push(queueName string, message []byte) error {
	return rq.PushWithDelay(queueName, 0, message)
}

func (rq *redisDelayQueue) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	queueName = rq.getNamespaceKey(queueName)
	ctx := context.Background()
	dueTime := time.Now().Add(delay).UnixMilli()
	member := rd.Z{
		Score:  float64(dueTime),
		Member: message,
	}
	err := rq.redisClient.ZAdd(ctx, queueName, member).Err()
	if err != nil {
		logger.Error("error while push to delay queue", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

// Pop removes and returns every message whose due time has passed.
func (rq *redisDelayQueue) Pop(queueName string) ([]string, error) {
	queueName = rq.getNamespaceKey(queueName)
	ctx := context.Background()
	currentTime := time.Now().UnixMilli()
	pipe := rq.redisClient.TxPipeline()

	opt := &rd.ZRangeBy{
		Min: strconv.Itoa(0),
		Max: strconv.FormatInt(currentTime, 10),
	}
	zr := pipe.ZRangeByScore(ctx, queueName, opt)
	pipe.ZRemRangeByScore(ctx, queueName, strconv.Itoa(0), strconv.FormatInt(currentTime, 10))

	_, err := pipe.Exec(ctx)
	if err != nil {
		logger.Error("error while pop from delay queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}

	res, err := zr.Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error while pop from delay queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}

	return res, nil
}
