package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const IDEMPOTENCY_KEY string = "IDEMPOTENCY"
const IDEMPOTENCY_EXPIRY_KEY string = "IDEMPOTENCY_EXPIRY"

var _ persistence.IdempotencyStorage = new(redisIdempotencyStorage)

type redisIdempotencyStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.IdempotencyRecord]
}

func newRedisIdempotencyStorage(base *baseDao) *redisIdempotencyStorage {
	return &redisIdempotencyStorage{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.IdempotencyRecord](),
	}
}

func (ri *redisIdempotencyStorage) PutIfAbsent(record model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	hashKey := ri.getNamespaceKey(IDEMPOTENCY_KEY)
	expiryKey := ri.getNamespaceKey(IDEMPOTENCY_EXPIRY_KEY)
	ctx := context.Background()
	data, err := ri.encoderDecoder.Encode(record)
	if err != nil {
		return nil, err
	}
	stored, err := ri.redisClient.HSetNX(ctx, hashKey, record.Key, data).Result()
	if err != nil {
		logger.Error("error in storing idempotency key", zap.String("key", record.Key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if stored {
		if err := ri.redisClient.ZAdd(ctx, expiryKey, rd.Z{
			Score:  float64(record.ExpiresAt.UnixMilli()),
			Member: record.Key,
		}).Err(); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		return nil, nil
	}
	val, err := ri.redisClient.HGet(ctx, hashKey, record.Key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	existing, err := ri.encoderDecoder.Decode([]byte(val))
	if err != nil {
		return nil, err
	}
	// An expired record that the cleanup worker has not purged yet does
	// not count as a hit, the new record takes its place.
	if existing.ExpiresAt.Before(time.Now()) {
		pipe := ri.redisClient.TxPipeline()
		pipe.HSet(ctx, hashKey, record.Key, data)
		pipe.ZAdd(ctx, expiryKey, rd.Z{
			Score:  float64(record.ExpiresAt.UnixMilli()),
			Member: record.Key,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		return nil, nil
	}
	return existing, nil
}

func (ri *redisIdempotencyStorage) Get(key string) (*model.IdempotencyRecord, error) {
	hashKey := ri.getNamespaceKey(IDEMPOTENCY_KEY)
	ctx := context.Background()
	val, err := ri.redisClient.HGet(ctx, hashKey, key).Result()
	if err == rd.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	record, err := ri.encoderDecoder.Decode([]byte(val))
	if err != nil {
		return nil, err
	}
	if record.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return record, nil
}

func (ri *redisIdempotencyStorage) DeleteExpired(now time.Time) (int, error) {
	hashKey := ri.getNamespaceKey(IDEMPOTENCY_KEY)
	expiryKey := ri.getNamespaceKey(IDEMPOTENCY_EXPIRY_KEY)
	ctx := context.Background()
	max := strconv.FormatInt(now.UnixMilli(), 10)
	expired, err := ri.redisClient.ZRangeByScore(ctx, expiryKey, &rd.ZRangeBy{
		Min: "0",
		Max: max,
	}).Result()
	if err != nil {
		logger.Error("error in scanning expired idempotency keys", zap.Error(err))
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	pipe := ri.redisClient.TxPipeline()
	pipe.HDel(ctx, hashKey, expired...)
	pipe.ZRemRangeByScore(ctx, expiryKey, "0", max)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in purging expired idempotency keys", zap.Error(err))
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return len(expired), nil
}
