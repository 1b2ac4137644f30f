package redis

import (
	"context"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	"go.uber.org/zap"
)

const AUDIT_KEY string = "AUDIT"

var _ persistence.AuditStorage = new(redisAuditStorage)

type redisAuditStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.AuditEntry]
}

func newRedisAuditStorage(base *baseDao) *redisAuditStorage {
	return &redisAuditStorage{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.AuditEntry](),
	}
}

func (ra *redisAuditStorage) Append(entry model.AuditEntry) error {
	key := ra.getNamespaceKey(AUDIT_KEY, entry.EntityId)
	ctx := context.Background()
	data, err := ra.encoderDecoder.Encode(entry)
	if err != nil {
		return err
	}
	if err := ra.redisClient.RPush(ctx, key, data).Err(); err != nil {
		logger.Error("error in appending audit entry", zap.String("entityId", entry.EntityId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (ra *redisAuditStorage) GetHistory(entityId string) ([]model.AuditEntry, error) {
	key := ra.getNamespaceKey(AUDIT_KEY, entityId)
	ctx := context.Background()
	vals, err := ra.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		logger.Error("error in reading audit history", zap.String("entityId", entityId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	entries := make([]model.AuditEntry, 0, len(vals))
	for _, val := range vals {
		entry, err := ra.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}
