package redis

import (
	"context"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	"go.uber.org/zap"
)

const WEBHOOK_LOG_KEY string = "WEBHOOK_LOG"

var _ persistence.WebhookLogStorage = new(redisWebhookLogStorage)

type redisWebhookLogStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.WebhookLogEntry]
}

func newRedisWebhookLogStorage(base *baseDao) *redisWebhookLogStorage {
	return &redisWebhookLogStorage{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.WebhookLogEntry](),
	}
}

func (rw *redisWebhookLogStorage) Append(entry model.WebhookLogEntry) error {
	key := rw.getNamespaceKey(WEBHOOK_LOG_KEY, entry.Url)
	ctx := context.Background()
	data, err := rw.encoderDecoder.Encode(entry)
	if err != nil {
		return err
	}
	if err := rw.redisClient.RPush(ctx, key, data).Err(); err != nil {
		logger.Error("error in appending webhook log", zap.String("url", entry.Url), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rw *redisWebhookLogStorage) GetByUrl(url string) ([]model.WebhookLogEntry, error) {
	key := rw.getNamespaceKey(WEBHOOK_LOG_KEY, url)
	ctx := context.Background()
	vals, err := rw.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		logger.Error("error in reading webhook log", zap.String("url", url), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	entries := make([]model.WebhookLogEntry, 0, len(vals))
	for _, val := range vals {
		entry, err := rw.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}
