package redis

import (
	"context"
	"errors"
	"time"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const NOTIFICATION_KEY string = "NOTIFICATION"
const USER_NOTIFICATIONS_KEY string = "USER_NOTIFICATIONS"

// NotificationChannel is the pub/sub channel carrying serialized
// Notification rows for live delivery to connected clients.
const NotificationChannel string = "notifications"

var _ persistence.NotificationStorage = new(redisNotificationStorage)
var _ persistence.NotificationPublisher = new(redisNotificationStorage)

type redisNotificationStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Notification]
}

func newRedisNotificationStorage(base *baseDao) *redisNotificationStorage {
	return &redisNotificationStorage{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Notification](),
	}
}

func (rn *redisNotificationStorage) SaveNotification(notification model.Notification) error {
	key := rn.getNamespaceKey(NOTIFICATION_KEY, notification.Id)
	indexKey := rn.getNamespaceKey(USER_NOTIFICATIONS_KEY, notification.UserId)
	ctx := context.Background()
	data, err := rn.encoderDecoder.Encode(notification)
	if err != nil {
		return err
	}
	pipe := rn.redisClient.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.LPush(ctx, indexKey, notification.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in saving notification", zap.String("userId", notification.UserId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rn *redisNotificationStorage) GetUserNotifications(userId string, limit int) ([]model.Notification, error) {
	indexKey := rn.getNamespaceKey(USER_NOTIFICATIONS_KEY, userId)
	ctx := context.Background()
	end := int64(limit - 1)
	if limit <= 0 {
		end = -1
	}
	ids, err := rn.redisClient.LRange(ctx, indexKey, 0, end).Result()
	if err != nil {
		logger.Error("error in listing notifications", zap.String("userId", userId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	notifications := make([]model.Notification, 0, len(ids))
	for _, id := range ids {
		notification, err := rn.getNotification(id)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *notification)
	}
	return notifications, nil
}

func (rn *redisNotificationStorage) MarkRead(userId string, notificationId string) error {
	notification, err := rn.getNotification(notificationId)
	if err != nil {
		return err
	}
	if notification.UserId != userId {
		return api.NotFoundError{Kind: "notification", Id: notificationId}
	}
	now := time.Now()
	notification.Read = true
	notification.ReadAt = &now
	return rn.saveExisting(*notification)
}

func (rn *redisNotificationStorage) MarkAllRead(userId string) error {
	notifications, err := rn.GetUserNotifications(userId, -1)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, notification := range notifications {
		if notification.Read {
			continue
		}
		notification.Read = true
		notification.ReadAt = &now
		if err := rn.saveExisting(notification); err != nil {
			return err
		}
	}
	return nil
}

func (rn *redisNotificationStorage) Publish(notification model.Notification) error {
	ctx := context.Background()
	data, err := rn.encoderDecoder.Encode(notification)
	if err != nil {
		return err
	}
	if err := rn.redisClient.Publish(ctx, NotificationChannel, data).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rn *redisNotificationStorage) getNotification(id string) (*model.Notification, error) {
	key := rn.getNamespaceKey(NOTIFICATION_KEY, id)
	ctx := context.Background()
	val, err := rn.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "notification", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rn.encoderDecoder.Decode([]byte(val))
}

func (rn *redisNotificationStorage) saveExisting(notification model.Notification) error {
	key := rn.getNamespaceKey(NOTIFICATION_KEY, notification.Id)
	ctx := context.Background()
	data, err := rn.encoderDecoder.Encode(notification)
	if err != nil {
		return err
	}
	if err := rn.redisClient.Set(ctx, key, data, 0).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
