package notification

import (
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier persists in-app notifications and then publishes them on the
// fan-out channel for live delivery. The persisted row is the source of
// truth, publish failures are logged and swallowed.
type Notifier struct {
	storage   persistence.NotificationStorage
	publisher persistence.NotificationPublisher
}

func NewNotifier(storage persistence.NotificationStorage, publisher persistence.NotificationPublisher) *Notifier {
	return &Notifier{
		storage:   storage,
		publisher: publisher,
	}
}

func (n *Notifier) Notify(userId string, notificationType string, title string, message string, data map[string]any) error {
	notification := model.Notification{
		Id:        uuid.New().String(),
		UserId:    userId,
		Type:      notificationType,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := n.storage.SaveNotification(notification); err != nil {
		logger.Error("failed to persist notification", zap.String("userId", userId), zap.Error(err))
		return err
	}
	if err := n.publisher.Publish(notification); err != nil {
		logger.Warn("failed to publish notification", zap.String("userId", userId), zap.Error(err))
	}
	return nil
}

func (n *Notifier) GetUserNotifications(userId string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return n.storage.GetUserNotifications(userId, limit)
}

func (n *Notifier) MarkRead(userId string, notificationId string) error {
	return n.storage.MarkRead(userId, notificationId)
}

func (n *Notifier) MarkAllRead(userId string) error {
	return n.storage.MarkAllRead(userId)
}
