package redis

import (
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
)

// Backend wires every Redis DAO over one shared client.
type Backend struct {
	baseDao       *baseDao
	flows         *redisFlowStorage
	instances     *redisInstanceStorage
	audit         *redisAuditStorage
	notifications *redisNotificationStorage
	idempotency   *redisIdempotencyStorage
	webhookLog    *redisWebhookLogStorage
	delayQueue    *redisDelayQueue
}

var _ persistence.Backend = new(Backend)

func NewBackend(conf Config) *Backend {
	base := newBaseDao(conf)
	return &Backend{
		baseDao:       base,
		flows:         newRedisFlowStorage(base),
		instances:     newRedisInstanceStorage(base),
		audit:         newRedisAuditStorage(base),
		notifications: newRedisNotificationStorage(base),
		idempotency:   newRedisIdempotencyStorage(base),
		webhookLog:    newRedisWebhookLogStorage(base),
		delayQueue:    NewRedisDelayQueue(base),
	}
}

func (b *Backend) FlowStorage() persistence.FlowStorage { return b.flows }

func (b *Backend) InstanceStorage() persistence.InstanceStorage { return b.instances }

func (b *Backend) AuditStorage() persistence.AuditStorage { return b.audit }

func (b *Backend) NotificationStorage() persistence.NotificationStorage { return b.notifications }

func (b *Backend) NotificationPublisher() persistence.NotificationPublisher { return b.notifications }

func (b *Backend) IdempotencyStorage() persistence.IdempotencyStorage { return b.idempotency }

func (b *Backend) WebhookLogStorage() persistence.WebhookLogStorage { return b.webhookLog }

func (b *Backend) DelayQueue() persistence.DelayQueue { return b.delayQueue }

func (b *Backend) Close() error {
	return b.baseDao.redisClient.Close()
}
