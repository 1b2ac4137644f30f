package persistence

import (
	"fmt"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type FlowStorage interface {
	SaveFlow(flow model.Flow) error
	// ReplaceDefinition swaps the stored node/edge set and flow metadata in
	// one atomic write. A failure mid-write leaves the old graph intact.
	ReplaceDefinition(flow model.Flow) error
	GetFlow(id string) (*model.Flow, error)
	ListFlowsByDepartment(departmentId string) ([]model.Flow, error)
}

type InstanceStorage interface {
	// SaveInstance persists the instance and keeps the per-flow active
	// index in step with its status.
	SaveInstance(instance model.DocumentInstance) error
	GetInstance(id string) (*model.DocumentInstance, error)
	CountActiveInstances(flowId string) (int, error)
	SaveTask(task model.DocumentTask) error
	GetTask(id string) (*model.DocumentTask, error)
	GetTasksByInstance(instanceId string) ([]model.DocumentTask, error)
	SaveAnnotation(annotation model.Annotation) error
	// AppendExecutionStep assigns (last step + 1) and appends the step in a
	// single atomic unit, so concurrent writers never produce duplicate or
	// gapped step numbers.
	AppendExecutionStep(instanceId string, event string, nodeId string, payload map[string]any) (*model.ExecutionStep, error)
	GetExecutionSteps(instanceId string) ([]model.ExecutionStep, error)
}

type AuditStorage interface {
	Append(entry model.AuditEntry) error
	GetHistory(entityId string) ([]model.AuditEntry, error)
}

type NotificationStorage interface {
	SaveNotification(notification model.Notification) error
	GetUserNotifications(userId string, limit int) ([]model.Notification, error)
	MarkRead(userId string, notificationId string) error
	MarkAllRead(userId string) error
}

type NotificationPublisher interface {
	Publish(notification model.Notification) error
}

type IdempotencyStorage interface {
	// PutIfAbsent stores the record unless the key already exists and
	// returns the previously stored record when it does.
	PutIfAbsent(record model.IdempotencyRecord) (*model.IdempotencyRecord, error)
	// Get returns nil without error when the key is absent or expired.
	Get(key string) (*model.IdempotencyRecord, error)
	DeleteExpired(now time.Time) (int, error)
}

type WebhookLogStorage interface {
	Append(entry model.WebhookLogEntry) error
	GetByUrl(url string) ([]model.WebhookLogEntry, error)
}

type DelayQueue interface {
	Push(queueName string, message []byte) error
	PushWithDelay(queueName string, delay time.Duration, message []byte) error
	Pop(queueName string) ([]string, error)
}

// Backend bundles every storage concern a running agent needs.
type Backend interface {
	FlowStorage() FlowStorage
	InstanceStorage() InstanceStorage
	AuditStorage() AuditStorage
	NotificationStorage() NotificationStorage
	NotificationPublisher() NotificationPublisher
	IdempotencyStorage() IdempotencyStorage
	WebhookLogStorage() WebhookLogStorage
	DelayQueue() DelayQueue
	Close() error
}
