package memory

import (
	"sort"
	"sync"
	"time"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
)

// Backend is a mutex-guarded in-memory implementation of every storage
// interface. It backs the `memory` storage mode and deterministic tests.
type Backend struct {
	mu            sync.Mutex
	flows         map[string]model.Flow
	instances     map[string]model.DocumentInstance
	tasks         map[string]model.DocumentTask
	taskOrder     map[string][]string
	annotations   map[string][]model.Annotation
	steps         map[string][]model.ExecutionStep
	audit         map[string][]model.AuditEntry
	notifications map[string]model.Notification
	userIndex     map[string][]string
	idempotency   map[string]model.IdempotencyRecord
	webhookLog    map[string][]model.WebhookLogEntry
	queues        map[string][]queueItem

	published []model.Notification
}

type queueItem struct {
	due     time.Time
	message string
}

var _ persistence.Backend = new(Backend)

func NewBackend() *Backend {
	return &Backend{
		flows:         make(map[string]model.Flow),
		instances:     make(map[string]model.DocumentInstance),
		tasks:         make(map[string]model.DocumentTask),
		taskOrder:     make(map[string][]string),
		annotations:   make(map[string][]model.Annotation),
		steps:         make(map[string][]model.ExecutionStep),
		audit:         make(map[string][]model.AuditEntry),
		notifications: make(map[string]model.Notification),
		userIndex:     make(map[string][]string),
		idempotency:   make(map[string]model.IdempotencyRecord),
		webhookLog:    make(map[string][]model.WebhookLogEntry),
		queues:        make(map[string][]queueItem),
	}
}

func (b *Backend) FlowStorage() persistence.FlowStorage { return b }

func (b *Backend) InstanceStorage() persistence.InstanceStorage { return b }

func (b *Backend) AuditStorage() persistence.AuditStorage { return b }

func (b *Backend) NotificationStorage() persistence.NotificationStorage { return b }

func (b *Backend) NotificationPublisher() persistence.NotificationPublisher { return b }

func (b *Backend) IdempotencyStorage() persistence.IdempotencyStorage { return b }

func (b *Backend) WebhookLogStorage() persistence.WebhookLogStorage { return webhookLogStore{b} }

func (b *Backend) DelayQueue() persistence.DelayQueue { return b }

func (b *Backend) Close() error { return nil }

func (b *Backend) SaveFlow(flow model.Flow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flows[flow.Id] = flow
	return nil
}

func (b *Backend) ReplaceDefinition(flow model.Flow) error {
	return b.SaveFlow(flow)
}

func (b *Backend) GetFlow(id string) (*model.Flow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	flow, ok := b.flows[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "flow", Id: id}
	}
	return &flow, nil
}

func (b *Backend) ListFlowsByDepartment(departmentId string) ([]model.Flow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var flows []model.Flow
	for _, flow := range b.flows {
		if flow.DepartmentId == departmentId && flow.IsActive {
			flows = append(flows, flow)
		}
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})
	return flows, nil
}

func (b *Backend) SaveInstance(instance model.DocumentInstance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances[instance.Id] = instance
	return nil
}

func (b *Backend) GetInstance(id string) (*model.DocumentInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	instance, ok := b.instances[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "instance", Id: id}
	}
	return &instance, nil
}

func (b *Backend) CountActiveInstances(flowId string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, instance := range b.instances {
		if instance.FlowId != flowId {
			continue
		}
		if instance.Status == model.INSTANCE_PENDING || instance.Status == model.INSTANCE_IN_PROGRESS {
			count++
		}
	}
	return count, nil
}

func (b *Backend) SaveTask(task model.DocumentTask) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.tasks[task.Id]; !exists {
		b.taskOrder[task.InstanceId] = append(b.taskOrder[task.InstanceId], task.Id)
	}
	b.tasks[task.Id] = task
	return nil
}

func (b *Backend) GetTask(id string) (*model.DocumentTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.tasks[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "task", Id: id}
	}
	return &task, nil
}

func (b *Backend) GetTasksByInstance(instanceId string) ([]model.DocumentTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.taskOrder[instanceId]
	tasks := make([]model.DocumentTask, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, b.tasks[id])
	}
	return tasks, nil
}

func (b *Backend) SaveAnnotation(annotation model.Annotation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.annotations[annotation.InstanceId] = append(b.annotations[annotation.InstanceId], annotation)
	return nil
}

// GetAnnotations is a test hook, the engine only writes annotations.
func (b *Backend) GetAnnotations(instanceId string) []model.Annotation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Annotation{}, b.annotations[instanceId]...)
}

func (b *Backend) AppendExecutionStep(instanceId string, event string, nodeId string, payload map[string]any) (*model.ExecutionStep, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	step := model.ExecutionStep{
		InstanceId: instanceId,
		Step:       len(b.steps[instanceId]) + 1,
		Event:      event,
		NodeId:     nodeId,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	b.steps[instanceId] = append(b.steps[instanceId], step)
	return &step, nil
}

func (b *Backend) GetExecutionSteps(instanceId string) ([]model.ExecutionStep, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ExecutionStep{}, b.steps[instanceId]...), nil
}

func (b *Backend) Append(entry model.AuditEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audit[entry.EntityId] = append(b.audit[entry.EntityId], entry)
	return nil
}

func (b *Backend) GetHistory(entityId string) ([]model.AuditEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.AuditEntry{}, b.audit[entityId]...), nil
}

func (b *Backend) SaveNotification(notification model.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.notifications[notification.Id]; !exists {
		b.userIndex[notification.UserId] = append([]string{notification.Id}, b.userIndex[notification.UserId]...)
	}
	b.notifications[notification.Id] = notification
	return nil
}

func (b *Backend) GetUserNotifications(userId string, limit int) ([]model.Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.userIndex[userId]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	notifications := make([]model.Notification, 0, len(ids))
	for _, id := range ids {
		notifications = append(notifications, b.notifications[id])
	}
	return notifications, nil
}

func (b *Backend) MarkRead(userId string, notificationId string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	notification, ok := b.notifications[notificationId]
	if !ok || notification.UserId != userId {
		return api.NotFoundError{Kind: "notification", Id: notificationId}
	}
	now := time.Now()
	notification.Read = true
	notification.ReadAt = &now
	b.notifications[notificationId] = notification
	return nil
}

func (b *Backend) MarkAllRead(userId string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for _, id := range b.userIndex[userId] {
		notification := b.notifications[id]
		if notification.Read {
			continue
		}
		notification.Read = true
		notification.ReadAt = &now
		b.notifications[id] = notification
	}
	return nil
}

func (b *Backend) Publish(notification model.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, notification)
	return nil
}

// Published is a test hook returning everything sent to the fan-out
// channel so far.
func (b *Backend) Published() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Notification{}, b.published...)
}

func (b *Backend) PutIfAbsent(record model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.idempotency[record.Key]
	if ok && existing.ExpiresAt.After(time.Now()) {
		return &existing, nil
	}
	b.idempotency[record.Key] = record
	return nil, nil
}

func (b *Backend) Get(key string) (*model.IdempotencyRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.idempotency[key]
	if !ok || record.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return &record, nil
}

func (b *Backend) DeleteExpired(now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for key, record := range b.idempotency {
		if record.ExpiresAt.Before(now) {
			delete(b.idempotency, key)
			count++
		}
	}
	return count, nil
}

// webhookLogStore narrows Backend to the webhook log interface. The
// method set lives on a wrapper because AuditStorage already claims the
// Append name on Backend itself.
type webhookLogStore struct {
	b *Backend
}

func (w webhookLogStore) Append(entry model.WebhookLogEntry) error {
	return w.b.AppendWebhookLog(entry)
}

func (w webhookLogStore) GetByUrl(url string) ([]model.WebhookLogEntry, error) {
	return w.b.GetByUrl(url)
}

func (b *Backend) AppendWebhookLog(entry model.WebhookLogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.webhookLog[entry.Url] = append(b.webhookLog[entry.Url], entry)
	return nil
}

func (b *Backend) GetByUrl(url string) ([]model.WebhookLogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.WebhookLogEntry{}, b.webhookLog[url]...), nil
}

func (b *Backend) Push(queueName string, message []byte) error {
	return b.PushWithDelay(queueName, 0, message)
}

func (b *Backend) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queueName] = append(b.queues[queueName], queueItem{
		due:     time.Now().Add(delay),
		message: string(message),
	})
	return nil
}

func (b *Backend) Pop(queueName string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var due []string
	var remaining []queueItem
	for _, item := range b.queues[queueName] {
		if item.due.After(now) {
			remaining = append(remaining, item)
			continue
		}
		due = append(due, item.message)
	}
	b.queues[queueName] = remaining
	return due, nil
}
