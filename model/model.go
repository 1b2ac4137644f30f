package model

import "time"

type InstanceStatus string

const INSTANCE_PENDING InstanceStatus = "pending"
const INSTANCE_IN_PROGRESS InstanceStatus = "in_progress"
const INSTANCE_COMPLETED InstanceStatus = "completed"
const INSTANCE_RETURNED InstanceStatus = "returned"
const INSTANCE_REJECTED InstanceStatus = "rejected"

// Terminal reports whether an instance in this status can never advance
// again. Returned instances can resume and are not terminal.
func (s InstanceStatus) Terminal() bool {
	return s == INSTANCE_COMPLETED || s == INSTANCE_REJECTED
}

type TaskStatus string

const TASK_TODO TaskStatus = "todo"
const TASK_IN_PROGRESS TaskStatus = "in_progress"
const TASK_DONE TaskStatus = "done"
const TASK_CANCELLED TaskStatus = "cancelled"

type TaskType string

const TASK_TYPE_REVIEW TaskType = "review"
const TASK_TYPE_SIGNATURE TaskType = "signature"
const TASK_TYPE_AUTO TaskType = "auto"

type NodeType string

const NODE_TYPE_START NodeType = "start"
const NODE_TYPE_END NodeType = "end"
const NODE_TYPE_SIGNATURE NodeType = "signature"
const NODE_TYPE_REVIEW NodeType = "review"
const NODE_TYPE_AUTO NodeType = "auto"
const NODE_TYPE_NOTIFICATION NodeType = "notification"
const NODE_TYPE_DEFAULT NodeType = "default"

type Flow struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	DepartmentId string    `json:"departmentId"`
	Version      int       `json:"version"`
	IsActive     bool      `json:"isActive"`
	Nodes        []FlowNode `json:"nodes"`
	Edges        []FlowEdge `json:"edges"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type FlowNode struct {
	Id        string         `json:"id"`
	Type      NodeType       `json:"type"`
	Label     string         `json:"label"`
	PositionX float64        `json:"positionX"`
	PositionY float64        `json:"positionY"`
	Config    map[string]any `json:"config"`
	IsStart   bool           `json:"isStart"`
	IsEnd     bool           `json:"isEnd"`
	Behavior  NodeBehavior   `json:"-"`
}

type FlowEdge struct {
	Id        string `json:"id"`
	SourceId  string `json:"sourceId"`
	TargetId  string `json:"targetId"`
	Label     string `json:"label,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// FlowDefinition is the node/edge set submitted on create and update. It
// is always persisted as a whole, never patched.
type FlowDefinition struct {
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	DepartmentId string     `json:"departmentId"`
	Nodes        []FlowNode `json:"nodes"`
	Edges        []FlowEdge `json:"edges"`
}

type DocumentInstance struct {
	Id            string         `json:"id"`
	DocumentId    string         `json:"documentId"`
	FlowId        string         `json:"flowId"`
	Status        InstanceStatus `json:"status"`
	CurrentNodeId string         `json:"currentNodeId,omitempty"`
	InitiatorId   string         `json:"initiatorId,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

type DocumentTask struct {
	Id           string         `json:"id"`
	InstanceId   string         `json:"instanceId"`
	NodeId       string         `json:"nodeId"`
	Type         TaskType       `json:"type"`
	Status       TaskStatus     `json:"status"`
	AssignedToId string         `json:"assignedToId,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type Annotation struct {
	Id         string    `json:"id"`
	InstanceId string    `json:"instanceId"`
	AuthorId   string    `json:"authorId"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AuditEntry struct {
	Entity    string         `json:"entity"`
	EntityId  string         `json:"entityId"`
	Action    string         `json:"action"`
	ActorId   string         `json:"actorId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ExecutionStep is one entry of the per-instance replayable history. Steps
// are strictly increasing integers with no gaps.
type ExecutionStep struct {
	InstanceId string         `json:"instanceId"`
	Step       int            `json:"step"`
	Event      string         `json:"event"`
	NodeId     string         `json:"nodeId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type IdempotencyRecord struct {
	Key       string         `json:"key"`
	OwnerId   string         `json:"ownerId"`
	Result    map[string]any `json:"result"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type Notification struct {
	Id        string         `json:"id"`
	UserId    string         `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// WebhookLogEntry records one delivery attempt. Rows are never mutated,
// each retry inserts a new one.
type WebhookLogEntry struct {
	Url        string         `json:"url"`
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
	StatusCode int            `json:"statusCode"`
	Response   string         `json:"response"`
	RetryCount int            `json:"retryCount"`
	Success    bool           `json:"success"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// WebhookPayload is the outbound wire format.
type WebhookPayload struct {
	Event      string         `json:"event"`
	InstanceId string         `json:"instanceId"`
	DocumentId string         `json:"documentId"`
	Data       map[string]any `json:"data"`
	Timestamp  string         `json:"timestamp"`
}

// WebhookDelivery is the envelope carried on the retry delay queue.
type WebhookDelivery struct {
	Url     string         `json:"url"`
	Payload WebhookPayload `json:"payload"`
	Attempt int            `json:"attempt"`
}
