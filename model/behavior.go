package model

import (
	"fmt"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
)

// NodeBehavior is the parsed form of a node's free-form config map. The
// config is parsed once when the flow definition is loaded or persisted so
// that malformed configs are rejected before any instance runs.
type NodeBehavior interface {
	BehaviorType() TaskType
}

// NoopBehavior covers start, end and default nodes. They carry no work of
// their own.
type NoopBehavior struct{}

func (NoopBehavior) BehaviorType() TaskType {
	return ""
}

// AutoBehavior produces a single unassigned system task.
type AutoBehavior struct {
	WebhookUrl string
}

func (AutoBehavior) BehaviorType() TaskType {
	return TASK_TYPE_AUTO
}

// ReviewBehavior fans out one task per assignee.
type ReviewBehavior struct {
	Assignees  []string
	WebhookUrl string
}

func (ReviewBehavior) BehaviorType() TaskType {
	return TASK_TYPE_REVIEW
}

// SignatureBehavior fans out one task per assignee and tracks how many
// signatures the node demands.
type SignatureBehavior struct {
	Assignees          []string
	RequiredSignatures int
	WebhookUrl         string
}

func (SignatureBehavior) BehaviorType() TaskType {
	return TASK_TYPE_SIGNATURE
}

// NotificationBehavior creates no task. Entering the node notifies the
// recipients, fires the configured webhook and advancement continues.
type NotificationBehavior struct {
	Recipients []string
	Message    string
	WebhookUrl string
}

func (NotificationBehavior) BehaviorType() TaskType {
	return ""
}

// ParseNodeBehavior turns a node's config map into its behavior variant.
// Manual node types without assignees and unknown task types are rejected.
func ParseNodeBehavior(node FlowNode) (NodeBehavior, error) {
	config := node.Config
	if config == nil {
		config = map[string]any{}
	}
	taskType := stringValue(config, "type")
	if taskType == "" {
		switch node.Type {
		case NODE_TYPE_START, NODE_TYPE_END, NODE_TYPE_DEFAULT:
			return NoopBehavior{}, nil
		case NODE_TYPE_AUTO:
			taskType = string(TASK_TYPE_AUTO)
		case NODE_TYPE_SIGNATURE:
			taskType = string(TASK_TYPE_SIGNATURE)
		case NODE_TYPE_NOTIFICATION:
			taskType = "notification"
		default:
			taskType = string(TASK_TYPE_REVIEW)
		}
	}
	if boolValue(config, "requiresSignature") && taskType == string(TASK_TYPE_REVIEW) {
		taskType = string(TASK_TYPE_SIGNATURE)
	}
	webhookUrl := stringValue(config, "webhookUrl")

	switch taskType {
	case string(TASK_TYPE_AUTO):
		return AutoBehavior{WebhookUrl: webhookUrl}, nil
	case "notification":
		return NotificationBehavior{
			Recipients: stringSlice(config, "assignedTo"),
			Message:    stringValue(config, "message"),
			WebhookUrl: webhookUrl,
		}, nil
	case string(TASK_TYPE_REVIEW):
		assignees := stringSlice(config, "assignedTo")
		if len(assignees) == 0 {
			return nil, api.NoAssigneeError{NodeId: node.Id}
		}
		return ReviewBehavior{Assignees: assignees, WebhookUrl: webhookUrl}, nil
	case string(TASK_TYPE_SIGNATURE):
		assignees := stringSlice(config, "assignedTo")
		if len(assignees) == 0 {
			return nil, api.NoAssigneeError{NodeId: node.Id}
		}
		required := intValue(config, "requiredSignatures")
		if required <= 0 || required > len(assignees) {
			required = len(assignees)
		}
		return SignatureBehavior{
			Assignees:          assignees,
			RequiredSignatures: required,
			WebhookUrl:         webhookUrl,
		}, nil
	default:
		return nil, api.ValidationError{Message: fmt.Sprintf("node %s: unknown task type %q", node.Id, taskType)}
	}
}

func stringValue(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func boolValue(config map[string]any, key string) bool {
	v, ok := config[key].(bool)
	return ok && v
}

func intValue(config map[string]any, key string) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func stringSlice(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
