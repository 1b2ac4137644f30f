package engine

import (
	"time"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/audit"
	"github.com/carlos-burelo/cgsm-tabuladores/flow"
	"github.com/carlos-burelo/cgsm-tabuladores/lock"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/notification"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/webhook"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine drives document instances through their flow graph. Every
// mutating operation runs inside a lock manager lease keyed by the
// resource it mutates, and every transition is recorded as an execution
// step and an audit entry before the operation returns.
type Engine struct {
	locks      lock.Manager
	flows      *flow.Repository
	storage    persistence.InstanceStorage
	auditor    *audit.Service
	notifier   *notification.Notifier
	dispatcher *webhook.Dispatcher
}

func NewEngine(locks lock.Manager, flows *flow.Repository, storage persistence.InstanceStorage,
	auditor *audit.Service, notifier *notification.Notifier, dispatcher *webhook.Dispatcher) *Engine {
	return &Engine{
		locks:      locks,
		flows:      flows,
		storage:    storage,
		auditor:    auditor,
		notifier:   notifier,
		dispatcher: dispatcher,
	}
}

// graph is the execution view of a flow definition.
type graph struct {
	nodes map[string]*model.FlowNode
	out   map[string][]model.FlowEdge
}

func buildGraph(f *model.Flow) *graph {
	g := &graph{
		nodes: make(map[string]*model.FlowNode, len(f.Nodes)),
		out:   make(map[string][]model.FlowEdge),
	}
	for i := range f.Nodes {
		g.nodes[f.Nodes[i].Id] = &f.Nodes[i]
	}
	for _, edge := range f.Edges {
		g.out[edge.SourceId] = append(g.out[edge.SourceId], edge)
	}
	return g
}

// StartInstance creates an instance of the flow for the document,
// instantiates tasks for every start node and moves the instance to
// in_progress. Serialized by a lock on the target document.
func (e *Engine) StartInstance(documentId string, flowId string, initiatorId string) (string, error) {
	var instanceId string
	err := e.locks.WithLock("instance:"+documentId, func() error {
		f, err := e.flows.GetFlow(flowId)
		if err != nil {
			return err
		}
		g := buildGraph(f)
		var startNodes []*model.FlowNode
		for i := range f.Nodes {
			if f.Nodes[i].IsStart {
				startNodes = append(startNodes, &f.Nodes[i])
			}
		}
		if len(startNodes) == 0 {
			return api.NoStartNodeError{FlowId: flowId}
		}
		instance := model.DocumentInstance{
			Id:          uuid.New().String(),
			DocumentId:  documentId,
			FlowId:      flowId,
			Status:      model.INSTANCE_PENDING,
			InitiatorId: initiatorId,
			CreatedAt:   time.Now(),
		}
		if err := e.storage.SaveInstance(instance); err != nil {
			return err
		}
		instance.Status = model.INSTANCE_IN_PROGRESS
		if err := e.storage.SaveInstance(instance); err != nil {
			return err
		}
		if _, err := e.storage.AppendExecutionStep(instance.Id, "instance_started", "", map[string]any{
			"flowId":    flowId,
			"initiator": initiatorId,
		}); err != nil {
			return err
		}
		visited := make(map[string]bool)
		for _, node := range startNodes {
			if err := e.enterNode(g, f, &instance, node, initiatorId, visited); err != nil {
				return err
			}
		}
		if err := e.auditor.Log("DocumentInstance", instance.Id, "create", initiatorId, map[string]any{
			"flowId": flowId,
		}); err != nil {
			return err
		}
		instanceId = instance.Id
		logger.Info("instance started", zap.String("instanceId", instance.Id), zap.String("flowId", flowId))
		return nil
	})
	return instanceId, err
}

// CompleteTask marks the task done and advances the instance along the
// outgoing edges of the task's node. Serialized by a lock on the task.
func (e *Engine) CompleteTask(taskId string, userId string, payload map[string]any) error {
	return e.locks.WithLock("task:"+taskId, func() error {
		task, err := e.storage.GetTask(taskId)
		if err != nil {
			return err
		}
		if task.Status != model.TASK_TODO && task.Status != model.TASK_IN_PROGRESS {
			return api.InvalidStateError{
				Kind:    "task",
				Id:      taskId,
				Status:  string(task.Status),
				Message: "only todo or in_progress tasks can be completed",
			}
		}
		instance, err := e.storage.GetInstance(task.InstanceId)
		if err != nil {
			return err
		}
		f, err := e.flows.GetFlow(instance.FlowId)
		if err != nil {
			return err
		}
		g := buildGraph(f)
		node, ok := g.nodes[task.NodeId]
		if !ok {
			return api.NotFoundError{Kind: "node", Id: task.NodeId}
		}

		task.Status = model.TASK_DONE
		if task.Payload == nil {
			task.Payload = make(map[string]any)
		}
		for k, v := range payload {
			task.Payload[k] = v
		}
		task.Payload["completedAt"] = time.Now().Format(time.RFC3339)
		task.Payload["completedBy"] = userId
		if err := e.storage.SaveTask(*task); err != nil {
			return err
		}
		if _, err := e.storage.AppendExecutionStep(instance.Id, "task_completed", task.NodeId, payload); err != nil {
			return err
		}
		if err := e.auditor.Log("DocumentTask", taskId, "complete", userId, nil); err != nil {
			return err
		}
		if err := e.notifier.Notify(userId, "task_completed", "Tarea completada",
			"La tarea ha sido completada exitosamente", map[string]any{
				"taskId":     taskId,
				"instanceId": instance.Id,
			}); err != nil {
			return err
		}
		pending, err := e.signatureQuorumPending(node, instance.Id)
		if err != nil {
			return err
		}
		if pending {
			logger.Info("signature quorum pending, node holds",
				zap.String("instanceId", instance.Id), zap.String("node", node.Id))
			return nil
		}
		visited := map[string]bool{}
		if err := e.advanceFromNode(g, f, instance, node, userId, visited); err != nil {
			return err
		}
		logger.Info("task completed", zap.String("taskId", taskId), zap.String("instanceId", instance.Id))
		return nil
	})
}

// ReturnInstance sends an in_progress instance back to the target node
// with an annotation. It never creates tasks, resuming work requires an
// explicit ResumeInstance call.
func (e *Engine) ReturnInstance(instanceId string, targetNodeId string, userId string, annotationBody string) error {
	return e.locks.WithLock("instance:"+instanceId, func() error {
		instance, err := e.storage.GetInstance(instanceId)
		if err != nil {
			return err
		}
		if instance.Status != model.INSTANCE_IN_PROGRESS {
			return api.InvalidStateError{
				Kind:    "instance",
				Id:      instanceId,
				Status:  string(instance.Status),
				Message: "only in_progress instances can be returned",
			}
		}
		f, err := e.flows.GetFlow(instance.FlowId)
		if err != nil {
			return err
		}
		g := buildGraph(f)
		if _, ok := g.nodes[targetNodeId]; !ok {
			return api.NotFoundError{Kind: "node", Id: targetNodeId}
		}
		if err := e.storage.SaveAnnotation(model.Annotation{
			Id:         uuid.New().String(),
			InstanceId: instanceId,
			AuthorId:   userId,
			Body:       annotationBody,
			CreatedAt:  time.Now(),
		}); err != nil {
			return err
		}
		instance.Status = model.INSTANCE_RETURNED
		instance.CurrentNodeId = targetNodeId
		if err := e.storage.SaveInstance(*instance); err != nil {
			return err
		}
		if _, err := e.storage.AppendExecutionStep(instanceId, "instance_returned", targetNodeId, map[string]any{
			"returnedBy": userId,
			"annotation": annotationBody,
		}); err != nil {
			return err
		}
		if err := e.auditor.Log("DocumentInstance", instanceId, "return", userId, map[string]any{
			"targetNode": targetNodeId,
		}); err != nil {
			return err
		}
		logger.Info("instance returned", zap.String("instanceId", instanceId), zap.String("targetNode", targetNodeId))
		return nil
	})
}

// ResumeInstance moves a returned instance back to in_progress and
// creates tasks at the cursor node. This is the explicit re-entry seam
// after a return.
func (e *Engine) ResumeInstance(instanceId string, userId string) error {
	return e.locks.WithLock("instance:"+instanceId, func() error {
		instance, err := e.storage.GetInstance(instanceId)
		if err != nil {
			return err
		}
		if instance.Status != model.INSTANCE_RETURNED {
			return api.InvalidStateError{
				Kind:    "instance",
				Id:      instanceId,
				Status:  string(instance.Status),
				Message: "only returned instances can be resumed",
			}
		}
		f, err := e.flows.GetFlow(instance.FlowId)
		if err != nil {
			return err
		}
		g := buildGraph(f)
		node, ok := g.nodes[instance.CurrentNodeId]
		if !ok {
			return api.NotFoundError{Kind: "node", Id: instance.CurrentNodeId}
		}
		instance.Status = model.INSTANCE_IN_PROGRESS
		if err := e.storage.SaveInstance(*instance); err != nil {
			return err
		}
		if _, err := e.storage.AppendExecutionStep(instanceId, "instance_resumed", node.Id, map[string]any{
			"resumedBy": userId,
		}); err != nil {
			return err
		}
		if err := e.enterNode(g, f, instance, node, userId, map[string]bool{}); err != nil {
			return err
		}
		if err := e.auditor.Log("DocumentInstance", instanceId, "resume", userId, nil); err != nil {
			return err
		}
		logger.Info("instance resumed", zap.String("instanceId", instanceId), zap.String("node", node.Id))
		return nil
	})
}

func (e *Engine) GetExecutionHistory(instanceId string) ([]model.ExecutionStep, error) {
	return e.storage.GetExecutionSteps(instanceId)
}

// advanceFromNode follows the outgoing edges of the node just finished.
// Zero outgoing edges complete the instance. With several edges a task
// batch is created for every target, the single cursor only records the
// first target: the live task set is the authoritative progress.
func (e *Engine) advanceFromNode(g *graph, f *model.Flow, instance *model.DocumentInstance,
	node *model.FlowNode, actorId string, visited map[string]bool) error {
	edges := g.out[node.Id]
	if len(edges) == 0 {
		return e.completeInstance(f, instance, node, actorId)
	}
	for _, edge := range edges {
		target, ok := g.nodes[edge.TargetId]
		if !ok {
			continue
		}
		if err := e.enterNode(g, f, instance, target, actorId, visited); err != nil {
			return err
		}
	}
	current, err := e.storage.GetInstance(instance.Id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		// a parallel branch reached a terminal node while entering targets
		*instance = *current
		return nil
	}
	current.CurrentNodeId = edges[0].TargetId
	*instance = *current
	return e.storage.SaveInstance(*current)
}

// enterNode performs what arriving at a node means for its behavior
// variant: manual nodes fan out one task per assignee, auto nodes record
// a single system task, notification and structural nodes pass through.
// The visited set bounds traversal on cyclic graphs.
func (e *Engine) enterNode(g *graph, f *model.Flow, instance *model.DocumentInstance,
	node *model.FlowNode, actorId string, visited map[string]bool) error {
	if visited[node.Id] {
		return nil
	}
	visited[node.Id] = true

	behavior, err := resolveBehavior(node)
	if err != nil {
		return err
	}

	switch b := behavior.(type) {
	case model.AutoBehavior:
		task := model.DocumentTask{
			Id:         uuid.New().String(),
			InstanceId: instance.Id,
			NodeId:     node.Id,
			Type:       model.TASK_TYPE_AUTO,
			Status:     model.TASK_TODO,
			Payload:    node.Config,
			CreatedAt:  time.Now(),
		}
		if err := e.storage.SaveTask(task); err != nil {
			return err
		}
		e.sendNodeWebhook(b.WebhookUrl, "node_entered", instance, node)
		return nil
	case model.ReviewBehavior:
		e.sendNodeWebhook(b.WebhookUrl, "node_entered", instance, node)
		return e.fanOutTasks(instance, node, model.TASK_TYPE_REVIEW, b.Assignees)
	case model.SignatureBehavior:
		e.sendNodeWebhook(b.WebhookUrl, "node_entered", instance, node)
		return e.fanOutTasks(instance, node, model.TASK_TYPE_SIGNATURE, b.Assignees)
	case model.NotificationBehavior:
		for _, recipient := range b.Recipients {
			message := b.Message
			if message == "" {
				message = "El documento ha avanzado en el flujo"
			}
			if err := e.notifier.Notify(recipient, "flow_notification", "Notificación de flujo", message, map[string]any{
				"instanceId": instance.Id,
				"nodeId":     node.Id,
			}); err != nil {
				return err
			}
		}
		e.sendNodeWebhook(b.WebhookUrl, "node_notification", instance, node)
		return e.advanceFromNode(g, f, instance, node, actorId, visited)
	default:
		// start/end/default nodes are structural, pass through
		return e.advanceFromNode(g, f, instance, node, actorId, visited)
	}
}

// fanOutTasks creates one duplicate work item per assignee, each with its
// own task_assigned notification.
func (e *Engine) fanOutTasks(instance *model.DocumentInstance, node *model.FlowNode,
	taskType model.TaskType, assignees []string) error {
	if len(assignees) == 0 {
		return api.NoAssigneeError{NodeId: node.Id}
	}
	for _, userId := range assignees {
		task := model.DocumentTask{
			Id:           uuid.New().String(),
			InstanceId:   instance.Id,
			NodeId:       node.Id,
			Type:         taskType,
			Status:       model.TASK_TODO,
			AssignedToId: userId,
			Payload:      node.Config,
			CreatedAt:    time.Now(),
		}
		if err := e.storage.SaveTask(task); err != nil {
			return err
		}
		if err := e.notifier.Notify(userId, "task_assigned", "Nueva tarea asignada",
			"Se ha asignado una nueva tarea para revisar", map[string]any{
				"taskId":     task.Id,
				"instanceId": instance.Id,
			}); err != nil {
			return err
		}
	}
	return nil
}

// completeInstance finishes the instance at a node with no outgoing
// edges. Remaining open tasks of parallel branches are cancelled so no
// actionable work survives a completed instance.
func (e *Engine) completeInstance(f *model.Flow, instance *model.DocumentInstance,
	node *model.FlowNode, actorId string) error {
	current, err := e.storage.GetInstance(instance.Id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		*instance = *current
		return nil
	}
	now := time.Now()
	current.Status = model.INSTANCE_COMPLETED
	current.CompletedAt = &now
	current.CurrentNodeId = node.Id
	if err := e.storage.SaveInstance(*current); err != nil {
		return err
	}
	*instance = *current
	if _, err := e.storage.AppendExecutionStep(instance.Id, "instance_completed", node.Id, map[string]any{
		"completedBy": actorId,
	}); err != nil {
		return err
	}
	if err := e.cancelOpenTasks(instance.Id); err != nil {
		return err
	}
	if err := e.auditor.Log("DocumentInstance", instance.Id, "complete", actorId, nil); err != nil {
		return err
	}
	if instance.InitiatorId != "" {
		if err := e.notifier.Notify(instance.InitiatorId, "instance_completed", "Flujo completado",
			"El documento ha completado su flujo de aprobación", map[string]any{
				"instanceId": instance.Id,
				"documentId": instance.DocumentId,
			}); err != nil {
			return err
		}
	}
	if url := behaviorWebhookUrl(node); url != "" {
		e.sendNodeWebhook(url, "instance_completed", instance, node)
	}
	logger.Info("instance completed", zap.String("instanceId", instance.Id), zap.String("node", node.Id))
	return nil
}

func (e *Engine) cancelOpenTasks(instanceId string) error {
	tasks, err := e.storage.GetTasksByInstance(instanceId)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status != model.TASK_TODO && task.Status != model.TASK_IN_PROGRESS {
			continue
		}
		task.Status = model.TASK_CANCELLED
		if err := e.storage.SaveTask(task); err != nil {
			return err
		}
	}
	return nil
}

// sendNodeWebhook is fire-and-forget: the dispatcher owns retries and
// never fails the transition that triggered it.
func (e *Engine) sendNodeWebhook(url string, event string, instance *model.DocumentInstance, node *model.FlowNode) {
	if url == "" || e.dispatcher == nil {
		return
	}
	e.dispatcher.Send(url, model.WebhookPayload{
		Event:      event,
		InstanceId: instance.Id,
		DocumentId: instance.DocumentId,
		Data: map[string]any{
			"nodeId": node.Id,
			"label":  node.Label,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func resolveBehavior(node *model.FlowNode) (model.NodeBehavior, error) {
	if node.Behavior != nil {
		return node.Behavior, nil
	}
	return model.ParseNodeBehavior(*node)
}

// signatureQuorumPending reports whether the node still needs more
// signatures. A node demanding N signatures advances only once N of its
// tasks are done; completing earlier signatures holds the node open.
func (e *Engine) signatureQuorumPending(node *model.FlowNode, instanceId string) (bool, error) {
	behavior, err := resolveBehavior(node)
	if err != nil {
		return false, err
	}
	sig, ok := behavior.(model.SignatureBehavior)
	if !ok || sig.RequiredSignatures <= 1 {
		return false, nil
	}
	tasks, err := e.storage.GetTasksByInstance(instanceId)
	if err != nil {
		return false, err
	}
	signed := 0
	for _, task := range tasks {
		if task.NodeId == node.Id && task.Status == model.TASK_DONE {
			signed++
		}
	}
	return signed < sig.RequiredSignatures, nil
}

func behaviorWebhookUrl(node *model.FlowNode) string {
	switch b := node.Behavior.(type) {
	case model.AutoBehavior:
		return b.WebhookUrl
	case model.ReviewBehavior:
		return b.WebhookUrl
	case model.SignatureBehavior:
		return b.WebhookUrl
	case model.NotificationBehavior:
		return b.WebhookUrl
	}
	return ""
}
