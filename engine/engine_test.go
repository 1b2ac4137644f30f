package engine

import (
	"sort"
	"sync"
	"testing"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/audit"
	"github.com/carlos-burelo/cgsm-tabuladores/flow"
	"github.com/carlos-burelo/cgsm-tabuladores/lock"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/notification"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence/memory"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine  *Engine
	backend *memory.Backend
	flows   *flow.Repository
}

func TestEngine(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, h *harness,
	){
		"test start fans out one task per assignee":     testStartFanOut,
		"test start with unknown flow":                  testStartUnknownFlow,
		"test double complete rejected":                 testDoubleCompleteRejected,
		"test completion cancels remaining tasks":       testCompletionCancelsRemaining,
		"test return creates no tasks until resume":     testReturnThenResume,
		"test concurrent completes keep steps gap free": testConcurrentStepNumbering,
		"test notification sink completes instance":     testNotificationSinkCompletes,
		"test signature quorum holds until met":         testSignatureQuorum,
	} {
		t.Run(scenario, func(t *testing.T) {
			backend := memory.NewBackend()
			auditor := audit.NewService(backend.AuditStorage())
			notifier := notification.NewNotifier(backend.NotificationStorage(), backend.NotificationPublisher())
			flows := flow.NewRepository(backend.FlowStorage(), backend.InstanceStorage(), auditor)
			eng := NewEngine(lock.NewLocalManager(), flows, backend.InstanceStorage(), auditor, notifier, nil)
			fn(t, &harness{engine: eng, backend: backend, flows: flows})
		})
	}
}

func approvalFlow(t *testing.T, h *harness, assignees []string) string {
	t.Helper()
	flowId, err := h.flows.CreateFlow(model.FlowDefinition{
		Name:         "approval",
		DepartmentId: "dept-1",
		Nodes: []model.FlowNode{
			{Id: "start", Type: model.NODE_TYPE_START, IsStart: true},
			{Id: "approval", Type: model.NODE_TYPE_REVIEW, Config: map[string]any{"assignedTo": assignees}},
			{Id: "end", Type: model.NODE_TYPE_END, IsEnd: true},
		},
		Edges: []model.FlowEdge{
			{Id: "e1", SourceId: "start", TargetId: "approval"},
			{Id: "e2", SourceId: "approval", TargetId: "end"},
		},
	})
	require.NoError(t, err)
	return flowId
}

func openTasks(t *testing.T, h *harness, instanceId string) []model.DocumentTask {
	t.Helper()
	tasks, err := h.backend.GetTasksByInstance(instanceId)
	require.NoError(t, err)
	var open []model.DocumentTask
	for _, task := range tasks {
		if task.Status == model.TASK_TODO || task.Status == model.TASK_IN_PROGRESS {
			open = append(open, task)
		}
	}
	return open
}

func testStartFanOut(t *testing.T, h *harness) {
	flowId := approvalFlow(t, h, []string{"u1", "u2"})
	instanceId, err := h.engine.StartInstance("doc-1", flowId, "initiator")
	require.NoError(t, err)

	instance, err := h.backend.GetInstance(instanceId)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_IN_PROGRESS, instance.Status)

	tasks := openTasks(t, h, instanceId)
	require.Len(t, tasks, 2)
	assignees := []string{tasks[0].AssignedToId, tasks[1].AssignedToId}
	require.ElementsMatch(t, []string{"u1", "u2"}, assignees)
	for _, task := range tasks {
		require.Equal(t, model.TASK_TYPE_REVIEW, task.Type)
		require.Equal(t, model.TASK_TODO, task.Status)
	}

	steps, err := h.engine.GetExecutionHistory(instanceId)
	require.NoError(t, err)
	require.Equal(t, 1, steps[0].Step)
	require.Equal(t, "instance_started", steps[0].Event)
}

func testStartUnknownFlow(t *testing.T, h *harness) {
	_, err := h.engine.StartInstance("doc-1", "missing-flow", "initiator")
	require.Error(t, err)
	_, ok := err.(api.NotFoundError)
	require.True(t, ok)
}

func testDoubleCompleteRejected(t *testing.T, h *harness) {
	flowId := approvalFlow(t, h, []string{"u1", "u2"})
	instanceId, err := h.engine.StartInstance("doc-1", flowId, "initiator")
	require.NoError(t, err)

	tasks := openTasks(t, h, instanceId)
	err = h.engine.CompleteTask(tasks[0].Id, tasks[0].AssignedToId, nil)
	require.NoError(t, err)

	err = h.engine.CompleteTask(tasks[0].Id, tasks[0].AssignedToId, nil)
	require.Error(t, err)
	_, ok := err.(api.InvalidStateError)
	require.True(t, ok)
}

func testCompletionCancelsRemaining(t *testing.T, h *harness) {
	flowId := approvalFlow(t, h, []string{"u1", "u2"})
	instanceId, err := h.engine.StartInstance("doc-1", flowId, "initiator")
	require.NoError(t, err)

	tasks := openTasks(t, h, instanceId)
	require.NoError(t, h.engine.CompleteTask(tasks[0].Id, tasks[0].AssignedToId, map[string]any{"decision": "approved"}))

	instance, err := h.backend.GetInstance(instanceId)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_COMPLETED, instance.Status)
	require.NotNil(t, instance.CompletedAt)
	require.Empty(t, openTasks(t, h, instanceId))

	other, err := h.backend.GetTask(tasks[1].Id)
	require.NoError(t, err)
	require.Equal(t, model.TASK_CANCELLED, other.Status)

	steps, err := h.engine.GetExecutionHistory(instanceId)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	events := []string{steps[0].Event, steps[1].Event, steps[2].Event}
	require.Equal(t, []string{"instance_started", "task_completed", "instance_completed"}, events)
	for i, step := range steps {
		require.Equal(t, i+1, step.Step)
	}
}

func testReturnThenResume(t *testing.T, h *harness) {
	flowId := approvalFlow(t, h, []string{"u1"})
	instanceId, err := h.engine.StartInstance("doc-1", flowId, "initiator")
	require.NoError(t, err)
	before := len(openTasks(t, h, instanceId))

	err = h.engine.ReturnInstance(instanceId, "approval", "u1", "missing signature page")
	require.NoError(t, err)

	instance, err := h.backend.GetInstance(instanceId)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_RETURNED, instance.Status)
	require.Equal(t, "approval", instance.CurrentNodeId)
	require.Len(t, openTasks(t, h, instanceId), before)

	annotations := h.backend.GetAnnotations(instanceId)
	require.Len(t, annotations, 1)
	require.Equal(t, "missing signature page", annotations[0].Body)

	// completing while returned is still legal for the open task, but a
	// second return is not
	err = h.engine.ReturnInstance(instanceId, "approval", "u1", "again")
	require.Error(t, err)

	err = h.engine.ResumeInstance(instanceId, "initiator")
	require.NoError(t, err)

	instance, err = h.backend.GetInstance(instanceId)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_IN_PROGRESS, instance.Status)
	require.Greater(t, len(openTasks(t, h, instanceId)), before)

	steps, err := h.engine.GetExecutionHistory(instanceId)
	require.NoError(t, err)
	var events []string
	for _, step := range steps {
		events = append(events, step.Event)
	}
	require.Contains(t, events, "instance_returned")
	require.Contains(t, events, "instance_resumed")
}

func testConcurrentStepNumbering(t *testing.T, h *harness) {
	assignees := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}
	flowId, err := h.flows.CreateFlow(model.FlowDefinition{
		Name:         "wide-review",
		DepartmentId: "dept-1",
		Nodes: []model.FlowNode{
			{Id: "review", Type: model.NODE_TYPE_REVIEW, IsStart: true, Config: map[string]any{"assignedTo": assignees}},
			{Id: "final", Type: model.NODE_TYPE_REVIEW, Config: map[string]any{"assignedTo": []string{"boss"}}},
		},
		Edges: []model.FlowEdge{
			{Id: "e1", SourceId: "review", TargetId: "final"},
		},
	})
	require.NoError(t, err)

	instanceId, err := h.engine.StartInstance("doc-1", flowId, "initiator")
	require.NoError(t, err)

	tasks := openTasks(t, h, instanceId)
	require.Len(t, tasks, len(assignees))

	var wg sync.WaitGroup
	errs := make(chan error, len(tasks))
	for _, task := range tasks {
		wg.Add(1)
		go func(task model.DocumentTask) {
			defer wg.Done()
			errs <- h.engine.CompleteTask(task.Id, task.AssignedToId, nil)
		}(task)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	steps, err := h.engine.GetExecutionHistory(instanceId)
	require.NoError(t, err)
	require.Len(t, steps, len(assignees)+1)
	numbers := make([]int, 0, len(steps))
	for _, step := range steps {
		numbers = append(numbers, step.Step)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		require.Equal(t, i+1, n)
	}
}

func testSignatureQuorum(t *testing.T, h *harness) {
	flowId, err := h.flows.CreateFlow(model.FlowDefinition{
		Name:         "dual-signature",
		DepartmentId: "dept-1",
		Nodes: []model.FlowNode{
			{Id: "sign", Type: model.NODE_TYPE_SIGNATURE, IsStart: true, Config: map[string]any{
				"assignedTo":         []string{"u1", "u2"},
				"requiredSignatures": 2,
			}},
		},
	})
	require.NoError(t, err)

	instanceId, err := h.engine.StartInstance("doc-1", flowId, "initiator")
	require.NoError(t, err)

	tasks := openTasks(t, h, instanceId)
	require.Len(t, tasks, 2)

	// one signature of two keeps the node open and the sibling task alive
	require.NoError(t, h.engine.CompleteTask(tasks[0].Id, tasks[0].AssignedToId, nil))
	instance, err := h.backend.GetInstance(instanceId)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_IN_PROGRESS, instance.Status)
	require.Len(t, openTasks(t, h, instanceId), 1)

	steps, err := h.engine.GetExecutionHistory(instanceId)
	require.NoError(t, err)
	for _, step := range steps {
		require.NotEqual(t, "instance_completed", step.Event)
	}

	require.NoError(t, h.engine.CompleteTask(tasks[1].Id, tasks[1].AssignedToId, nil))
	instance, err = h.backend.GetInstance(instanceId)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_COMPLETED, instance.Status)
	require.Empty(t, openTasks(t, h, instanceId))
}

func testNotificationSinkCompletes(t *testing.T, h *harness) {
	flowId, err := h.flows.CreateFlow(model.FlowDefinition{
		Name:         "notify-at-end",
		DepartmentId: "dept-1",
		Nodes: []model.FlowNode{
			{Id: "approval", Type: model.NODE_TYPE_REVIEW, IsStart: true, Config: map[string]any{"assignedTo": []string{"u1"}}},
			{Id: "notify", Type: model.NODE_TYPE_NOTIFICATION, Config: map[string]any{
				"assignedTo": []string{"u9"},
				"message":    "documento aprobado",
			}},
		},
		Edges: []model.FlowEdge{
			{Id: "e1", SourceId: "approval", TargetId: "notify"},
		},
	})
	require.NoError(t, err)

	instanceId, err := h.engine.StartInstance("doc-1", flowId, "initiator")
	require.NoError(t, err)

	tasks := openTasks(t, h, instanceId)
	require.Len(t, tasks, 1)
	require.NoError(t, h.engine.CompleteTask(tasks[0].Id, "u1", nil))

	instance, err := h.backend.GetInstance(instanceId)
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_COMPLETED, instance.Status)

	notifications, err := h.backend.GetUserNotifications("u9", 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "flow_notification", notifications[0].Type)
	require.Equal(t, "documento aprobado", notifications[0].Message)

	published := h.backend.Published()
	var types []string
	for _, n := range published {
		types = append(types, n.Type)
	}
	require.Contains(t, types, "flow_notification")
}
