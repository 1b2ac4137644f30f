package notification

import (
	"errors"
	"testing"

	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence/memory"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{}

func (failingPublisher) Publish(notification model.Notification) error {
	return errors.New("channel down")
}

func TestNotifier(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, backend *memory.Backend,
	){
		"test notify persists and publishes": testNotifyPersistsAndPublishes,
		"test publish failure does not fail": testPublishFailureTolerated,
		"test mark read and mark all read":   testMarkRead,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, memory.NewBackend())
		})
	}
}

func testNotifyPersistsAndPublishes(t *testing.T, backend *memory.Backend) {
	n := NewNotifier(backend.NotificationStorage(), backend.NotificationPublisher())
	err := n.Notify("u1", "task_assigned", "Nueva tarea asignada", "revisa el documento", map[string]any{"taskId": "t1"})
	require.NoError(t, err)

	stored, err := n.GetUserNotifications("u1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "task_assigned", stored[0].Type)
	require.False(t, stored[0].Read)

	require.Len(t, backend.Published(), 1)
}

func testPublishFailureTolerated(t *testing.T, backend *memory.Backend) {
	n := NewNotifier(backend.NotificationStorage(), failingPublisher{})
	err := n.Notify("u1", "task_assigned", "Nueva tarea asignada", "revisa el documento", nil)
	require.NoError(t, err)

	// the persisted row is the source of truth
	stored, err := n.GetUserNotifications("u1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func testMarkRead(t *testing.T, backend *memory.Backend) {
	n := NewNotifier(backend.NotificationStorage(), backend.NotificationPublisher())
	require.NoError(t, n.Notify("u1", "a", "t", "m", nil))
	require.NoError(t, n.Notify("u1", "b", "t", "m", nil))

	stored, err := n.GetUserNotifications("u1", 0)
	require.NoError(t, err)
	require.NoError(t, n.MarkRead("u1", stored[0].Id))

	stored, err = n.GetUserNotifications("u1", 0)
	require.NoError(t, err)
	require.True(t, stored[0].Read)
	require.False(t, stored[1].Read)

	require.NoError(t, n.MarkAllRead("u1"))
	stored, err = n.GetUserNotifications("u1", 0)
	require.NoError(t, err)
	for _, notification := range stored {
		require.True(t, notification.Read)
	}
}
