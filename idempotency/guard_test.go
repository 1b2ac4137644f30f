package idempotency

import (
	"testing"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/persistence/memory"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, backend *memory.Backend,
	){
		"test first store wins":        testFirstStoreWins,
		"test check without store":     testCheckWithoutStore,
		"test expired key is reusable": testExpiredKeyReusable,
		"test cleanup purges expired":  testCleanupPurges,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, memory.NewBackend())
		})
	}
}

func testFirstStoreWins(t *testing.T, backend *memory.Backend) {
	guard := NewGuard(backend.IdempotencyStorage(), time.Hour)

	first, err := guard.CheckAndStore("key-1", "owner-a", map[string]any{"instanceId": "r1"})
	require.NoError(t, err)
	require.False(t, first.Exists)

	second, err := guard.CheckAndStore("key-1", "owner-b", map[string]any{"instanceId": "r2"})
	require.NoError(t, err)
	require.True(t, second.Exists)
	require.Equal(t, "r1", second.Result["instanceId"])

	third, err := guard.CheckAndStore("key-1", "owner-c", map[string]any{"instanceId": "r3"})
	require.NoError(t, err)
	require.True(t, third.Exists)
	require.Equal(t, "r1", third.Result["instanceId"])
}

func testCheckWithoutStore(t *testing.T, backend *memory.Backend) {
	guard := NewGuard(backend.IdempotencyStorage(), time.Hour)

	check, err := guard.Check("key-1")
	require.NoError(t, err)
	require.False(t, check.Exists)

	_, err = guard.CheckAndStore("key-1", "owner-a", map[string]any{"instanceId": "r1"})
	require.NoError(t, err)

	check, err = guard.Check("key-1")
	require.NoError(t, err)
	require.True(t, check.Exists)
	require.Equal(t, "r1", check.Result["instanceId"])
}

func testExpiredKeyReusable(t *testing.T, backend *memory.Backend) {
	guard := NewGuard(backend.IdempotencyStorage(), 10*time.Millisecond)

	first, err := guard.CheckAndStore("key-1", "owner-a", map[string]any{"instanceId": "r1"})
	require.NoError(t, err)
	require.False(t, first.Exists)

	time.Sleep(20 * time.Millisecond)

	check, err := guard.Check("key-1")
	require.NoError(t, err)
	require.False(t, check.Exists)

	again, err := guard.CheckAndStore("key-1", "owner-b", map[string]any{"instanceId": "r2"})
	require.NoError(t, err)
	require.False(t, again.Exists)
}

func testCleanupPurges(t *testing.T, backend *memory.Backend) {
	guard := NewGuard(backend.IdempotencyStorage(), 10*time.Millisecond)

	_, err := guard.CheckAndStore("key-1", "owner-a", map[string]any{"instanceId": "r1"})
	require.NoError(t, err)
	_, err = guard.CheckAndStore("key-2", "owner-a", map[string]any{"instanceId": "r2"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	count, err := backend.DeleteExpired(time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
