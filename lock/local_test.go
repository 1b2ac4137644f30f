package lock

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalManager(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, manager *LocalManager,
	){
		"test serializes same key":      testSerializesSameKey,
		"test error releases the lease": testErrorReleases,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewLocalManager())
		})
	}
}

func testSerializesSameKey(t *testing.T, manager *LocalManager) {
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = manager.WithLock("task:1", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func testErrorReleases(t *testing.T, manager *LocalManager) {
	boom := errors.New("boom")
	err := manager.WithLock("instance:1", func() error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// the lease is free again after a failing critical section
	err = manager.WithLock("instance:1", func() error {
		return nil
	})
	require.NoError(t, err)
}
