package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/audit"
	"github.com/carlos-burelo/cgsm-tabuladores/engine"
	"github.com/carlos-burelo/cgsm-tabuladores/flow"
	"github.com/carlos-burelo/cgsm-tabuladores/idempotency"
	"github.com/carlos-burelo/cgsm-tabuladores/lock"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/notification"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence/memory"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Backend, *flow.Repository) {
	t.Helper()
	backend := memory.NewBackend()
	auditor := audit.NewService(backend.AuditStorage())
	notifier := notification.NewNotifier(backend.NotificationStorage(), backend.NotificationPublisher())
	flows := flow.NewRepository(backend.FlowStorage(), backend.InstanceStorage(), auditor)
	guard := idempotency.NewGuard(backend.IdempotencyStorage(), time.Hour)
	locks := lock.NewLocalManager()
	eng := engine.NewEngine(locks, flows, backend.InstanceStorage(), auditor, notifier, nil)

	server, err := NewServer(0, flows, eng, auditor, notifier, guard, locks)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts, backend, flows
}

func simpleFlow(t *testing.T, flows *flow.Repository) string {
	t.Helper()
	flowId, err := flows.CreateFlow(model.FlowDefinition{
		Name:         "approval",
		DepartmentId: "dept-1",
		Nodes: []model.FlowNode{
			{Id: "review", Type: model.NODE_TYPE_REVIEW, IsStart: true, Config: map[string]any{"assignedTo": []string{"u1"}}},
		},
	})
	require.NoError(t, err)
	return flowId
}

func postInstance(url string, key string, body []byte) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodPost, url+"/instance", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func TestStartInstanceIdempotency(t *testing.T) {
	ts, backend, flows := newTestServer(t)
	flowId := simpleFlow(t, flows)
	body, err := json.Marshal(model.StartInstanceRequest{
		DocumentId:  "doc-1",
		FlowId:      flowId,
		InitiatorId: "u1",
	})
	require.NoError(t, err)

	const replays = 8
	results := make(chan map[string]any, replays)
	errs := make(chan error, replays)
	var wg sync.WaitGroup
	for i := 0; i < replays; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := postInstance(ts.URL, "request-1", body)
			results <- result
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids := make(map[string]bool)
	for result := range results {
		ids[result["instanceId"].(string)] = true
	}
	require.Len(t, ids, 1)

	count, err := backend.CountActiveInstances(flowId)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// a late replay still reads the cached result
	replay, err := postInstance(ts.URL, "request-1", body)
	require.NoError(t, err)
	require.True(t, ids[replay["instanceId"].(string)])

	// a fresh key executes again
	fresh, err := postInstance(ts.URL, "request-2", body)
	require.NoError(t, err)
	require.False(t, ids[fresh["instanceId"].(string)])
}
