package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence/memory"
	"github.com/stretchr/testify/require"
)

func TestDispatcher(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, backend *memory.Backend,
	){
		"test successful delivery":            testSuccessfulDelivery,
		"test failing endpoint exhausts rows": testFailingEndpointExhaustsRows,
		"test network failure recorded":       testNetworkFailureRecorded,
		"test headers carry event identity":   testHeaders,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, memory.NewBackend())
		})
	}
}

func newTestDispatcher(backend *memory.Backend, maxRetries int) *Dispatcher {
	return NewDispatcher(backend.WebhookLogStorage(), backend.DelayQueue(), Config{
		Timeout:      time.Second,
		MaxRetries:   maxRetries,
		BaseDelay:    5 * time.Millisecond,
		PollInterval: 1,
	})
}

// drain polls the delivery queue until delayed retries have had time to
// come due.
func drain(d *Dispatcher, rounds int) {
	for i := 0; i < rounds; i++ {
		d.ProcessDue()
		time.Sleep(15 * time.Millisecond)
	}
}

func testSuccessfulDelivery(t *testing.T, backend *memory.Backend) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(backend, 2)
	d.Send(server.URL, model.WebhookPayload{Event: "node_entered", InstanceId: "inst-1"})
	drain(d, 3)

	rows, err := backend.GetByUrl(server.URL)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Success)
	require.Equal(t, http.StatusOK, rows[0].StatusCode)
	require.Equal(t, 0, rows[0].RetryCount)
}

func testFailingEndpointExhaustsRows(t *testing.T, backend *memory.Backend) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	maxRetries := 2
	d := newTestDispatcher(backend, maxRetries)
	d.Send(server.URL, model.WebhookPayload{Event: "instance_completed", InstanceId: "inst-1"})
	drain(d, 10)

	rows, err := backend.GetByUrl(server.URL)
	require.NoError(t, err)
	require.Len(t, rows, maxRetries+1)
	for i, row := range rows {
		require.False(t, row.Success)
		require.Equal(t, http.StatusInternalServerError, row.StatusCode)
		require.Equal(t, i, row.RetryCount)
	}
}

func testNetworkFailureRecorded(t *testing.T, backend *memory.Backend) {
	// nothing listens on this port, every attempt fails at the transport
	url := "http://127.0.0.1:1/hook"
	d := newTestDispatcher(backend, 0)
	d.Send(url, model.WebhookPayload{Event: "node_entered", InstanceId: "inst-1"})
	drain(d, 2)

	rows, err := backend.GetByUrl(url)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].Success)
	require.Equal(t, 0, rows[0].StatusCode)
	require.Contains(t, rows[0].Response, "webhook delivery to")
	require.Contains(t, rows[0].Response, "attempt 1")
}

func testHeaders(t *testing.T, backend *memory.Backend) {
	var gotEvent, gotInstance, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotInstance = r.Header.Get("X-Instance-Id")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(backend, 0)
	d.Send(server.URL, model.WebhookPayload{Event: "node_entered", InstanceId: "inst-9"})
	drain(d, 2)

	require.Equal(t, "node_entered", gotEvent)
	require.Equal(t, "inst-9", gotInstance)
	require.Equal(t, "application/json", gotContentType)
}
