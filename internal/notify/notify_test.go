package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgbatch/internal/models"
)

// testDispatcher returns a dispatcher with deterministic jitter and a sleep
// stub that records delays instead of waiting.
func testDispatcher(jitter float64) (*Dispatcher, *[]time.Duration) {
	delays := &[]time.Duration{}
	d := NewDispatcher()
	d.sleep = func(dur time.Duration) { *delays = append(*delays, dur) }
	d.jitter = func() float64 { return jitter }
	return d, delays
}

// dropConnections closes the TCP connection for the first n requests so the
// client sees a transport failure, then answers 200.
func dropConnections(n int32, attempts *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(attempts, 1) <= n {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func TestDeliverSucceedsAfterTransportFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(dropConnections(2, &attempts))
	defer srv.Close()

	d, delays := testDispatcher(0)
	ok := d.Deliver(context.Background(), srv.URL, Payload{RequestID: "req-1"})

	assert.True(t, ok)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.Len(t, *delays, 2)
	assert.Equal(t, 1*time.Second, (*delays)[0])
	assert.Equal(t, 2*time.Second, (*delays)[1])
}

func TestDeliverExhaustsAttemptBudget(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(dropConnections(100, &attempts))
	defer srv.Close()

	d, delays := testDispatcher(0)
	ok := d.Deliver(context.Background(), srv.URL, Payload{RequestID: "req-1"})

	assert.False(t, ok)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Len(t, *delays, 2)
}

func TestDeliverDoesNotRetryHTTPErrorStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, delays := testDispatcher(0)
	ok := d.Deliver(context.Background(), srv.URL, Payload{RequestID: "req-1"})

	// Only transport failures retry; a receiver error status is final.
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Empty(t, *delays)
}

func TestDeliverPostsExpectedJSON(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := &models.Request{ID: "req-1", Status: models.RequestPartiallyCompleted}
	counts := models.ProductCounts{Total: 4, Completed: 3, Failed: 1}
	payload := BuildPayload(req, counts, time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC))

	d, _ := testDispatcher(0)
	require.True(t, d.Deliver(context.Background(), srv.URL, payload))

	assert.Equal(t, "req-1", got["request_id"])
	assert.Equal(t, "PARTIALLY_COMPLETED", got["status"])
	assert.InDelta(t, 75.0, got["progress"].(float64), 0.001)
	assert.Equal(t, "2025-03-09T12:00:00Z", got["timestamp"])
	details := got["details"].(map[string]interface{})
	assert.Equal(t, float64(4), details["total"])
	assert.Equal(t, float64(3), details["completed"])
	assert.Equal(t, float64(1), details["failed"])
	assert.Equal(t, float64(0), details["in_progress"])
	assert.NotEmpty(t, got["message"])
}

func TestBuildPayloadEmptyBatch(t *testing.T) {
	req := &models.Request{ID: "req-1", Status: models.RequestCompleted}
	payload := BuildPayload(req, models.ProductCounts{}, time.Now())
	assert.Zero(t, payload.Progress)
	assert.Zero(t, payload.Details.Total)
}

func TestBackoffDelayWindow(t *testing.T) {
	for attempt := 2; attempt <= 3; attempt++ {
		unjittered := backoffBase * time.Duration(1<<uint(attempt-2))
		low := backoffDelay(attempt, -jitterFraction)
		high := backoffDelay(attempt, jitterFraction)
		mid := backoffDelay(attempt, 0)

		assert.Equal(t, unjittered, mid)
		assert.Equal(t, time.Duration(float64(unjittered)*0.8), low)
		assert.Equal(t, time.Duration(float64(unjittered)*1.2), high)
		assert.GreaterOrEqual(t, low, minDelay)
	}
}

func TestBackoffDelayFloor(t *testing.T) {
	// Even a pathological jitter draw never yields less than the floor.
	assert.Equal(t, minDelay, backoffDelay(2, -1.0))
}

func TestPingReportsTransportFailureOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	d, _ := testDispatcher(0)

	// Any HTTP answer means the endpoint is reachable.
	assert.NoError(t, d.Ping(context.Background(), srv.URL))

	srv.Close()
	assert.Error(t, d.Ping(context.Background(), srv.URL))
}
