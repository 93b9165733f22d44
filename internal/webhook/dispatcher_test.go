package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoinsight/api/internal/config"
	"geoinsight/api/internal/model"
)

// sink records webhook deliveries and answers from a scripted status list,
// repeating the last status once the script runs out.
type sink struct {
	mu       sync.Mutex
	statuses []int
	requests []*http.Request
	bodies   [][]byte
}

func (s *sink) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(context.Background()))
	s.bodies = append(s.bodies, body)
	status := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	s.mu.Unlock()
	w.WriteHeader(status)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *sink) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", n, s.count())
}

func newTestDispatcher(queueSize int) *Dispatcher {
	cfg := &config.Config{
		WebhookTimeout:   5 * time.Second,
		WebhookWorkers:   2,
		WebhookQueueSize: queueSize,
	}
	d := NewDispatcher(nil, nil, cfg, clockwork.NewRealClock())
	d.backoff = []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	return d
}

func testJob(url, secret string) job {
	payload, _ := json.Marshal(model.WebhookPayload{
		EventType:  model.EventEnter,
		DeviceID:   42,
		GeofenceID: 9,
		Location:   model.Coordinates{Latitude: 52.525, Longitude: 13.375},
		Timestamp:  time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC),
	})
	return job{
		sub: model.WebhookSubscription{
			UserID:     7,
			GeofenceID: 9,
			URL:        url,
			Events:     []string{model.EventEnter},
			Headers:    map[string]string{"X-Custom": "yes"},
			Secret:     secret,
			Active:     true,
		},
		eventID: "evt_test",
		payload: payload,
		event:   model.EventEnter,
		attempt: 1,
	}
}

func TestDeliverySucceeds(t *testing.T) {
	s := &sink{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := newTestDispatcher(16)
	d.deliver(context.Background(), testJob(srv.URL, "topsecret"))

	require.Equal(t, 1, s.count())
	req := s.requests[0]
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, config.ServiceName+"/"+config.ServiceVersion, req.Header.Get("User-Agent"))
	assert.Equal(t, model.EventEnter, req.Header.Get(EventHeader))
	assert.Equal(t, "evt_test", req.Header.Get(IDHeader))
	assert.Equal(t, "yes", req.Header.Get("X-Custom"))

	timestamp := req.Header.Get(TimestampHeader)
	require.NotEmpty(t, timestamp)
	assert.True(t, VerifySignature(s.bodies[0], timestamp, req.Header.Get(SignatureHeader), "topsecret"))

	var payload model.WebhookPayload
	require.NoError(t, json.Unmarshal(s.bodies[0], &payload))
	assert.Equal(t, uint(42), payload.DeviceID)
	assert.Equal(t, uint(9), payload.GeofenceID)
}

func TestNoSignatureWithoutSecret(t *testing.T) {
	s := &sink{statuses: []int{http.StatusNoContent}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := newTestDispatcher(16)
	d.deliver(context.Background(), testJob(srv.URL, ""))

	require.Equal(t, 1, s.count())
	assert.Empty(t, s.requests[0].Header.Get(SignatureHeader))
}

func TestRetryUntilAccepted(t *testing.T) {
	s := &sink{statuses: []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := newTestDispatcher(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.worker(ctx)

	d.enqueue(testJob(srv.URL, ""))
	s.waitFor(t, 3)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []int{http.StatusOK}, s.statuses)
}

func TestGivesUpAfterBackoffExhausted(t *testing.T) {
	s := &sink{statuses: []int{http.StatusInternalServerError}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := newTestDispatcher(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.worker(ctx)

	d.enqueue(testJob(srv.URL, ""))

	// Initial attempt plus one retry per backoff step, then no more.
	s.waitFor(t, 1+len(d.backoff))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1+len(d.backoff), s.count())
}

func TestFullQueueShedsInsteadOfBlocking(t *testing.T) {
	d := newTestDispatcher(1) // no workers draining

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.enqueue(testJob("http://localhost:1/hook", ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Equal(t, 1, len(d.queue))
}

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"event_type":"enter"}`)
	sig := Signature(payload, "1752667200", "s3cret")
	assert.Contains(t, sig, "sha256=")
	assert.True(t, VerifySignature(payload, "1752667200", sig, "s3cret"))
	assert.False(t, VerifySignature(payload, "1752667200", sig, "wrong"))
	assert.False(t, VerifySignature(payload, "1752667201", sig, "s3cret"))
}
