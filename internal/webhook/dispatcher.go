package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/config"
	"geoinsight/api/internal/eventbus"
	"geoinsight/api/internal/metrics"
	"geoinsight/api/internal/model"
)

// Webhook request headers.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	EventHeader     = "X-Webhook-Event"
	IDHeader        = "X-Webhook-ID"
)

// deliveryLogDepth caps the per-day per-url delivery log length.
const deliveryLogDepth = 1000

// job is one pending delivery attempt.
type job struct {
	sub     model.WebhookSubscription
	eventID string
	payload []byte
	event   string
	attempt int
}

// Dispatcher delivers transition events to subscribed endpoints through a
// bounded worker pool. The queue sheds when full: a stalled consumer
// endpoint must never back-pressure into the ingestion path.
type Dispatcher struct {
	subs    *Subscriptions
	cache   *cache.Cache
	client  *http.Client
	clock   clockwork.Clock
	queue   chan job
	workers int
	backoff []time.Duration
}

// NewDispatcher builds the dispatcher from config. Run starts it.
func NewDispatcher(subs *Subscriptions, c *cache.Cache, cfg *config.Config, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		subs:    subs,
		cache:   c,
		client:  &http.Client{Timeout: cfg.WebhookTimeout},
		clock:   clock,
		queue:   make(chan job, cfg.WebhookQueueSize),
		workers: cfg.WebhookWorkers,
		backoff: []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
	}
}

// Run subscribes to the event bus and starts the worker pool. It returns
// immediately; workers drain until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, bus *eventbus.Bus) {
	events, cancel := bus.Subscribe(d.workers * 4)
	go func() {
		<-ctx.Done()
		cancel()
	}()

	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}

	go func() {
		for event := range events {
			d.Dispatch(ctx, &event)
		}
	}()
	log.Printf("[Webhook] Dispatcher running with %d workers, queue %d", d.workers, cap(d.queue))
}

// Dispatch resolves the event's subscription and enqueues a delivery if one
// wants this event type.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.GeofenceEvent) {
	sub, err := d.subs.Get(ctx, event.UserID, event.GeofenceID)
	if err != nil {
		return // no subscription, or registry unavailable
	}
	if !sub.Wants(event.EventType) {
		return
	}

	payload, err := json.Marshal(model.WebhookPayload{
		EventType:  event.EventType,
		DeviceID:   event.DeviceID,
		GeofenceID: event.GeofenceID,
		Location:   event.Point,
		Timestamp:  event.Timestamp,
		Metadata:   event.Metadata,
	})
	if err != nil {
		log.Printf("[Webhook] Failed to marshal payload for %s: %v", event.EventID, err)
		return
	}

	d.enqueue(job{
		sub:     *sub,
		eventID: event.EventID,
		payload: payload,
		event:   event.EventType,
		attempt: 1,
	})
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.queue <- j:
		metrics.WebhookQueueDepth.Inc()
	default:
		metrics.WebhookDeliveries.WithLabelValues("shed").Inc()
		log.Printf("[Webhook] ALERT: queue full (%d), shedding delivery of %s to %s",
			cap(d.queue), j.eventID, j.sub.URL)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			metrics.WebhookQueueDepth.Dec()
			d.deliver(ctx, j)
		}
	}
}

// deliver performs one attempt and schedules a retry on failure, up to the
// backoff schedule length.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	start := d.clock.Now()
	status, err := d.post(ctx, &j)
	latency := d.clock.Since(start)

	attempt := model.DeliveryAttempt{
		Success:    err == nil && delivered(status),
		StatusCode: status,
		LatencyMS:  latency.Milliseconds(),
		Attempt:    j.attempt,
		Timestamp:  start.UTC(),
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	d.record(ctx, j.sub.URL, &attempt)

	if attempt.Success {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		return
	}

	if j.attempt > len(d.backoff) {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		log.Printf("[Webhook] Giving up on %s to %s after %d attempts (status %d): %v",
			j.eventID, j.sub.URL, j.attempt, status, err)
		return
	}

	delay := d.backoff[j.attempt-1]
	j.attempt++
	metrics.WebhookDeliveries.WithLabelValues("retried").Inc()
	go func() {
		select {
		case <-ctx.Done():
		case <-d.clock.After(delay):
			d.enqueue(j)
		}
	}()
}

// delivered reports whether the endpoint acknowledged the event.
func delivered(status int) bool {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return true
	}
	return false
}

func (d *Dispatcher) post(ctx context.Context, j *job) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.sub.URL, bytes.NewReader(j.payload))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.ServiceName+"/"+config.ServiceVersion)
	req.Header.Set(EventHeader, j.event)
	req.Header.Set(IDHeader, j.eventID)
	for k, v := range j.sub.Headers {
		req.Header.Set(k, v)
	}

	timestamp := strconv.FormatInt(d.clock.Now().Unix(), 10)
	req.Header.Set(TimestampHeader, timestamp)
	if j.sub.Secret != "" {
		req.Header.Set(SignatureHeader, Signature(j.payload, timestamp, j.sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Signature computes the delivery signature: HMAC-SHA256 over
// timestamp + "." + payload, keyed by the subscription secret.
func Signature(payload []byte, timestamp, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a delivery signature, for consumer-side tests and
// documentation examples.
func VerifySignature(payload []byte, timestamp, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Signature(payload, timestamp, secret)))
}

// record appends the attempt to the day-keyed delivery log for the URL.
func (d *Dispatcher) record(ctx context.Context, url string, attempt *model.DeliveryAttempt) {
	if d.cache == nil {
		return
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		return
	}
	key := cache.DeliveryLogKey(attempt.Timestamp.Format("20060102"), url)
	if err := d.cache.ListPushHead(ctx, key, data); err != nil {
		log.Printf("[Webhook] Delivery log write failed: %v", err)
		return
	}
	d.cache.ListTrimTo(ctx, key, deliveryLogDepth)
	d.cache.Expire(ctx, key, cache.TTLDeliveryLog)
}

// Deliveries reads the delivery log for a URL on a given day, newest first.
func (d *Dispatcher) Deliveries(ctx context.Context, url string, day time.Time) ([]model.DeliveryAttempt, error) {
	key := cache.DeliveryLogKey(day.UTC().Format("20060102"), url)
	raw, err := d.cache.ListRange(ctx, key, 0, deliveryLogDepth-1)
	if err != nil {
		return nil, err
	}
	attempts := make([]model.DeliveryAttempt, 0, len(raw))
	for _, item := range raw {
		var a model.DeliveryAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
