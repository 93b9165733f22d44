package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"geoinsight/api/internal/model"
	"geoinsight/api/internal/ratelimit"
)

// NATS ingest bridge wiring. Producers publish location updates to the
// subject; bridge instances share the queue group so each message is
// processed once across replicas.
const (
	SubjectLocationUpdate = "telemetry.location.update"
	bridgeQueue           = "geoinsight-ingest"
)

// UserResolver looks up the account a bridge message belongs to. Satisfied
// by the user service, which caches tier lookups.
type UserResolver interface {
	ByID(ctx context.Context, userID uint) (*model.User, error)
}

// BridgeMessage is the wire format of one location update published to
// SubjectLocationUpdate. The location fields match the HTTP body.
type BridgeMessage struct {
	UserID   uint `json:"user_id"`
	DeviceID uint `json:"device_id"`
	model.LocationUpdateRequest
}

// Bridge consumes location updates from NATS and feeds them through the
// same pipeline and admission control as the HTTP path. Failures are
// logged and dropped; there is no reply channel to report them on.
type Bridge struct {
	nc       *nats.Conn
	pipeline *Pipeline
	users    UserResolver
	limiter  *ratelimit.Limiter
	sub      *nats.Subscription
}

// NewBridge wires the consumer. Start must be called to begin receiving.
func NewBridge(nc *nats.Conn, pipeline *Pipeline, users UserResolver, limiter *ratelimit.Limiter) *Bridge {
	return &Bridge{nc: nc, pipeline: pipeline, users: users, limiter: limiter}
}

// Start subscribes to the location update subject in the shared queue
// group.
func (b *Bridge) Start(ctx context.Context) error {
	sub, err := b.nc.QueueSubscribe(SubjectLocationUpdate, bridgeQueue, func(msg *nats.Msg) {
		b.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectLocationUpdate, err)
	}
	b.sub = sub
	log.Printf("[Bridge] Consuming %s (queue %s)", SubjectLocationUpdate, bridgeQueue)
	return nil
}

// Stop unsubscribes; in-flight handlers finish on their own.
func (b *Bridge) Stop() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
}

func (b *Bridge) handle(ctx context.Context, data []byte) {
	var msg BridgeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[Bridge] Dropping malformed message: %v", err)
		return
	}
	if msg.UserID == 0 || msg.DeviceID == 0 {
		log.Printf("[Bridge] Dropping message without user_id/device_id")
		return
	}

	user, err := b.users.ByID(ctx, msg.UserID)
	if err != nil {
		log.Printf("[Bridge] User lookup failed for %d: %v", msg.UserID, err)
		return
	}

	identifier := fmt.Sprintf("user:%d", user.ID)
	if res := b.limiter.Allow(ctx, identifier, user.Tier); !res.Allowed {
		log.Printf("[Bridge] Rate limited user %d (%s window), dropping update for device %d",
			user.ID, res.Scope, msg.DeviceID)
		return
	}

	if _, err := b.pipeline.UpdateLocation(ctx, user.ID, msg.DeviceID, &msg.LocationUpdateRequest); err != nil {
		log.Printf("[Bridge] Update for device %d failed: %v", msg.DeviceID, err)
	}
}
