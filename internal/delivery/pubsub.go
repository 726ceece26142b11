package delivery

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// channelPattern matches every per-conversation delivery channel.
const channelPattern = "deliver:*"

func channelFor(tenantID, conversationID string) string {
	return "deliver:" + tenantID + ":" + conversationID
}

// Publisher sends payloads toward whichever front-end owns the target
// connection. Workers hold a Publisher, never a Hub: the process that
// computes a result is typically not the process holding the socket.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher builds a publisher on the given client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish fans the payload out to the conversation's channel. The returned
// bool reports whether any subscriber received the envelope. Since every
// front-end PSubscribes to all delivery channels it is true whenever a relay
// is up, even if no hub holds the target connection; actual misses surface
// only in the hub's delivery_pushes_total{outcome="miss"} counter. False
// means no relay at all, which is a delivery miss, not an error (the
// transcript still records the exchange).
func (p *Publisher) Publish(ctx context.Context, tenantID, conversationID string, payload Payload) (bool, error) {
	raw, err := envelope{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Payload:        payload,
	}.encode()
	if err != nil {
		return false, fmt.Errorf("encode delivery envelope: %w", err)
	}
	n, err := p.rdb.Publish(ctx, channelFor(tenantID, conversationID), raw).Result()
	if err != nil {
		return false, fmt.Errorf("publish delivery: %w", err)
	}
	return n > 0, nil
}

// Relay subscribes to all delivery channels and forwards each payload to the
// local hub. Every API front-end runs one relay; payloads for conversations
// without a local connection are dropped by the hub (best effort).
type Relay struct {
	rdb *redis.Client
	hub *Hub

	Log zerolog.Logger
}

// NewRelay builds a relay feeding the given hub.
func NewRelay(rdb *redis.Client, hub *Hub, log zerolog.Logger) *Relay {
	return &Relay{rdb: rdb, hub: hub, Log: log}
}

// Run blocks until ctx is cancelled, forwarding published payloads to the
// local hub.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, channelPattern)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.Log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed delivery envelope")
				continue
			}
			r.hub.Push(env.TenantID, env.ConversationID, env.Payload)
		}
	}
}
