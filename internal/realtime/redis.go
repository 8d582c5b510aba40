package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher publishes envelopes on the channel <prefix>:<room> so other
// API replicas can relay them to their own SSE subscribers.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Channel(room string) string {
	return p.prefix + ":" + room
}

func (p *RedisPublisher) Publish(ctx context.Context, room, event string, payload any) error {
	b, err := json.Marshal(Envelope{Room: room, Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.Channel(room), b).Err()
}
