package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// LocalTransport delivers changes inside one process through a buffered
// queue drained by Run. When the queue is full the change is dropped.
type LocalTransport struct {
	queue chan Change
}

func NewLocalTransport(buffer int) *LocalTransport {
	return &LocalTransport{queue: make(chan Change, buffer)}
}

func (t *LocalTransport) Publish(_ context.Context, change Change) error {
	select {
	case t.queue <- change:
		return nil
	default:
		return fmt.Errorf("feed: local queue full, dropped change for %s", change.ProfileID)
	}
}

func (t *LocalTransport) Run(ctx context.Context, hub *Hub) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-t.queue:
			hub.Dispatch(change)
		}
	}
}

// RedisTransport fans changes out across processes with Redis pub/sub, one
// channel per profile.
type RedisTransport struct {
	client *redis.Client
	prefix string
	ready  chan struct{}
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{
		client: client,
		prefix: "avatar:changes:",
		ready:  make(chan struct{}),
	}
}

func (t *RedisTransport) channel(profileID string) string {
	return t.prefix + profileID
}

func (t *RedisTransport) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel(change.ProfileID), payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Ready is closed once the pattern subscription has been confirmed.
func (t *RedisTransport) Ready() <-chan struct{} {
	return t.ready
}

// Run subscribes to every profile channel and dispatches messages until ctx
// is done. Messages published while Run is not connected are lost.
func (t *RedisTransport) Run(ctx context.Context, hub *Hub) error {
	pubsub := t.client.PSubscribe(ctx, t.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}
	close(t.ready)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("change subscription closed")
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Printf("feed: drop malformed change on %s: %v", msg.Channel, err)
				continue
			}
			if change.ProfileID == "" {
				change.ProfileID = strings.TrimPrefix(msg.Channel, t.prefix)
			}
			hub.Dispatch(change)
		}
	}
}
