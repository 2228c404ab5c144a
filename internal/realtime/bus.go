package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/court-matching/internal/logging"
)

// Envelope is an event addressed to a room. Except names a connection that
// must not receive it.
type Envelope struct {
	Event  string          `json:"event"`
	Room   string          `json:"room"`
	Data   json.RawMessage `json:"data,omitempty"`
	Except string          `json:"except,omitempty"`
}

// Bus carries envelopes between instances. Subscribe and Unsubscribe are
// called with the dispatcher lock held when a room gains its first or loses
// its last local member, so they must not wait on delivery.
type Bus interface {
	Attach(deliver func(Envelope))
	Publish(ctx context.Context, env Envelope) error
	Subscribe(room string) error
	Unsubscribe(room string) error
}

// LocalBus delivers in-process, synchronously.
type LocalBus struct {
	mu      sync.RWMutex
	deliver func(Envelope)
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Attach(deliver func(Envelope)) {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
}

func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	fn := b.deliver
	b.mu.RUnlock()
	if fn != nil {
		fn(env)
	}
	return nil
}

func (b *LocalBus) Subscribe(string) error   { return nil }
func (b *LocalBus) Unsubscribe(string) error { return nil }

// RedisBus publishes envelopes on "<prefix>:<room>" and subscribes only to
// rooms with a member on this instance.
type RedisBus struct {
	client redis.UniversalClient
	prefix string
	ps     *redis.PubSub
	logger *slog.Logger

	mu      sync.RWMutex
	deliver func(Envelope)
}

func NewRedisBus(ctx context.Context, client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisBus {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		// a standing channel keeps the subscription connection open
		ps:     client.Subscribe(ctx, prefix+":_"),
		logger: logging.OrDiscard(logger),
	}
}

func (b *RedisBus) channel(room string) string { return fmt.Sprintf("%s:%s", b.prefix, room) }

func (b *RedisBus) Attach(deliver func(Envelope)) {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(env.Room), payload).Err()
}

func (b *RedisBus) Subscribe(room string) error {
	return b.ps.Subscribe(context.Background(), b.channel(room))
}

func (b *RedisBus) Unsubscribe(room string) error {
	return b.ps.Unsubscribe(context.Background(), b.channel(room))
}

// Run delivers received envelopes until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	ch := b.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return b.ps.Close()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("realtime bus decode failed", "channel", msg.Channel, "error", err)
				continue
			}
			b.mu.RLock()
			fn := b.deliver
			b.mu.RUnlock()
			if fn != nil {
				fn(env)
			}
		}
	}
}

func (b *RedisBus) Close() error { return b.ps.Close() }
