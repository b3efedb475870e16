// Package redisrelay bridges the in-process notification broker across
// service instances using Redis pub/sub. Events emitted locally are
// published to a shared channel; events received from the channel are
// injected into the local broker, which discards its own origin.
package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Papyszoo/Modelibr-sub004/stream"
)

// DefaultChannel is the Redis pub/sub channel events travel on.
const DefaultChannel = "thumbq:events"

var _ stream.Relay = (*Relay)(nil)

// Relay publishes broker events to Redis and feeds remote events back
// into the broker.
type Relay struct {
	client  redis.UniversalClient
	broker  *stream.Broker
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannel overrides the pub/sub channel name.
func WithChannel(channel string) Option {
	return func(r *Relay) { r.channel = channel }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// New creates a relay over the given Redis client. The relay does not
// own the client and never closes it.
func New(client redis.UniversalClient, broker *stream.Broker, opts ...Option) *Relay {
	r := &Relay{
		client:  client,
		broker:  broker,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish sends a broker event to the shared channel.
func (r *Relay) Publish(ctx context.Context, evt *stream.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("thumbq/redisrelay: marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("thumbq/redisrelay: publish: %w", err)
	}
	return nil
}

// Start subscribes to the shared channel and begins injecting remote
// events into the broker. It returns once the subscription is
// established.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	// Receive forces the SUBSCRIBE round trip so a publish immediately
	// after Start is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("thumbq/redisrelay: subscribe: %w", err)
	}

	r.pubsub = pubsub
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.receiveLoop(pubsub.Channel())

	r.logger.Info("redis relay started", "channel", r.channel)
	return nil
}

func (r *Relay) receiveLoop(ch <-chan *redis.Message) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt stream.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				r.logger.Warn("discarding malformed relay event", "error", err)
				continue
			}
			// Inject drops events carrying the local broker's origin.
			r.broker.Inject(&evt)
		}
	}
}

// Stop tears down the subscription and waits for the receive loop.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub == nil {
		return nil
	}

	close(r.stopCh)
	err := r.pubsub.Close()
	r.wg.Wait()
	r.pubsub = nil

	if err != nil {
		return fmt.Errorf("thumbq/redisrelay: close subscription: %w", err)
	}
	return nil
}
