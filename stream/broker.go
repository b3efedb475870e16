package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Relay bridges events to other broker instances (for example over
// Redis pub/sub) so that a client subscribed on one server still sees
// transitions applied on another. Publishing is fire-and-forget from
// the broker's point of view.
type Relay interface {
	Publish(ctx context.Context, evt *Event) error
}

// Broker is the notification fan-out. The engine calls the Emit helpers
// after each committed job transition; the broker broadcasts the
// resulting event to the asset topic, the job topic, and the firehose.
// Broadcasting never blocks: slow or absent subscribers drop events.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	origin string

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Optional cross-instance relay.
	relay Relay

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// WithRelay attaches a cross-instance relay. Events emitted by this
// broker are republished through the relay; events injected by the
// relay are delivered locally only.
func WithRelay(r Relay) BrokerOption {
	return func(b *Broker) { b.relay = r }
}

// NewBroker creates a broker. A nil logger falls back to slog.Default().
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		origin:         uuid.NewString(),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Origin returns the broker's instance identifier, stamped on every
// event it emits.
func (b *Broker) Origin() string { return b.origin }

// SetRelay attaches a relay after construction. Relays need the broker
// to inject remote events, so they are usually built second and wired
// back in here.
func (b *Broker) SetRelay(r Relay) { b.relay = r }

// Topics returns the topic registry for external use (e.g., the API's
// notification endpoints).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// ── Emit helpers ────────────────────────────────────

// EmitEnqueued publishes a job.enqueued event for a freshly created job.
func (b *Broker) EmitEnqueued(ctx context.Context, j *job.Job) {
	b.emit(ctx, EventJobEnqueued, j)
}

// EmitClaimed publishes a job.claimed event after a successful claim.
func (b *Broker) EmitClaimed(ctx context.Context, j *job.Job) {
	b.emit(ctx, EventJobClaimed, j)
}

// EmitCompleted publishes a job.completed event with the thumbnail
// reference clients use to fetch the image.
func (b *Broker) EmitCompleted(ctx context.Context, j *job.Job) {
	b.emit(ctx, EventJobCompleted, j)
}

// EmitFailed publishes a job.failed event for a terminally failed job.
func (b *Broker) EmitFailed(ctx context.Context, j *job.Job) {
	b.emit(ctx, EventJobFailed, j)
}

// EmitRequeued publishes a job.requeued event when a job returns to
// pending for another attempt.
func (b *Broker) EmitRequeued(ctx context.Context, j *job.Job) {
	b.emit(ctx, EventJobRequeued, j)
}

func (b *Broker) emit(ctx context.Context, eventType EventType, j *job.Job) {
	evt := &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Topic:     AssetTopic(j.AssetID),
		Origin:    b.origin,
		Data: mustMarshal(JobStatusData{
			JobID:              j.ID.String(),
			AssetID:            j.AssetID,
			Status:             string(j.Status),
			AttemptCount:       j.AttemptCount,
			ContentFingerprint: j.ContentFingerprint,
			ThumbnailPath:      j.ThumbnailPath,
			ErrorMessage:       j.ErrorMessage,
			ClaimOwner:         j.ClaimOwner,
		}),
	}

	b.broadcast(evt, JobTopic(j.ID.String()))

	if b.relay != nil {
		// Relay failures degrade to local-only delivery; clients on
		// other instances fall back to polling.
		if err := b.relay.Publish(ctx, evt); err != nil {
			b.logger.Warn("relay publish failed",
				slog.String("topic", evt.Topic),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Inject delivers an event produced by another broker instance to local
// subscribers. Events carrying this broker's own origin are ignored to
// prevent relay loops.
func (b *Broker) Inject(evt *Event) {
	if evt == nil || evt.Origin == b.origin {
		return
	}

	var extra string
	var data JobStatusData
	if json.Unmarshal(evt.Data, &data) == nil && data.JobID != "" {
		extra = JobTopic(data.JobID)
	}
	b.broadcast(evt, extra)
}

// broadcast delivers evt to the firehose, the event's primary topic,
// and any extra topics.
func (b *Broker) broadcast(evt *Event, extra ...string) {
	topics := make([]string, 0, 2+len(extra))
	topics = append(topics, TopicJobs)
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	for _, t := range extra {
		if t != "" {
			topics = append(topics, t)
		}
	}

	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// Shutdown closes every subscriber and clears the registry.
func (b *Broker) Shutdown(_ context.Context) {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
}
