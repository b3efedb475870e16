// Package stream provides the real-time notification fan-out for job
// status changes. Every lifecycle transition produces an event that is
// broadcast to subscribers via topic-based pub/sub, keyed primarily by
// the asset the job belongs to. Delivery is best-effort and at-most-once
// per subscriber per event: there is no replay or acknowledgment, and a
// subscriber that misses events falls back to polling the job store.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of job status change.
type EventType string

const (
	// EventJobEnqueued is emitted when a new pending job is created.
	EventJobEnqueued EventType = "job.enqueued"
	// EventJobClaimed is emitted when a worker claims a job.
	EventJobClaimed EventType = "job.claimed"
	// EventJobCompleted is emitted when a render finishes and the job
	// becomes ready.
	EventJobCompleted EventType = "job.completed"
	// EventJobFailed is emitted when a job exhausts its attempt budget.
	EventJobFailed EventType = "job.failed"
	// EventJobRequeued is emitted when a failed or lease-expired job
	// returns to pending for another attempt.
	EventJobRequeued EventType = "job.requeued"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	// Type identifies the status change.
	Type EventType `json:"type" msgpack:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts" msgpack:"ts"`

	// Topic is the primary channel this event was published on,
	// always the asset topic of the job that changed.
	Topic string `json:"topic" msgpack:"topic"`

	// Origin identifies the broker instance that produced the event.
	// Relays use it to avoid republishing their own traffic.
	Origin string `json:"origin,omitempty" msgpack:"origin,omitempty"`

	// Data is the JobStatusData payload.
	Data json.RawMessage `json:"data" msgpack:"data"`

	// Credits is set only on frames a client sends back over the
	// notification channel: a flow-control grant allowing that many
	// more deliveries. Server-emitted events never carry it.
	Credits int64 `json:"credits,omitempty" msgpack:"credits,omitempty"`
}

// NewCreditGrant builds the inbound frame a client sends to replenish
// its flow-control window.
func NewCreditGrant(n int64) *Event {
	return &Event{Credits: n}
}

// JobStatusData is the payload carried by every event: enough for a
// client to update its view of the asset's thumbnail without a follow-up
// request.
type JobStatusData struct {
	JobID              string `json:"job_id"`
	AssetID            int64  `json:"asset_id"`
	Status             string `json:"status"`
	AttemptCount       int    `json:"attempt_count"`
	ContentFingerprint string `json:"content_fingerprint,omitempty"`
	ThumbnailPath      string `json:"thumbnail_path,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	ClaimOwner         string `json:"claim_owner,omitempty"`
}
