// Package eventbus publishes pipeline and per-batch activity over NATS
// core pub/sub. Unlike the teacher's queue/nats package, this is
// deliberately JetStream-free: delivery is fire-and-forget and best-effort
// (spec §4.3) since history is always recoverable from BatchLog; there is
// no persisted replay to configure.
package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// EventType names the kind of event carried in an envelope.
type EventType string

const (
	// Pipeline channel events.
	EventBatchQueued    EventType = "batch_queued"
	EventBatchStarted   EventType = "batch_started"
	EventBatchCompleted EventType = "batch_completed"
	EventBatchRetry     EventType = "batch_retry"

	// Batch log channel events.
	EventConnected    EventType = "connected"
	EventLog          EventType = "log"
	EventPOUpdate     EventType = "po_update"
	EventStatusChange EventType = "status_change"
)

// PipelineSubject is the global subject carrying batch lifecycle events.
const PipelineSubject = "poresolve.pipeline"

// BatchLogSubject returns the per-batch subject for a batch's live channel.
func BatchLogSubject(batchID string) string {
	return fmt.Sprintf("poresolve.batch.%s.log", batchID)
}

// UploadProgressSubject returns the per-job subject carrying an upload
// job's progress/complete/error frames (spec §6 `GET /upload/progress/{jobId}`).
func UploadProgressSubject(jobID string) string {
	return fmt.Sprintf("poresolve.upload.%s.progress", jobID)
}

// Envelope is the JSON payload carried on every subject.
type Envelope struct {
	Type       EventType      `json:"type"`
	BatchID    string         `json:"batchId"`
	SupplierID string         `json:"supplierId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	TS         int64          `json:"ts"`
}

// Bus publishes and subscribes to pipeline and batch-log events.
type Bus struct {
	conn *nats.Conn
}

// New wraps an existing NATS connection.
func New(conn *nats.Conn) *Bus {
	return &Bus{conn: conn}
}

// PublishPipeline publishes a global pipeline event. Errors are non-fatal
// to the caller's own transaction — publication is fire-and-forget per
// spec §4.3 and callers should log rather than fail on a publish error.
func (b *Bus) PublishPipeline(env Envelope) error {
	return b.publish(PipelineSubject, env)
}

// PublishBatchLog publishes an event on a single batch's live channel.
func (b *Bus) PublishBatchLog(batchID string, env Envelope) error {
	return b.publish(BatchLogSubject(batchID), env)
}

// PublishUploadProgress publishes a progress/complete/error frame for a
// single upload job's SSE stream.
func (b *Bus) PublishUploadProgress(jobID string, env Envelope) error {
	return b.publish(UploadProgressSubject(jobID), env)
}

func (b *Bus) publish(subject string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscription wraps a NATS subscription delivering decoded envelopes.
type Subscription struct {
	sub *nats.Subscription
	ch  chan Envelope
}

// SubscribePipeline opens a subscription to the global pipeline subject.
func (b *Bus) SubscribePipeline() (*Subscription, error) {
	return b.subscribe(PipelineSubject)
}

// SubscribeBatchLog opens a subscription to a single batch's live channel.
func (b *Bus) SubscribeBatchLog(batchID string) (*Subscription, error) {
	return b.subscribe(BatchLogSubject(batchID))
}

// SubscribeUploadProgress opens a subscription to a single upload job's
// progress stream.
func (b *Bus) SubscribeUploadProgress(jobID string) (*Subscription, error) {
	return b.subscribe(UploadProgressSubject(jobID))
}

func (b *Bus) subscribe(subject string) (*Subscription, error) {
	ch := make(chan Envelope, 64)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		select {
		case ch <- env:
		default:
			// Slow subscriber: drop rather than block the NATS dispatch
			// goroutine. SSE handlers reconcile via the stats endpoint on
			// reconnect (spec §4.3), so a dropped event is recoverable.
		}
	})
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &Subscription{sub: sub, ch: ch}, nil
}

// Events returns the channel of decoded envelopes for this subscription.
func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// Close unsubscribes and releases the subscription's channel.
func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}
