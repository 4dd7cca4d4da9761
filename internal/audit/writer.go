// Package audit implements spec.md §6's audit log: a best-effort,
// fire-and-forget write on every successful mutation, grounded on the
// teacher's publishEvent/publishMessage goroutine pattern in
// chat_repository.go (there a stub; here filled in with a real
// kafka-go producer since this core's audit trail is load-bearing).
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/clock"
)

// Entry is the audit tuple spec.md §6 requires on every successful
// mutation.
type Entry struct {
	ActorID      string    `json:"actor_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   int64     `json:"resource_id"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MentionIntent is supplemented feature 1: persisted @-mention intent,
// with no delivery guarantee of its own — it rides the same audit
// pipeline as a distinct event type.
type MentionIntent struct {
	MessageID       int64     `json:"message_id"`
	MentionedUserID string    `json:"mentioned_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// producer is the subset of *kafka.Writer this package drives, narrowed
// so tests can substitute a fake instead of dialing a real broker.
type producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer publishes audit entries to Kafka without blocking the caller;
// publish failures are logged, never returned, matching spec.md §7's
// "audit failures are out of band" stance (the audit log is not in the
// critical path of any operation's success/failure determination).
type Writer struct {
	producer producer
	log      *logrus.Logger
	clock    clock.Clock
}

// New builds a Writer publishing to the given Kafka topic.
func New(brokers []string, topic string, log *logrus.Logger, c clock.Clock) *Writer {
	return &Writer{
		producer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		},
		log:   log,
		clock: c,
	}
}

// NewWithProducer builds a Writer against an arbitrary producer,
// primarily for tests.
func NewWithProducer(p producer, log *logrus.Logger, c clock.Clock) *Writer {
	return &Writer{producer: p, log: log, clock: c}
}

// discardProducer drops every message; it backs NewDiscard.
type discardProducer struct{}

func (discardProducer) WriteMessages(context.Context, ...kafka.Message) error { return nil }
func (discardProducer) Close() error                                         { return nil }

// NewDiscard builds a Writer that records nothing, for DOCS_ONLY_MODE
// runs where no Kafka broker is dialed (spec.md §6).
func NewDiscard(log *logrus.Logger, c clock.Clock) *Writer {
	return &Writer{producer: discardProducer{}, log: log, clock: c}
}

// Record fires off an audit entry write; IP/UserAgent/TraceID are
// request-scoped context passed by the caller since this package has no
// transport dependency.
func (w *Writer) Record(ctx context.Context, actorID, action, resourceType string, resourceID int64) {
	w.recordEntry(ctx, Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		CreatedAt:    w.clock.Now(),
	})
}

// RecordWithRequestContext is Record plus the per-request fields (IP,
// user agent, trace id) the HTTP layer carries.
func (w *Writer) RecordWithRequestContext(ctx context.Context, actorID, action, resourceType string, resourceID int64, ip, userAgent, traceID string) {
	w.recordEntry(ctx, Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IP:           ip,
		UserAgent:    userAgent,
		TraceID:      traceID,
		CreatedAt:    w.clock.Now(),
	})
}

func (w *Writer) recordEntry(ctx context.Context, e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		w.log.WithError(err).Warn("audit: marshal entry failed")
		return
	}
	go w.publish(ctx, "audit", data)
}

// RecordMention persists @-mention intent (supplemented feature 1).
func (w *Writer) RecordMention(ctx context.Context, messageID int64, mentionedUserID string) {
	data, err := json.Marshal(MentionIntent{
		MessageID:       messageID,
		MentionedUserID: mentionedUserID,
		CreatedAt:       w.clock.Now(),
	})
	if err != nil {
		w.log.WithError(err).Warn("audit: marshal mention failed")
		return
	}
	go w.publish(ctx, "mention", data)
}

func (w *Writer) publish(ctx context.Context, key string, value []byte) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.producer.WriteMessages(writeCtx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		w.log.WithError(err).Warn("audit: kafka publish failed")
	}
}

// Close flushes and closes the underlying producer.
func (w *Writer) Close() error {
	return w.producer.Close()
}
