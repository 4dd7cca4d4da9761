package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/clock"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (f *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) snapshot() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kafka.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func newTestWriter(p *fakeProducer) *Writer {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return NewWithProducer(p, log, clock.NewMock(time.Unix(1700000000, 0).UTC()))
}

type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRecord_PublishesMarshaledEntry(t *testing.T) {
	p := &fakeProducer{}
	w := newTestWriter(p)

	w.Record(context.Background(), "user-1", "create_comment", "post", 42)

	waitFor(t, func() bool { return len(p.snapshot()) == 1 })

	var got Entry
	require.NoError(t, json.Unmarshal(p.snapshot()[0].Value, &got))
	assert.Equal(t, "user-1", got.ActorID)
	assert.Equal(t, "create_comment", got.Action)
	assert.Equal(t, "post", got.ResourceType)
	assert.EqualValues(t, 42, got.ResourceID)
}

func TestRecordWithRequestContext_IncludesRequestFields(t *testing.T) {
	p := &fakeProducer{}
	w := newTestWriter(p)

	w.RecordWithRequestContext(context.Background(), "user-1", "delete_post", "post", 7, "1.2.3.4", "curl/8.0", "trace-abc")

	waitFor(t, func() bool { return len(p.snapshot()) == 1 })

	var got Entry
	require.NoError(t, json.Unmarshal(p.snapshot()[0].Value, &got))
	assert.Equal(t, "1.2.3.4", got.IP)
	assert.Equal(t, "curl/8.0", got.UserAgent)
	assert.Equal(t, "trace-abc", got.TraceID)
}

func TestRecordMention_PublishesMentionIntent(t *testing.T) {
	p := &fakeProducer{}
	w := newTestWriter(p)

	w.RecordMention(context.Background(), 99, "user-2")

	waitFor(t, func() bool { return len(p.snapshot()) == 1 })

	var got MentionIntent
	require.NoError(t, json.Unmarshal(p.snapshot()[0].Value, &got))
	assert.EqualValues(t, 99, got.MessageID)
	assert.Equal(t, "user-2", got.MentionedUserID)
}

func TestRecord_PublishFailureIsSwallowed(t *testing.T) {
	p := &fakeProducer{err: assert.AnError}
	w := newTestWriter(p)

	assert.NotPanics(t, func() {
		w.Record(context.Background(), "user-1", "create_comment", "post", 1)
		time.Sleep(10 * time.Millisecond)
	})
}

func TestClose_DelegatesToProducer(t *testing.T) {
	p := &fakeProducer{}
	w := newTestWriter(p)
	assert.NoError(t, w.Close())
}
