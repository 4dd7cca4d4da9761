package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/chat"
	"github.com/shopmindai/chatcore/internal/presence"
)

type fakeDispatcher struct {
	joinCalls []string
	sendCalls []chat.SendMessageInput
	joinErr   error
	sendErr   error
}

func (f *fakeDispatcher) JoinConversation(ctx context.Context, userID, conversationID string) error {
	f.joinCalls = append(f.joinCalls, conversationID)
	return f.joinErr
}

func (f *fakeDispatcher) SendMessage(ctx context.Context, in chat.SendMessageInput) (*chat.Message, error) {
	f.sendCalls = append(f.sendCalls, in)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &chat.Message{ID: 1}, nil
}

func newTestBroker(d Dispatcher) *Broker {
	pres := presence.New(nil, nil)
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return New(pres, d, log, nil)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDispatchFrame_JoinRoutesToDispatcher(t *testing.T) {
	d := &fakeDispatcher{}
	b := newTestBroker(d)
	sess := newTestSession(4)
	sess.UserID = "u1"

	b.dispatchFrame(context.Background(), sess, &InboundFrame{Tag: TagJoin, ConversationID: "c1"})
	require.Len(t, d.joinCalls, 1)
	assert.Equal(t, "c1", d.joinCalls[0])
}

func TestDispatchFrame_ChatMessageRoutesToDispatcher(t *testing.T) {
	d := &fakeDispatcher{}
	b := newTestBroker(d)
	sess := newTestSession(4)
	sess.UserID = "u1"

	payload, _ := json.Marshal(map[string]string{"type": "text", "content": "hi"})
	b.dispatchFrame(context.Background(), sess, &InboundFrame{Tag: TagChatMessage, ConversationID: "c1", Payload: payload})

	require.Len(t, d.sendCalls, 1)
	assert.Equal(t, "c1", d.sendCalls[0].ConversationID)
	assert.Equal(t, "hi", d.sendCalls[0].Content)
}

func TestDispatchFrame_PingRepliesWithPong(t *testing.T) {
	b := newTestBroker(&fakeDispatcher{})
	sess := newTestSession(4)

	b.dispatchFrame(context.Background(), sess, &InboundFrame{Tag: TagPing})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.queue, 1)
	assert.Equal(t, TagOutPong, sess.queue[0].frame.Tag)
}

func TestDispatchFrame_UnknownTagRepliesWithError(t *testing.T) {
	b := newTestBroker(&fakeDispatcher{})
	sess := newTestSession(4)

	b.dispatchFrame(context.Background(), sess, &InboundFrame{Tag: "bogus"})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.queue, 1)
	assert.Equal(t, TagOutError, sess.queue[0].frame.Tag)
}

func TestBackpressure_PongSurvivesEvictionBeforeMessage(t *testing.T) {
	b := newTestBroker(&fakeDispatcher{})
	sess := newTestSession(1)

	// A non-critical message frame occupies the session's single queue
	// slot, the same shape DeliverToUser leaves behind for a recipient.
	sess.Enqueue(&OutboundFrame{Tag: TagOutMessage, Payload: "m1"}, false)

	// A pong is critical (SPEC_FULL.md supplemented feature 6) and must
	// evict the queued message rather than be dropped itself or mark the
	// session for disconnect.
	b.dispatchFrame(context.Background(), sess, &InboundFrame{Tag: TagPing})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.queue, 1)
	assert.Equal(t, TagOutPong, sess.queue[0].frame.Tag)
}

func TestBackpressure_ErrorSurvivesEvictionBeforeUserOnline(t *testing.T) {
	b := newTestBroker(&fakeDispatcher{})
	sess := newTestSession(1)

	sess.Enqueue(&OutboundFrame{Tag: TagOutUserOnline, Payload: "u2"}, false)

	b.dispatchFrame(context.Background(), sess, &InboundFrame{Tag: "bogus"})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.queue, 1)
	assert.Equal(t, TagOutError, sess.queue[0].frame.Tag)
}

func TestDeliverToUser_EnqueuesToEverySessionOfUser(t *testing.T) {
	b := newTestBroker(&fakeDispatcher{})
	s1 := newTestSession(4)
	s2 := newTestSession(4)
	b.byUser = map[string]map[string]*Session{
		"u1": {"s1": s1, "s2": s2},
	}

	err := b.DeliverToUser("u1", &chat.OutboundMessage{ConversationID: "c1", Message: &chat.Message{ID: 5}})
	require.NoError(t, err)

	s1.mu.Lock()
	assert.Len(t, s1.queue, 1)
	s1.mu.Unlock()
	s2.mu.Lock()
	assert.Len(t, s2.queue, 1)
	s2.mu.Unlock()
}
