package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/chat"
	"github.com/shopmindai/chatcore/internal/presence"
)

// outboundQueueSize is the per-session bounded queue depth; exceeding it
// evicts the oldest non-critical frame (spec.md §4.H).
const outboundQueueSize = 256

// Dispatcher is the control-plane + chat-engine boundary the Broker
// drives for each decoded inbound frame. Its method set matches
// *chat.Engine directly so cmd/server can wire one in without an
// adapter; tests substitute a fake.
type Dispatcher interface {
	JoinConversation(ctx context.Context, userID, conversationID string) error
	SendMessage(ctx context.Context, in chat.SendMessageInput) (*chat.Message, error)
}

// Broker is the Transport Broker (spec.md §4.H): a persistent
// bidirectional session manager, generalized from the teacher's
// Hub/Client in websocket_handler.go onto the spec's frame vocabulary.
type Broker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session

	presence *presence.Registry
	dispatch Dispatcher
	log      *logrus.Logger

	// onClose is invoked after a session's pumps exit, so cmd/server can
	// release the session key bound to this handle (spec.md §4.H).
	onClose func(userID, handle string)
}

// New builds a Broker. onClose may be nil.
func New(pres *presence.Registry, dispatch Dispatcher, log *logrus.Logger, onClose func(userID, handle string)) *Broker {
	return &Broker{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		presence: pres,
		dispatch: dispatch,
		log:      log,
		onClose:  onClose,
	}
}

// Accept registers a newly upgraded connection and runs its pumps to
// completion. It blocks until the session closes, matching the
// teacher's per-connection goroutine-owns-its-lifetime shape — the
// caller runs Accept in its own goroutine per HTTP upgrade.
func (b *Broker) Accept(userID string, conn *websocket.Conn) {
	handle := uuid.New().String()
	entry := logrus.NewEntry(b.log).WithField("session", handle).WithField("user_id", userID)
	sess := NewSession(handle, userID, conn, outboundQueueSize, entry)

	b.register(userID, sess)
	b.presence.Connect(userID, handle)

	go sess.WritePump()
	sess.ReadPump(func(f *InboundFrame) {
		b.dispatchFrame(context.Background(), sess, f)
	})

	b.unregister(userID, sess)
	b.presence.Disconnect(userID, handle)
	if b.onClose != nil {
		b.onClose(userID, handle)
	}
}

func (b *Broker) register(userID string, sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sess.Handle] = sess
	if b.byUser[userID] == nil {
		b.byUser[userID] = make(map[string]*Session)
	}
	b.byUser[userID][sess.Handle] = sess
}

func (b *Broker) unregister(userID string, sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sess.Handle)
	if set, ok := b.byUser[userID]; ok {
		delete(set, sess.Handle)
		if len(set) == 0 {
			delete(b.byUser, userID)
		}
	}
}

func (b *Broker) dispatchFrame(ctx context.Context, sess *Session, f *InboundFrame) {
	switch f.Tag {
	case TagJoin:
		if err := b.dispatch.JoinConversation(ctx, sess.UserID, f.ConversationID); err != nil {
			sess.Enqueue(&OutboundFrame{Tag: TagOutError, Payload: err.Error()}, true)
		}
	case TagLeave:
		// No persistent per-conversation subscription state is kept at
		// the transport layer today; membership lives in internal/chat.
	case TagChatMessage:
		var payload struct {
			Type    chat.MessageType `json:"type"`
			Content string           `json:"content"`
		}
		_ = json.Unmarshal(f.Payload, &payload)
		_, err := b.dispatch.SendMessage(ctx, chat.SendMessageInput{
			ConversationID: f.ConversationID,
			SenderID:       sess.UserID,
			Type:           payload.Type,
			Content:        payload.Content,
		})
		if err != nil {
			sess.Enqueue(&OutboundFrame{Tag: TagOutError, Payload: err.Error()}, true)
		}
	case TagMessage:
		// Reserved for non-chat control pass-through; no semantics are
		// defined beyond chat_message today.
	case TagPing:
		sess.Enqueue(&OutboundFrame{Tag: TagOutPong}, true)
	default:
		sess.Enqueue(&OutboundFrame{Tag: TagOutError, Payload: "unknown frame tag"}, true)
	}
}

// DeliverToUser implements chat.Broker: it hands the message to every
// open session of userID. SPEC_FULL.md's frame-criticality table marks
// "message" non-critical (droppable under backpressure) so a slow
// consumer's queue never starves its own heartbeat pong/error frames.
// The message is already persisted by this point, so a dropped live
// frame can be re-read from message history; the offline spool (§4.G)
// only covers members who were offline at send time.
func (b *Broker) DeliverToUser(userID string, out *chat.OutboundMessage) error {
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.byUser[userID]))
	for _, s := range b.byUser[userID] {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	frame := &OutboundFrame{Tag: TagOutMessage, Payload: out}
	for _, s := range sessions {
		s.Enqueue(frame, false)
	}
	return nil
}

// BroadcastPresence sends a user_online/user_offline frame to userID's
// own open sessions only; other members of userID's conversations are
// not sent the frame. cmd/server wires this as the presence.Registry's
// online/offline callback.
func (b *Broker) BroadcastPresence(userID, tag string) {
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.byUser[userID]))
	for _, s := range b.byUser[userID] {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	frame := &OutboundFrame{Tag: tag, Payload: userID}
	for _, s := range sessions {
		s.Enqueue(frame, false)
	}
}
