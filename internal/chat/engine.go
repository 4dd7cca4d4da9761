package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

// Presence is the subset of presence.Registry the Engine needs for the
// fan-out decision; declared here so this package doesn't import
// internal/presence directly (kept symmetric with Broker below).
type Presence interface {
	IsOnline(userID string) bool
}

// Broker is the subset of the Transport Broker the Engine needs to
// hand off an outbound envelope to every session of a recipient.
type Broker interface {
	DeliverToUser(userID string, envelope *OutboundMessage) error
}

// OutboundMessage is the envelope the Transport Broker fans out for a
// chat message (spec.md §6 outbound frame tag "message").
type OutboundMessage struct {
	ConversationID string
	Message        *Message
}

// Auditor is the subset of the audit writer the Engine uses to record
// mutations and extract @-mention intent (supplemented feature 1).
type Auditor interface {
	Record(ctx context.Context, actorID, action, resourceType string, resourceID int64)
	RecordMention(ctx context.Context, messageID int64, mentionedUserID string)
}

// Engine implements spec.md §4.G.
type Engine struct {
	store    Store
	presence Presence
	broker   Broker
	audit    Auditor
	clock    clock.Clock
}

// New builds an Engine.
func New(store Store, presence Presence, broker Broker, audit Auditor, c clock.Clock) *Engine {
	return &Engine{store: store, presence: presence, broker: broker, audit: audit, clock: c}
}

// CreatePrivateConversation implements spec.md §4.G's idempotent
// private-conversation creation.
func (e *Engine) CreatePrivateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	if a == b {
		return nil, apperr.BadRequest("private conversation requires two distinct users")
	}

	existing, err := e.store.FindActivePrivateConversation(ctx, a, b)
	if err != nil {
		return nil, apperr.Internal(err, "lookup private conversation")
	}
	if existing != nil {
		return existing, nil
	}

	c := &Conversation{
		ID:        uuid.New().String(),
		Kind:      KindPrivate,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.CreateConversation(ctx, c, []string{a, b}); err != nil {
		return nil, apperr.Internal(err, "create private conversation")
	}
	e.audit.Record(ctx, a, "conversation.create", "conversation", 0)
	return c, nil
}

// CreateGroupConversation implements spec.md §4.G's group creation.
func (e *Engine) CreateGroupConversation(ctx context.Context, owner, name string, initialMembers []string) (*Conversation, error) {
	members := dedupeIncluding(owner, initialMembers)

	c := &Conversation{
		ID:        uuid.New().String(),
		Kind:      KindGroup,
		Name:      name,
		OwnerID:   &owner,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.CreateConversation(ctx, c, members); err != nil {
		return nil, apperr.Internal(err, "create group conversation")
	}
	e.audit.Record(ctx, owner, "conversation.create", "conversation", 0)
	return c, nil
}

// InviteToGroup implements spec.md §4.G's invite preconditions: the
// conversation must exist, not be deleted, be a group, and the inviter
// must be an active member.
func (e *Engine) InviteToGroup(ctx context.Context, conversationID, inviter string, newMembers []string) error {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return apperr.Internal(err, "load conversation")
	}
	if conv == nil {
		return apperr.NotFound("conversation not found")
	}
	if conv.DeletedAt != nil {
		return apperr.Gone("conversation deleted")
	}
	if conv.Kind != KindGroup {
		return apperr.BadRequest("cannot invite into a private conversation")
	}

	active, err := e.store.IsActiveMember(ctx, conversationID, inviter)
	if err != nil {
		return apperr.Internal(err, "check inviter membership")
	}
	if !active {
		return apperr.New(apperr.KindForbidden, "inviter is not an active member")
	}

	var toAdd []string
	for _, m := range newMembers {
		already, err := e.store.IsActiveMember(ctx, conversationID, m)
		if err != nil {
			return apperr.Internal(err, "check member membership")
		}
		if !already {
			toAdd = append(toAdd, m)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}
	if err := e.store.AddMembers(ctx, conversationID, toAdd); err != nil {
		return apperr.Internal(err, "add members")
	}
	e.audit.Record(ctx, inviter, "conversation.invite", "conversation", 0)
	return nil
}

// JoinConversation confirms userID holds active membership in
// conversationID, the precondition for the transport layer to start
// routing that session's "join" subscription (spec.md §6's inbound
// "join" frame carries no semantics beyond this membership check — the
// spec defines no separate room-subscription state).
func (e *Engine) JoinConversation(ctx context.Context, userID, conversationID string) error {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return apperr.Internal(err, "load conversation")
	}
	if conv == nil {
		return apperr.NotFound("conversation not found")
	}
	if conv.DeletedAt != nil {
		return apperr.Gone("conversation deleted")
	}
	active, err := e.store.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return apperr.Internal(err, "check membership")
	}
	if !active {
		return apperr.New(apperr.KindForbidden, "not an active member")
	}
	return nil
}

// SendMessageInput is the input to SendMessage.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Type           MessageType
	Content        string
	FileURL        *string
	FileName       *string
	FileSize       *int64
}

// SendMessage implements spec.md §4.G's send-message preconditions,
// persistence, and at-least-once best-effort fan-out.
func (e *Engine) SendMessage(ctx context.Context, in SendMessageInput) (*Message, error) {
	conv, err := e.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, apperr.Internal(err, "load conversation")
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation not found")
	}
	if conv.DeletedAt != nil {
		return nil, apperr.Gone("conversation deleted")
	}

	active, err := e.store.IsActiveMember(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, apperr.Internal(err, "check sender membership")
	}
	if !active {
		return nil, apperr.New(apperr.KindForbidden, "sender is not an active member")
	}

	msg := &Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           in.Type,
		Content:        in.Content,
		FileURL:        in.FileURL,
		FileName:       in.FileName,
		FileSize:       in.FileSize,
		CreatedAt:      e.clock.Now(),
	}
	if err := e.store.InsertMessage(ctx, msg); err != nil {
		return nil, apperr.Internal(err, "insert message")
	}
	e.audit.Record(ctx, in.SenderID, "message.send", "message", msg.ID)

	e.fanOut(ctx, conv, msg)
	e.recordMentions(ctx, in.ConversationID, msg)

	return msg, nil
}

// fanOut implements spec.md §4.G's fan-out algorithm: online members get
// a best-effort transport delivery; offline members get a spool row.
// Transport delivery failure never rolls back the message — it is
// already durable by this point.
func (e *Engine) fanOut(ctx context.Context, conv *Conversation, msg *Message) {
	members, err := e.store.ActiveMemberIDs(ctx, conv.ID)
	if err != nil {
		return
	}

	var offline []string
	for _, m := range members {
		if m == msg.SenderID {
			continue
		}
		if e.presence.IsOnline(m) {
			e.broker.DeliverToUser(m, &OutboundMessage{ConversationID: conv.ID, Message: msg})
			continue
		}
		offline = append(offline, m)
	}

	if len(offline) > 0 {
		e.store.InsertSpoolEntries(ctx, offline, msg.ID, e.clock.Now().UnixMicro())
	}
}

// recordMentions extracts @user tokens from content and persists intent
// for each (supplemented feature 1); it never blocks message delivery.
func (e *Engine) recordMentions(ctx context.Context, conversationID string, msg *Message) {
	for _, mention := range extractMentions(msg.Content) {
		e.audit.RecordMention(ctx, msg.ID, mention)
	}
}

// DrainOfflineSpool implements spec.md §4.G's drain-on-reconnect: loads
// every spooled message for userID, delivers in ascending message id
// order to every current session, then deletes the spool rows — all in
// one transaction so a mid-drain delivery failure is retried on next
// connect.
func (e *Engine) DrainOfflineSpool(ctx context.Context, userID string) error {
	return e.store.WithTx(ctx, func(tx Store) error {
		messages, spoolIDs, err := tx.SpooledMessages(ctx, userID)
		if err != nil {
			return apperr.Internal(err, "load spooled messages")
		}
		if len(messages) == 0 {
			return nil
		}

		for _, m := range messages {
			if err := e.broker.DeliverToUser(userID, &OutboundMessage{ConversationID: m.ConversationID, Message: m}); err != nil {
				return apperr.Unavailable("spool delivery failed, retry on next connect")
			}
		}

		return tx.DeleteSpoolEntries(ctx, spoolIDs)
	})
}

// ListConversationsForUser implements spec.md §4.G's conversation list.
func (e *Engine) ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	out, err := e.store.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err, "list conversations")
	}
	return out, nil
}

// MessageHistory implements spec.md §4.G's history read; past or
// present members may read.
func (e *Engine) MessageHistory(ctx context.Context, conversationID, requesterID string, limit, offset int) ([]*Message, error) {
	wasMember, err := e.store.WasMember(ctx, conversationID, requesterID)
	if err != nil {
		return nil, apperr.Internal(err, "check membership history")
	}
	if !wasMember {
		return nil, apperr.New(apperr.KindForbidden, "requester was never a member")
	}
	msgs, err := e.store.MessageHistory(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err, "load message history")
	}
	return msgs, nil
}

func dedupeIncluding(owner string, others []string) []string {
	seen := map[string]bool{owner: true}
	out := []string{owner}
	for _, m := range others {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// extractMentions pulls the mentioned user id out of each @user:<id>
// token in message content; this is intent extraction only, no delivery
// (supplemented feature 1).
func extractMentions(content string) []string {
	var mentions []string
	for _, word := range strings.Fields(content) {
		if !strings.HasPrefix(word, "@") {
			continue
		}
		token := strings.TrimFunc(word[1:], func(r rune) bool {
			return !isMentionChar(r)
		})
		id := strings.TrimPrefix(token, "user:")
		if id != "" {
			mentions = append(mentions, id)
		}
	}
	return mentions
}

func isMentionChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
		return true
	default:
		return false
	}
}
