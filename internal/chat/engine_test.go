package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

type fakePresence struct{ online map[string]bool }

func (p *fakePresence) IsOnline(userID string) bool { return p.online[userID] }

type fakeBroker struct {
	delivered []*OutboundMessage
	failNext  bool
}

func (b *fakeBroker) DeliverToUser(userID string, env *OutboundMessage) error {
	if b.failNext {
		b.failNext = false
		return assertErr
	}
	b.delivered = append(b.delivered, env)
	return nil
}

var assertErr = &apperr.Error{Kind: apperr.KindUnavailable, Message: "simulated transport failure"}

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, actorID, action, resourceType string, resourceID int64) {
}
func (noopAudit) RecordMention(ctx context.Context, messageID int64, mentionedUserID string) {}

func newTestEngine() (*Engine, *InMemoryStore, *fakePresence, *fakeBroker) {
	store := NewInMemoryStore()
	presence := &fakePresence{online: make(map[string]bool)}
	broker := &fakeBroker{}
	mock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e := New(store, presence, broker, noopAudit{}, mock)
	return e, store, presence, broker
}

func TestCreatePrivateConversation_Idempotent(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()

	a, err := e.CreatePrivateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	b, err := e.CreatePrivateConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestCreatePrivateConversation_RejectsSelf(t *testing.T) {
	e, _, _, _ := newTestEngine()
	_, err := e.CreatePrivateConversation(context.Background(), "u1", "u1")
	require.Error(t, err)
}

func TestCreateGroupConversation_DedupesMembers(t *testing.T) {
	e, store, _, _ := newTestEngine()
	ctx := context.Background()

	c, err := e.CreateGroupConversation(ctx, "owner", "team", []string{"a", "b", "owner"})
	require.NoError(t, err)

	members, err := store.ActiveMemberIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestInviteToGroup_RequiresActiveInviter(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()

	c, err := e.CreateGroupConversation(ctx, "owner", "team", nil)
	require.NoError(t, err)

	err = e.InviteToGroup(ctx, c.ID, "not-a-member", []string{"x"})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindForbidden, appErr.Kind)
}

func TestInviteToGroup_SkipsAlreadyActive(t *testing.T) {
	e, store, _, _ := newTestEngine()
	ctx := context.Background()

	c, err := e.CreateGroupConversation(ctx, "owner", "team", []string{"a"})
	require.NoError(t, err)

	require.NoError(t, e.InviteToGroup(ctx, c.ID, "owner", []string{"a", "b"}))

	members, err := store.ActiveMemberIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3) // owner, a, b — a not duplicated
}

// TestSendMessage_S4_OfflineThenOnline mirrors spec.md §8 S4.
func TestSendMessage_S4_OfflineThenOnline(t *testing.T) {
	e, store, presence, broker := newTestEngine()
	ctx := context.Background()

	conv, err := e.CreatePrivateConversation(ctx, "u400", "u500")
	require.NoError(t, err)

	msg, err := e.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID, SenderID: "u400", Type: MessageText, Content: "hi",
	})
	require.NoError(t, err)

	_, spoolIDs, err := store.SpooledMessages(ctx, "u500")
	require.NoError(t, err)
	assert.Len(t, spoolIDs, 1)
	assert.Empty(t, broker.delivered)

	presence.online["u500"] = true
	require.NoError(t, e.DrainOfflineSpool(ctx, "u500"))

	require.Len(t, broker.delivered, 1)
	assert.Equal(t, msg.ID, broker.delivered[0].Message.ID)

	_, spoolIDsAfter, err := store.SpooledMessages(ctx, "u500")
	require.NoError(t, err)
	assert.Empty(t, spoolIDsAfter)
}

func TestSendMessage_OnlineRecipientSkipsSpool(t *testing.T) {
	e, store, presence, broker := newTestEngine()
	ctx := context.Background()

	conv, err := e.CreatePrivateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	presence.online["u2"] = true

	_, err = e.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Type: MessageText, Content: "hey"})
	require.NoError(t, err)

	assert.Len(t, broker.delivered, 1)
	_, spoolIDs, err := store.SpooledMessages(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, spoolIDs)
}

func TestSendMessage_RejectsNonMemberSender(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()

	conv, err := e.CreatePrivateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = e.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "intruder", Type: MessageText, Content: "x"})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindForbidden, appErr.Kind)
}

func TestMessageHistory_PastMemberMayRead(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()

	conv, err := e.CreatePrivateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = e.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Type: MessageText, Content: "a"})
	require.NoError(t, err)

	msgs, err := e.MessageHistory(ctx, conv.ID, "u2", 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = e.MessageHistory(ctx, conv.ID, "stranger", 10, 0)
	require.Error(t, err)
}

func TestExtractMentions(t *testing.T) {
	got := extractMentions("hey @bob and @alice, check this @charlie!")
	assert.Equal(t, []string{"bob", "alice", "charlie"}, got)
}

// TestExtractMentions_WireForm covers supplemented feature 1's
// @user:<id> wire form: only the <id> portion becomes the mentioned
// user id, not the literal "user:<id>" token.
func TestExtractMentions_WireForm(t *testing.T) {
	got := extractMentions("ping @user:42 and @user:99!")
	assert.Equal(t, []string{"42", "99"}, got)
}
