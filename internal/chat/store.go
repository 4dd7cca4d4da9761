package chat

import "context"

// Store is the persistence boundary the Engine drives. The production
// implementation wraps gorm.DB, the same ORM the teacher's
// chat_repository.go binds its domain.Conversation/domain.Message
// structs through.
type Store interface {
	// FindActivePrivateConversation returns the private conversation
	// whose exactly-two active members are {a, b}, or (nil, nil).
	FindActivePrivateConversation(ctx context.Context, a, b string) (*Conversation, error)

	CreateConversation(ctx context.Context, c *Conversation, members []string) error

	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)

	// ActiveMemberIDs returns the user IDs with an active membership row.
	ActiveMemberIDs(ctx context.Context, conversationID string) ([]string, error)
	// IsActiveMember reports whether userID currently has an active
	// membership row in conversationID.
	IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error)
	// WasMember reports whether userID has ever had a membership row
	// (active or past) in conversationID.
	WasMember(ctx context.Context, conversationID, userID string) (bool, error)
	// AddMembers inserts a fresh active row for every userID in ids; it
	// does not check for an existing active row (InviteToGroup filters
	// those out before calling it).
	AddMembers(ctx context.Context, conversationID string, ids []string) error

	InsertMessage(ctx context.Context, m *Message) error

	// InsertSpoolEntries records that messageID has not yet been
	// delivered in real time to each of userIDs.
	InsertSpoolEntries(ctx context.Context, userIDs []string, messageID int64, createdAt int64) error

	// SpooledMessages loads, in ascending message id order, every
	// message still spooled for userID, together with the spool row ids
	// so the caller can delete them after successful delivery.
	SpooledMessages(ctx context.Context, userID string) ([]*Message, []int64, error)
	// DeleteSpoolEntries removes the given spool rows by id.
	DeleteSpoolEntries(ctx context.Context, spoolIDs []int64) error

	// ConversationsForUser returns every non-deleted conversation where
	// userID has an active membership, ordered by most recent message
	// (or conversation creation if no messages exist), newest first.
	ConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// MessageHistory returns non-deleted messages for conversationID,
	// newest first, honoring limit/offset.
	MessageHistory(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error)

	// WithTx runs fn inside a transaction; used by DrainOfflineSpool so
	// the spool delete is atomic with delivery.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
