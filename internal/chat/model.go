// Package chat implements spec.md §4.G: conversations, membership,
// message fan-out, and the offline spool, adapted from the teacher's
// single-user LLM conversation model (internal/domain/conversation.go)
// onto a multi-user membership model.
package chat

import "time"

// ConversationKind distinguishes a two-party private conversation from
// a named group conversation (spec.md §3).
type ConversationKind string

const (
	KindPrivate ConversationKind = "private"
	KindGroup   ConversationKind = "group"
)

// Conversation mirrors spec.md §3's Conversation entity.
type Conversation struct {
	ID        string `gorm:"primaryKey"`
	Kind      ConversationKind
	Name      string
	OwnerID   *string
	DeletedAt *time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (Conversation) TableName() string { return "conversations" }

// Member mirrors spec.md §3's ConversationMember entity. At most one
// row per (ConversationID, UserID) may have LeftAt == nil.
type Member struct {
	ID             int64  `gorm:"primaryKey"`
	ConversationID string `gorm:"index"`
	UserID         string `gorm:"index"`
	JoinedAt       time.Time
	LeftAt         *time.Time
}

func (Member) TableName() string { return "conversation_members" }

// IsActive reports whether this membership row is currently active.
func (m *Member) IsActive() bool { return m.LeftAt == nil }

// MessageType enumerates spec.md §3's message content kinds.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageVoice  MessageType = "voice"
	MessageVideo  MessageType = "video"
	MessageSystem MessageType = "system"
)

// Message mirrors spec.md §3's Message entity. Messages are append-only
// except for soft delete.
type Message struct {
	ID             int64  `gorm:"primaryKey"`
	ConversationID string `gorm:"index"`
	SenderID       string
	Type           MessageType
	Content        string
	FileURL        *string
	FileName       *string
	FileSize       *int64
	DeletedAt      *time.Time `gorm:"index"`
	CreatedAt      time.Time
}

func (Message) TableName() string { return "messages" }

// OfflineSpoolEntry mirrors spec.md §3's OfflineSpoolEntry: exists iff
// the message has not yet been confirmed delivered to UserID in real
// time.
type OfflineSpoolEntry struct {
	ID        int64 `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	MessageID int64
	CreatedAt time.Time
}

func (OfflineSpoolEntry) TableName() string { return "offline_messages" }

// ConversationSummary is one row of the user's conversation list,
// ordered by most-recent-activity (spec.md §4.G list-conversations).
type ConversationSummary struct {
	Conversation  *Conversation
	LastMessageAt *time.Time
}
