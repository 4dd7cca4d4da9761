package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// GormStore is the production Store, grounded on the teacher's
// chat_repository.go, which binds internal/domain structs through
// gorm.DB the same way.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-opened *gorm.DB (postgres driver).
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindActivePrivateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_members m1 ON m1.conversation_id = conversations.id AND m1.user_id = ? AND m1.left_at IS NULL", a).
		Joins("JOIN conversation_members m2 ON m2.conversation_id = conversations.id AND m2.user_id = ? AND m2.left_at IS NULL", b).
		Where("conversations.kind = ? AND conversations.deleted_at IS NULL", KindPrivate).
		Where(`(SELECT count(*) FROM conversation_members m3 WHERE m3.conversation_id = conversations.id AND m3.left_at IS NULL) = 2`).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *GormStore) CreateConversation(ctx context.Context, c *Conversation, members []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		rows := make([]Member, 0, len(members))
		for _, m := range members {
			rows = append(rows, Member{ConversationID: c.ID, UserID: m, JoinedAt: c.CreatedAt})
		}
		return tx.Create(&rows).Error
	})
}

func (s *GormStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var c Conversation
	err := s.db.WithContext(ctx).First(&c, "id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) ActiveMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Member{}).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *GormStore) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Member{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) WasMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Member{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) AddMembers(ctx context.Context, conversationID string, ids []string) error {
	rows := make([]Member, 0, len(ids))
	now := timeNow()
	for _, id := range ids {
		rows = append(rows, Member{ConversationID: conversationID, UserID: id, JoinedAt: now})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormStore) InsertMessage(ctx context.Context, m *Message) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) InsertSpoolEntries(ctx context.Context, userIDs []string, messageID int64, createdAtMicros int64) error {
	rows := make([]OfflineSpoolEntry, 0, len(userIDs))
	createdAt := microsToTime(createdAtMicros)
	for _, uid := range userIDs {
		rows = append(rows, OfflineSpoolEntry{UserID: uid, MessageID: messageID, CreatedAt: createdAt})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormStore) SpooledMessages(ctx context.Context, userID string) ([]*Message, []int64, error) {
	var entries []OfflineSpoolEntry
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("message_id ASC").Find(&entries).Error; err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, nil
	}

	ids := make([]int64, 0, len(entries))
	spoolIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.MessageID)
		spoolIDs = append(spoolIDs, e.ID)
	}

	var messages []*Message
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&messages).Error; err != nil {
		return nil, nil, err
	}
	return messages, spoolIDs, nil
}

func (s *GormStore) DeleteSpoolEntries(ctx context.Context, spoolIDs []int64) error {
	if len(spoolIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&OfflineSpoolEntry{}, spoolIDs).Error
}

func (s *GormStore) ConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	var convs []*Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_members m ON m.conversation_id = conversations.id AND m.user_id = ? AND m.left_at IS NULL", userID).
		Where("conversations.deleted_at IS NULL").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}

	out := make([]*ConversationSummary, 0, len(convs))
	for _, c := range convs {
		var last Message
		lastErr := s.db.WithContext(ctx).
			Where("conversation_id = ? AND deleted_at IS NULL", c.ID).
			Order("created_at DESC, id DESC").First(&last).Error
		summary := &ConversationSummary{Conversation: c}
		if lastErr == nil {
			summary.LastMessageAt = &last.CreatedAt
		} else {
			summary.LastMessageAt = &c.CreatedAt
		}
		out = append(out, summary)
	}

	sortSummariesNewestFirst(out)
	return out, nil
}

func (s *GormStore) MessageHistory(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error) {
	var messages []*Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND deleted_at IS NULL", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	return messages, err
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func sortSummariesNewestFirst(summaries []*ConversationSummary) {
	for i := 1; i < len(summaries); i++ {
		j := i
		for j > 0 && summaries[j-1].LastMessageAt.Before(*summaries[j].LastMessageAt) {
			summaries[j-1], summaries[j] = summaries[j], summaries[j-1]
			j--
		}
	}
}
