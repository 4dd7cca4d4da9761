package chat

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a fake Store used by unit tests.
type InMemoryStore struct {
	mu sync.Mutex

	conversations map[string]*Conversation
	members       []Member
	messages      map[int64]*Message
	spool         map[int64]OfflineSpoolEntry

	nextMemberID  int64
	nextMessageID int64
	nextSpoolID   int64
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[int64]*Message),
		spool:         make(map[int64]OfflineSpoolEntry),
	}
}

func (s *InMemoryStore) FindActivePrivateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.Kind != KindPrivate || c.DeletedAt != nil {
			continue
		}
		active := s.activeMembersLocked(c.ID)
		if len(active) == 2 && containsBoth(active, a, b) {
			return c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) CreateConversation(ctx context.Context, c *Conversation, members []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	for _, m := range members {
		s.nextMemberID++
		s.members = append(s.members, Member{ID: s.nextMemberID, ConversationID: c.ID, UserID: m, JoinedAt: c.CreatedAt})
	}
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[conversationID], nil
}

func (s *InMemoryStore) activeMembersLocked(conversationID string) []string {
	var out []string
	for _, m := range s.members {
		if m.ConversationID == conversationID && m.IsActive() {
			out = append(out, m.UserID)
		}
	}
	return out
}

func (s *InMemoryStore) ActiveMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeMembersLocked(conversationID), nil
}

func (s *InMemoryStore) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ConversationID == conversationID && m.UserID == userID && m.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) WasMember(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ConversationID == conversationID && m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) AddMembers(ctx context.Context, conversationID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.nextMemberID++
		s.members = append(s.members, Member{ID: s.nextMemberID, ConversationID: conversationID, UserID: id, JoinedAt: timeNow()})
	}
	return nil
}

func (s *InMemoryStore) InsertMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	m.ID = s.nextMessageID
	cp := *m
	s.messages[m.ID] = &cp
	*m = cp
	return nil
}

func (s *InMemoryStore) InsertSpoolEntries(ctx context.Context, userIDs []string, messageID int64, createdAtMicros int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range userIDs {
		s.nextSpoolID++
		s.spool[s.nextSpoolID] = OfflineSpoolEntry{ID: s.nextSpoolID, UserID: uid, MessageID: messageID, CreatedAt: microsToTime(createdAtMicros)}
	}
	return nil
}

func (s *InMemoryStore) SpooledMessages(ctx context.Context, userID string) ([]*Message, []int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []OfflineSpoolEntry
	for _, e := range s.spool {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].MessageID < entries[j].MessageID })

	var messages []*Message
	var spoolIDs []int64
	for _, e := range entries {
		messages = append(messages, s.messages[e.MessageID])
		spoolIDs = append(spoolIDs, e.ID)
	}
	return messages, spoolIDs, nil
}

func (s *InMemoryStore) DeleteSpoolEntries(ctx context.Context, spoolIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range spoolIDs {
		delete(s.spool, id)
	}
	return nil
}

func (s *InMemoryStore) ConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ConversationSummary
	for _, c := range s.conversations {
		if c.DeletedAt != nil {
			continue
		}
		if !containsString(s.activeMembersLocked(c.ID), userID) {
			continue
		}
		last := c.CreatedAt
		for _, m := range s.messages {
			if m.ConversationID == c.ID && m.DeletedAt == nil && m.CreatedAt.After(last) {
				last = m.CreatedAt
			}
		}
		out = append(out, &ConversationSummary{Conversation: c, LastMessageAt: &last})
	}
	sortSummariesNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) MessageHistory(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *InMemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func containsBoth(list []string, a, b string) bool {
	return containsString(list, a) && containsString(list, b)
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
