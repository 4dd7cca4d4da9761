package keys

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopmindai/chatcore/internal/apperr"
)

// SessionKeyRecord is the in-memory session key (spec.md §3 SessionKey).
type SessionKeyRecord struct {
	KeyValue       string
	UserID         string
	ConversationID string
	CreatedAt      time.Time
	LastActiveAt   time.Time
}

type sessionKeyMap struct {
	mu sync.Mutex
	// byPair indexes the live key for a (userID, conversationID) pair for
	// idempotent reuse.
	byPair map[string]string
	byKey  map[string]*SessionKeyRecord
}

func newSessionKeyMap() sessionKeyMap {
	return sessionKeyMap{
		byPair: make(map[string]string),
		byKey:  make(map[string]*SessionKeyRecord),
	}
}

func pairKey(userID, conversationID string) string {
	return userID + "\x00" + conversationID
}

// IssueSessionKey implements spec.md §4.D session key issuance: idempotent
// reuse if a live key already exists for (userID, conversationID).
func (s *Service) IssueSessionKey(_ context.Context, userID, conversationID string) (*SessionKeyRecord, error) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()

	pk := pairKey(userID, conversationID)
	if existing, ok := s.sessions.byPair[pk]; ok {
		if rec, ok := s.sessions.byKey[existing]; ok {
			return rec, nil
		}
	}

	randomPart, err := randomAlphanumeric(18)
	if err != nil {
		return nil, apperr.Internal(err, "generate session key material")
	}
	raw := fmt.Sprintf("ws%s%s%d%s", userID, conversationID, s.clock.NowMicros(), randomPart)
	sum := sha512.Sum512([]byte(raw))
	keyValue := hex.EncodeToString(sum[:])[:64]

	now := s.clock.Now()
	rec := &SessionKeyRecord{
		KeyValue:       keyValue,
		UserID:         userID,
		ConversationID: conversationID,
		CreatedAt:      now,
		LastActiveAt:   now,
	}
	s.sessions.byPair[pk] = keyValue
	s.sessions.byKey[keyValue] = rec

	return rec, nil
}

// ValidateSessionKey returns (userID, conversationID) and bumps
// last_active_at.
func (s *Service) ValidateSessionKey(_ context.Context, keyValue string) (userID, conversationID string, err error) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()

	rec, ok := s.sessions.byKey[keyValue]
	if !ok {
		return "", "", apperr.NotFound("session key not found")
	}
	rec.LastActiveAt = s.clock.Now()
	return rec.UserID, rec.ConversationID, nil
}

// RemoveSessionKey unconditionally and synchronously removes a session
// key on disconnect (spec.md §4.D: "removed on disconnect").
func (s *Service) RemoveSessionKey(_ context.Context, keyValue string) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()

	rec, ok := s.sessions.byKey[keyValue]
	if !ok {
		return
	}
	delete(s.sessions.byKey, keyValue)
	delete(s.sessions.byPair, pairKey(rec.UserID, rec.ConversationID))
}
