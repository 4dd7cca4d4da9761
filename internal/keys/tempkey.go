// Package keys implements spec.md §4.D: short-lived single-use temp keys
// (persisted, hash-only) and in-memory session keys.
package keys

import (
	"context"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

// TempKeyType distinguishes the out-of-band action a temp key authorizes.
type TempKeyType string

// TempKeyRecord is the persisted row (spec.md §3: TempKey). The raw key
// value is never stored, only KeyHash.
type TempKeyRecord struct {
	ID        int64
	KeyHash   string
	UserID    string
	KeyType   TempKeyType
	Used      bool
	UsedAt    *time.Time
	ExpiresAt time.Time
	Metadata  string
}

// displayGlyphs maps each hex nibble to a decorative private-use glyph,
// fixed 1:1 per spec.md §4.D / SPEC_FULL.md supplemented feature 4. It is
// purely cosmetic: the raw value is still what callers must present back
// to ConsumeTempKey.
var displayGlyphs = [16]rune{
	'', '', '', '',
	'', '', '', '',
	'', '', '', '',
	'', '', '', '',
}

// DisplayForm renders raw (a hex string) through the glyph table.
func DisplayForm(raw string) string {
	out := make([]rune, 0, len(raw))
	for _, c := range raw {
		var nibble int
		switch {
		case c >= '0' && c <= '9':
			nibble = int(c - '0')
		case c >= 'a' && c <= 'f':
			nibble = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			nibble = int(c-'A') + 10
		default:
			// Non-hex characters (from the random alphanumeric seed,
			// before hashing, never reach here in practice) pass through.
			out = append(out, c)
			continue
		}
		out = append(out, displayGlyphs[nibble])
	}
	return string(out)
}

// Store is the persistence boundary for temp keys (postgres via
// database/sql + lib/pq, grounded on the teacher's prepared-statement
// style in chat_repository.go).
type Store interface {
	// FindActive returns the non-used, non-expired temp key for
	// (userID, keyType), or sql.ErrNoRows if none exists.
	FindActive(ctx context.Context, userID string, keyType TempKeyType) (*TempKeyRecord, error)
	// Insert persists a new temp key row.
	Insert(ctx context.Context, rec *TempKeyRecord) error
	// FindByHash looks up a temp key by its hash, or sql.ErrNoRows.
	FindByHash(ctx context.Context, keyHash string) (*TempKeyRecord, error)
	// MarkUsed atomically flips used=true iff it is currently false,
	// returning false if another consumer already won the race.
	MarkUsed(ctx context.Context, id int64, usedAt time.Time) (bool, error)
	// DeleteExpiredBefore removes rows whose expires_at is older than
	// cutoff (spec.md §4.D housekeeping: "retained briefly for audit").
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IssuedTempKey is returned once on issuance: Raw must be shown/stored by
// the caller now, the service never returns it again.
type IssuedTempKey struct {
	Raw         string
	DisplayForm string
	ExpiresAt   time.Time
}

// Service implements the temp-key and session-key lifecycles.
type Service struct {
	clock clock.Clock
	store Store
	ttl   time.Duration

	sessions sessionKeyMap
}

// New builds a Service. ttl should be TEMP_KEY_TTL_SECS (default 180s).
func New(c clock.Clock, store Store, ttl time.Duration) *Service {
	return &Service{
		clock:    c,
		store:    store,
		ttl:      ttl,
		sessions: newSessionKeyMap(),
	}
}

// IssueTempKey implements spec.md §4.D temp key issuance.
func (s *Service) IssueTempKey(ctx context.Context, userID, username, userAgent string, keyType TempKeyType, metadata string) (*IssuedTempKey, error) {
	_, err := s.store.FindActive(ctx, userID, keyType)
	switch {
	case err == nil:
		return nil, apperr.New(apperr.KindConcurrentKey, "an active temp key already exists for this user/type")
	case errors.Is(err, sql.ErrNoRows):
		// expected path
	default:
		return nil, apperr.Internal(err, "find active temp key")
	}

	randomPart, err := randomAlphanumeric(36)
	if err != nil {
		return nil, apperr.Internal(err, "generate key material")
	}

	raw := fmt.Sprintf("%s%s%d%s%s", userID, username, s.clock.NowMicros(), randomPart, userAgent)
	sum := sha512.Sum512([]byte(raw))
	// "128-bit" in spec terminology == 128 hex characters == full 512-bit
	// digest (spec.md Design Notes); sha512.Sum512 already yields exactly
	// 128 hex characters when encoded, so no truncation is needed here.
	hexDigest := hex.EncodeToString(sum[:])

	now := s.clock.Now()
	rec := &TempKeyRecord{
		KeyHash:   hexDigest,
		UserID:    userID,
		KeyType:   keyType,
		ExpiresAt: now.Add(s.ttl),
		Metadata:  metadata,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, apperr.Internal(err, "insert temp key")
	}

	return &IssuedTempKey{
		Raw:         hexDigest,
		DisplayForm: DisplayForm(hexDigest),
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// ConsumeTempKey implements spec.md §4.D temp key consumption, including
// its documented error-check ordering.
func (s *Service) ConsumeTempKey(ctx context.Context, raw, requesterUserID string) (*TempKeyRecord, error) {
	rec, err := s.store.FindByHash(ctx, raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("temp key not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "find temp key by hash")
	}

	now := s.clock.Now()
	if now.After(rec.ExpiresAt) {
		return nil, apperr.Gone("temp key expired")
	}
	if rec.Used {
		return nil, apperr.New(apperr.KindAlreadyUsed, "temp key already used")
	}
	if rec.UserID != requesterUserID {
		return nil, apperr.New(apperr.KindForbidden, "temp key belongs to a different user")
	}

	won, err := s.store.MarkUsed(ctx, rec.ID, now)
	if err != nil {
		return nil, apperr.Internal(err, "mark temp key used")
	}
	if !won {
		return nil, apperr.New(apperr.KindAlreadyUsed, "temp key already used")
	}

	rec.Used = true
	rec.UsedAt = &now
	return rec, nil
}

// Sweep implements the spec.md §4.D housekeeping pass: removes rows whose
// expires_at is older than now - 3600s.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-1 * time.Hour)
	return s.store.DeleteExpiredBefore(ctx, cutoff)
}
