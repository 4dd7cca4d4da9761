package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

func newVerifier(mock *clock.Mock) (*Verifier, *InMemoryNonceCache) {
	cache := NewInMemoryNonceCache(mock.Now)
	v := New(mock, []byte("auth-secret"), []byte("jwt-secret"), 300*time.Second, cache)
	return v, cache
}

func sign(t *testing.T, secret string, params map[string]string, ts int64, nonce, uidHash string) string {
	t.Helper()
	canonical := CanonicalString(params, ts, nonce, uidHash)
	return Sign([]byte(secret), canonical)
}

func TestVerifySigned_S5_ReplayRejected(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(base)
	v, _ := newVerifier(mock)

	ctx := context.Background()
	params := map[string]string{"post_id": "1", "content": "hi"}
	ts := base.Unix()
	uidHash := "abcdefghijklmnopqrstuvwxyz0123456789" // 36 chars; the slice below keeps it at 36
	uidHash = uidHash[:36]
	nonce := "N"

	sig := sign(t, "auth-secret", params, ts, nonce, uidHash)

	_, err := v.VerifySigned(ctx, params, ts, nonce, uidHash, sig)
	require.NoError(t, err)

	// Second request, same (uidHash, nonce): replay.
	_, err = v.VerifySigned(ctx, params, ts, nonce, uidHash, sig)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindAuthFailed, appErr.Kind)

	// New nonce, ts+1: succeeds.
	sig2 := sign(t, "auth-secret", params, ts+1, "N2", uidHash)
	_, err = v.VerifySigned(ctx, params, ts+1, "N2", uidHash, sig2)
	require.NoError(t, err)
}

func TestVerifySigned_ExpiredTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(base)
	v, _ := newVerifier(mock)

	params := map[string]string{}
	ts := base.Add(-301 * time.Second).Unix()
	uidHash := "abcdefghijklmnopqrstuvwxyz0123456789"[:36]
	sig := sign(t, "auth-secret", params, ts, "n", uidHash)

	_, err := v.VerifySigned(context.Background(), params, ts, "n", uidHash, sig)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindAuthExpired, appErr.Kind)
}

func TestVerifySigned_MalformedUIDHash(t *testing.T) {
	base := time.Now()
	mock := clock.NewMock(base)
	v, _ := newVerifier(mock)

	params := map[string]string{}
	ts := base.Unix()
	sig := sign(t, "auth-secret", params, ts, "n", "too-short")

	_, err := v.VerifySigned(context.Background(), params, ts, "n", "too-short", sig)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindAuthMalformed, appErr.Kind)
}

func TestVerifySigned_BadSignature(t *testing.T) {
	base := time.Now()
	mock := clock.NewMock(base)
	v, _ := newVerifier(mock)

	params := map[string]string{"a": "1"}
	ts := base.Unix()
	uidHash := "abcdefghijklmnopqrstuvwxyz0123456789"[:36]

	_, err := v.VerifySigned(context.Background(), params, ts, "n", uidHash, "deadbeef")
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindAuthFailed, appErr.Kind)
}

func TestCanonicalStringOrdering(t *testing.T) {
	params := map[string]string{"zeta": "1", "alpha": "2"}
	got := CanonicalString(params, 1000, "nonce1", "uid")
	assert.Equal(t, "alpha=2&zeta=1&ts=1000&nonce=nonce1&uid_hash=uid", got)
}

func TestVerifyBearer(t *testing.T) {
	mock := clock.NewMock(time.Now())
	v, _ := newVerifier(mock)

	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	admitted, err := v.VerifyBearer(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", admitted.Subject)
}

func TestVerifyBearer_MissingSub(t *testing.T) {
	mock := clock.NewMock(time.Now())
	v, _ := newVerifier(mock)

	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	_, err = v.VerifyBearer(context.Background(), signed)
	require.Error(t, err)
}
