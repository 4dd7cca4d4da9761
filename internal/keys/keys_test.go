package keys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

func TestTempKeyLifecycle_S7Like(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewInMemoryStore()
	svc := New(mock, store, 180*time.Second)
	ctx := context.Background()

	issued, err := svc.IssueTempKey(ctx, "u1", "alice", "ua", "login", "")
	require.NoError(t, err)
	require.NotEmpty(t, issued.Raw)
	require.Len(t, issued.Raw, 128)
	require.NotEmpty(t, issued.DisplayForm)

	// Concurrent issuance is rejected while one is active.
	_, err = svc.IssueTempKey(ctx, "u1", "alice", "ua", "login", "")
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindConcurrentKey, appErr.Kind)

	// Consumption succeeds for the owner.
	rec, err := svc.ConsumeTempKey(ctx, issued.Raw, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Used)

	// Second consumption: AlreadyUsed.
	_, err = svc.ConsumeTempKey(ctx, issued.Raw, "u1")
	require.Error(t, err)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindAlreadyUsed, appErr.Kind)
}

func TestTempKeyConsumption_ErrorOrdering(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewInMemoryStore()
	svc := New(mock, store, 180*time.Second)
	ctx := context.Background()

	// NotFound.
	_, err := svc.ConsumeTempKey(ctx, "deadbeef", "u1")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)

	issued, err := svc.IssueTempKey(ctx, "u2", "bob", "ua", "login", "")
	require.NoError(t, err)

	// Expired.
	mock.Advance(181 * time.Second)
	_, err = svc.ConsumeTempKey(ctx, issued.Raw, "u2")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindGone, appErr.Kind)
}

func TestTempKeyConsumption_ForbiddenOwnerMismatch(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewInMemoryStore()
	svc := New(mock, store, 180*time.Second)
	ctx := context.Background()

	issued, err := svc.IssueTempKey(ctx, "owner", "o", "ua", "login", "")
	require.NoError(t, err)

	_, err = svc.ConsumeTempKey(ctx, issued.Raw, "someone-else")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindForbidden, appErr.Kind)
}

func TestSweepRemovesOldExpiredKeys(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewInMemoryStore()
	svc := New(mock, store, 180*time.Second)
	ctx := context.Background()

	_, err := svc.IssueTempKey(ctx, "u1", "a", "ua", "login", "")
	require.NoError(t, err)

	mock.Advance(2 * time.Hour) // past TTL and past the 3600s retention
	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSessionKeyIdempotentReuse(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewInMemoryStore()
	svc := New(mock, store, 180*time.Second)
	ctx := context.Background()

	a, err := svc.IssueSessionKey(ctx, "u1", "conv1")
	require.NoError(t, err)

	b, err := svc.IssueSessionKey(ctx, "u1", "conv1")
	require.NoError(t, err)
	assert.Equal(t, a.KeyValue, b.KeyValue)

	uid, cid, err := svc.ValidateSessionKey(ctx, a.KeyValue)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
	assert.Equal(t, "conv1", cid)

	svc.RemoveSessionKey(ctx, a.KeyValue)
	_, _, err = svc.ValidateSessionKey(ctx, a.KeyValue)
	require.Error(t, err)

	// Reissuing after removal mints a new key.
	c, err := svc.IssueSessionKey(ctx, "u1", "conv1")
	require.NoError(t, err)
	assert.NotEqual(t, a.KeyValue, c.KeyValue)
}

func TestDisplayFormIsDeterministic(t *testing.T) {
	assert.Equal(t, DisplayForm("abc123"), DisplayForm("abc123"))
	assert.NotEqual(t, DisplayForm("abc123"), DisplayForm("abc124"))
}
