package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

func TestCommentCooldown_S7(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(base)
	store := NewInMemoryCooldownStore(mock.Now)
	l := New(mock, 100, 100, store, 3*time.Second)

	ctx := context.Background()
	require.NoError(t, l.AllowComment(ctx, "700", "7", "1.2.3.4"))

	mock.Advance(1 * time.Second)
	err := l.AllowComment(ctx, "700", "7", "1.2.3.4")
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.DimensionCooldown, appErr.Dimension)

	mock.Advance(3 * time.Second) // total 4s since first success
	require.NoError(t, l.AllowComment(ctx, "700", "7", "1.2.3.4"))
}

func TestCooldownIsPerActorAndPost(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(base)
	store := NewInMemoryCooldownStore(mock.Now)
	l := New(mock, 100, 100, store, 3*time.Second)
	ctx := context.Background()

	require.NoError(t, l.AllowComment(ctx, "1", "post-A", "ip"))
	// Different post, same actor: not cooled down.
	require.NoError(t, l.AllowComment(ctx, "1", "post-B", "ip"))
	// Different actor, same post: not cooled down.
	require.NoError(t, l.AllowComment(ctx, "2", "post-A", "ip"))
}

func TestTokenBucketDimensions(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(base)
	store := NewInMemoryCooldownStore(mock.Now)
	l := New(mock, 1, 1000, store, time.Millisecond) // actor bucket: burst 1

	ctx := context.Background()
	require.NoError(t, l.AllowComment(ctx, "actorA", "p1", "ip1"))

	err := l.AllowComment(ctx, "actorA", "p2", "ip1") // different post so cooldown wouldn't trip first
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.DimensionActor, appErr.Dimension)
}
