package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(base)
	assert.Equal(t, base, m.Now())

	m.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), m.Now())
	assert.Equal(t, base.Add(90*time.Second).UnixMicro(), m.NowMicros())
}

func TestRandomAlphanumeric(t *testing.T) {
	s, err := RandomAlphanumeric(36)
	require.NoError(t, err)
	require.Len(t, s, 36)
	for _, r := range s {
		assert.Contains(t, alphanumeric, string(r))
	}
}

func TestFreshTokensAreUnique(t *testing.T) {
	a := FreshIdempotencyKey()
	b := FreshIdempotencyKey()
	assert.NotEqual(t, a, b)

	n1 := FreshNonce()
	n2 := FreshNonce()
	assert.NotEqual(t, n1, n2)
}
