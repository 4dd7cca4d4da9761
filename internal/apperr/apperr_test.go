package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeMapping(t *testing.T) {
	cases := map[*Error]Code{
		NotFound("x"):           CodeNotFound,
		Gone("x"):                CodeGone,
		Locked("x"):               CodeLocked,
		Busy("x"):                 CodeLocked,
		Timeout("x"):              CodeTimeout,
		RateLimited(DimensionIP):  CodeRateLimited,
		New(KindDepthExceeded, ""): CodeUnprocess,
	}
	for err, want := range cases {
		assert.Equal(t, want, err.Code())
	}
}

func TestErrorsIsMatchesOnKind(t *testing.T) {
	base := Gone("post deleted")
	wrapped := Wrap(KindGone, errors.New("sql: no rows"), "post deleted")
	assert.True(t, errors.Is(wrapped, base))
	assert.False(t, errors.Is(wrapped, NotFound("x")))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Internal(cause, "store failure")
	assert.Equal(t, cause, errors.Unwrap(err))
}
