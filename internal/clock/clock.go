// Package clock provides the single time source and identifier minting
// used across the core so that tests can control both deterministically.
package clock

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// SkewTolerance is the documented cross-node clock skew tolerance for
// timestamp comparisons (spec.md §4.A).
const SkewTolerance = 5 * time.Second

// Clock is the time source every engine depends on instead of calling
// time.Now directly, so tests can freeze or advance it.
type Clock interface {
	// Now returns the current wall-clock time, UTC.
	Now() time.Time
	// NowMicros returns the current wall-clock time as microseconds
	// since the Unix epoch, the precision spec.md's key-derivation
	// material is specified in.
	NowMicros() int64
}

// System is the production Clock backed by the OS wall clock.
type System struct{}

// New returns the production wall-clock implementation.
func New() Clock { return System{} }

func (System) Now() time.Time { return time.Now().UTC() }

func (System) NowMicros() int64 { return time.Now().UnixMicro() }

// FreshIdempotencyKey mints a caller-supplied-style token for callers that
// need the core to generate one on their behalf (e.g. test harnesses); in
// normal operation the idempotency key is supplied by the caller.
func FreshIdempotencyKey() string {
	return uuid.New().String()
}

// FreshNonce mints a nonce suitable for the admission layer's replay cache.
func FreshNonce() string {
	return uuid.New().String()
}

// alphanumeric is the character set used for random material embedded in
// temp-key and session-key derivation (spec.md §4.D).
const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomAlphanumeric returns n cryptographically random alphanumeric
// characters.
func RandomAlphanumeric(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}
