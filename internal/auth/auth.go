// Package auth implements spec.md §4.C: HMAC request signing with replay
// protection, and JWT bearer parsing, as two mutually exclusive admission
// paths on a given request.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shopmindai/chatcore/internal/apperr"
	"github.com/shopmindai/chatcore/internal/clock"
)

var uidHashPattern = regexp.MustCompile(`^[a-zA-Z0-9]{36}$`)

// NonceCache rejects replayed (uid_hash, nonce) pairs within the signature
// validity window (spec.md §4.C, §5).
type NonceCache interface {
	// Insert returns true if (uidHash, nonce) was newly inserted (i.e. not
	// a replay), false if it was already present.
	Insert(ctx context.Context, uidHash, nonce string, ttl time.Duration) (bool, error)
}

// Verifier implements the admission layer.
type Verifier struct {
	clock       clock.Clock
	authSecret  []byte
	jwtSecret   []byte
	sigWindow   time.Duration
	nonceCache  NonceCache
}

// New builds a Verifier. sigWindow should be SIG_WINDOW_SECS (default
// 300s); its value is also the nonce cache TTL per spec.md §4.C.
func New(c clock.Clock, authSecret, jwtSecret []byte, sigWindow time.Duration, nonceCache NonceCache) *Verifier {
	return &Verifier{
		clock:      c,
		authSecret: authSecret,
		jwtSecret:  jwtSecret,
		sigWindow:  sigWindow,
		nonceCache: nonceCache,
	}
}

// Admitted is the verified identity of a request.
type Admitted struct {
	UIDHash string
	Subject string // JWT subject, set only on the bearer path
}

// VerifySigned validates an HMAC-signed request per spec.md §4.C.
// params are the business (non-admission) query parameters.
func (v *Verifier) VerifySigned(ctx context.Context, params map[string]string, ts int64, nonce, uidHash, sig string) (*Admitted, error) {
	now := v.clock.Now().Unix()
	if diff := now - ts; diff > int64(v.sigWindow.Seconds()) || diff < -int64(v.sigWindow.Seconds()) {
		return nil, apperr.New(apperr.KindAuthExpired, "timestamp outside signature window")
	}

	if !uidHashPattern.MatchString(uidHash) {
		return nil, apperr.New(apperr.KindAuthMalformed, "uid_hash must be 36 alphanumeric characters")
	}

	canonical := CanonicalString(params, ts, nonce, uidHash)
	expected := Sign(v.authSecret, canonical)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(sig))) != 1 {
		return nil, apperr.New(apperr.KindAuthFailed, "signature mismatch")
	}

	fresh, err := v.nonceCache.Insert(ctx, uidHash, nonce, v.sigWindow)
	if err != nil {
		return nil, apperr.Internal(err, "nonce cache")
	}
	if !fresh {
		return nil, apperr.New(apperr.KindAuthFailed, "nonce replayed")
	}

	return &Admitted{UIDHash: uidHash}, nil
}

// CanonicalString builds the canonical signing string per spec.md §4.C:
// business parameters sorted by key ascending, joined as k=v with &, then
// ts/nonce/uid_hash appended in that order.
func CanonicalString(params map[string]string, ts int64, nonce, uidHash string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}

	base := strings.Join(parts, "&")
	suffix := fmt.Sprintf("ts=%d&nonce=%s&uid_hash=%s", ts, nonce, uidHash)
	if base == "" {
		return suffix
	}
	return base + "&" + suffix
}

// Sign computes the lowercase hex HMAC-SHA256 of msg under secret.
func Sign(secret []byte, msg string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyBearer validates a JWT bearer token per spec.md §6: HS256, at
// least sub and exp claims.
func (v *Verifier) VerifyBearer(_ context.Context, tokenString string) (*Admitted, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, apperr.New(apperr.KindAuthFailed, "invalid bearer token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.New(apperr.KindAuthFailed, "malformed claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, apperr.New(apperr.KindAuthFailed, "missing sub claim")
	}

	if _, ok := claims["exp"]; !ok {
		return nil, apperr.New(apperr.KindAuthFailed, "missing exp claim")
	}

	return &Admitted{Subject: sub}, nil
}

// ParseTimestamp is a small helper used by callers constructing ts from string
// query parameters; kept here so HTTP adapters (out of scope) and tests
// share one parsing rule.
func ParseTimestamp(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
