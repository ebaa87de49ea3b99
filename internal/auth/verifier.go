package auth

import (
	"sync"
	"time"

	chat_errors "spacechat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the bearer token payload.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type cachedIdentity struct {
	userID  uuid.UUID
	expires time.Time
}

// Verifier validates bearer tokens. Verification results are reused for a
// bounded period so hot connections do not re-verify on every request; the
// reuse window never extends past the token's own expiry.
type Verifier struct {
	secret    []byte
	verifyTTL time.Duration
	clock     func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedIdentity
}

func NewVerifier(secret string, verifyTTL time.Duration) *Verifier {
	return &Verifier{
		secret:    []byte(secret),
		verifyTTL: verifyTTL,
		clock:     time.Now,
		cache:     make(map[string]cachedIdentity),
	}
}

// SetClock overrides the time source. Test hook.
func (v *Verifier) SetClock(clock func() time.Time) {
	v.clock = clock
}

// Verify validates the token and returns the user id it identifies.
func (v *Verifier) Verify(tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, chat_errors.ErrUnauthorized
	}

	now := v.clock()
	v.mu.RLock()
	entry, ok := v.cache[tokenString]
	v.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.userID, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, chat_errors.ErrUnauthorized
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, chat_errors.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, chat_errors.ErrUnauthorized
	}

	expires := now.Add(v.verifyTTL)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expires) {
		expires = claims.ExpiresAt.Time
	}
	v.mu.Lock()
	if len(v.cache) > 10000 {
		v.cache = make(map[string]cachedIdentity)
	}
	v.cache[tokenString] = cachedIdentity{userID: userID, expires: expires}
	v.mu.Unlock()

	return userID, nil
}
