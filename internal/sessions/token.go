package sessions

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Resume tokens let a user carry a session reference out of band (shell
// history, scripts, another machine sharing the profile) without exposing
// raw store IDs: the token binds the session ID and expiry under the
// profile's signing key, so a mistyped or stale token fails verification
// instead of silently opening the wrong conversation.

// resumeClaims is the JWT payload for a session resume token.
type resumeClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SignResumeToken mints a resume token for sessionID, valid for ttl.
func SignResumeToken(secret []byte, sessionID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("resume token: signing key is empty")
	}
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	claims := resumeClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ally",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyResumeToken checks signature and expiry and returns the session ID.
func VerifyResumeToken(secret []byte, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &resumeClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer("ally"), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("resume token: %w", err)
	}
	claims, ok := parsed.Claims.(*resumeClaims)
	if !ok || claims.SessionID == "" {
		return "", fmt.Errorf("resume token: missing session id")
	}
	return claims.SessionID, nil
}
