package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTAuthenticator verifies HMAC-signed tokens issued by IssueToken. The
// subject claim is the user id. Without a token it signs in a fresh
// anonymous user when AllowAnonymous is set.
type JWTAuthenticator struct {
	Secret         []byte
	AllowAnonymous bool
}

type identityClaims struct {
	Anonymous bool `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

func (a JWTAuthenticator) SignIn(_ context.Context, token string) (Identity, error) {
	if token == "" {
		if !a.AllowAnonymous {
			return Identity{}, ErrNotSignedIn
		}
		return Identity{UID: uuid.NewString(), Anonymous: true}, nil
	}
	var claims identityClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("verify token: missing subject")
	}
	return Identity{UID: claims.Subject, Anonymous: claims.Anonymous}, nil
}

// IssueToken signs a token for id that expires after ttl. A zero ttl never
// expires; a negative one is already expired.
func (a JWTAuthenticator) IssueToken(id Identity, ttl time.Duration) (string, error) {
	if id.UID == "" {
		return "", ErrNotSignedIn
	}
	now := time.Now()
	claims := identityClaims{
		Anonymous: id.Anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.UID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}
