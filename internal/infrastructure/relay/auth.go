package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lancast/internal/core/domain"
)

var ErrUnauthorized = errors.New("publisher token rejected")

// Authenticator validates publisher tokens with an HMAC shared secret.
// A nil Authenticator admits everyone, for closed networks that do not
// configure a secret.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Sign issues a publisher token scoped to one stream.
func (a *Authenticator) Sign(id domain.StreamID, ttl time.Duration) (string, error) {
	if a == nil {
		return "", nil
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"stream": string(id),
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	})
	return token.SignedString(a.secret)
}

// Verify checks the token's signature, expiry and stream scope.
func (a *Authenticator) Verify(raw string, id domain.StreamID) error {
	if a == nil {
		return nil
	}
	if raw == "" {
		return ErrUnauthorized
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrUnauthorized
	}
	if stream, _ := claims["stream"].(string); stream != string(id) {
		return ErrUnauthorized
	}
	return nil
}
