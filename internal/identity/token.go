// Package identity verifies actor tokens minted by the upstream identity
// service. Tokens carry the resolved user id and admin capability; nothing
// here decides who is an admin.
package identity

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid actor token")

// Actor is the authenticated identity performing an operation.
type Actor struct {
	UserID  int64
	IsAdmin bool
}

type Claims struct {
	Admin bool `json:"adm"`
	jwt.RegisteredClaims
}

// Sign mints an actor token. Used by the identity service and by tests.
func Sign(secret []byte, actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Admin: actor.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString(secret)
}

// Parse verifies a token and returns the actor it carries.
func Parse(secret []byte, token string) (Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return Actor{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Actor{}, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Actor{}, ErrInvalidToken
	}
	return Actor{UserID: userID, IsAdmin: claims.Admin}, nil
}
