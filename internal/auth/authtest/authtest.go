// Package authtest mints bearer tokens for tests of authenticated handlers.
package authtest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token signs an HS256 token carrying userID in the "id" claim. A negative
// ttl yields a token that has already expired.
func Token(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"id":  userID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
