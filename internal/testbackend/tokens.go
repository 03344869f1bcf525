package testbackend

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// AccessClaims are the claims inside issued access tokens
type AccessClaims struct {
	UserID int    `json:"user_id"`
	Epoch  uint64 `json:"epoch"`
	jwt.RegisteredClaims
}

// issueLocked creates an access token for userID in the current epoch.
// Callers hold b.mu.
func (b *Backend) issueLocked(userID int) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: userID,
		Epoch:  b.epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.opts.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(b.opts.Secret)
}

// parse validates an access token and returns its claims. Tokens from an
// earlier epoch are rejected even when their signature and expiry are fine.
func (b *Backend) parse(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return b.opts.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if claims.Epoch != b.epoch {
		return nil, fmt.Errorf("token was revoked")
	}
	return claims, nil
}
