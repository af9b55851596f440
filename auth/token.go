package auth

import (
	"fmt"
	"messaging-core/errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "messaging-core"

// Claims is what a token says about its bearer.
// Name is display metadata only, never used for authorization.
type Claims struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and validates HS256 tokens with one shared secret.
// Sessions are issued elsewhere, the core only needs to trust them.
type Tokens struct {
	key []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{key: []byte(secret)}
}

// Generate creates a signed token for userID, valid for ttl.
func (t *Tokens) Generate(userID, name string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Name:   name,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Validate checks signature, expiry and issuer. Every failure is an ErrInvalidToken.
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return t.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, errors.ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header, or "".
func ExtractBearer(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
