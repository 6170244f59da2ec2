package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of an issued token.
const DefaultTokenTTL = time.Hour

// Claims binds a single identity, the email, to a token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authority issues and verifies HS256 identity tokens.
type Authority struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthority(secret string, ttl time.Duration) (*Authority, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authority{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of the authority that reads time from now.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	clone := *a
	clone.now = now
	return &clone
}

// TTL returns the lifetime given to issued tokens.
func (a *Authority) TTL() time.Duration {
	return a.ttl
}

// Issue signs a token for email.
func (a *Authority) Issue(email string) (string, error) {
	issuedAt := a.now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the bound email. A
// "Bearer " prefix is accepted and stripped.
func (a *Authority) Verify(raw string) (string, error) {
	tokenString := StripBearer(raw)
	if tokenString == "" {
		return "", ErrTokenInvalid
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Email == "" {
		return "", ErrTokenInvalid
	}
	return claims.Email, nil
}

// StripBearer removes an optional "Bearer " scheme from an authorization
// value.
func StripBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "bearer") {
		return ""
	}
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
