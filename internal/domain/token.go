package domain

import (
	"fmt"
	"time"
)

// AccessClaims is the verified content of an access token
type AccessClaims struct {
	UserID    int64
	Email     string
	ExpiresAt time.Time
}

// RefreshClaims is the verified content of a refresh token
type RefreshClaims struct {
	UserID    int64
	ExpiresAt time.Time
}

// TokenPair is returned by the sign-in flows
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenKind identifies a family of one-time tokens
type TokenKind string

const (
	TokenKindEmailVerification TokenKind = "email_verification"
	TokenKindPasswordReset     TokenKind = "password_reset"
)

// Valid reports whether k is a known kind
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindEmailVerification, TokenKindPasswordReset:
		return true
	}
	return false
}

func (k TokenKind) String() string {
	return string(k)
}

// OneTimeToken is the durable record of an issued single-use token
type OneTimeToken struct {
	ID        int64
	UserID    int64
	Kind      TokenKind
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired checks the token against the given instant
func (t *OneTimeToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IssuedToken is what the one-time token service hands back to its caller
type IssuedToken struct {
	Token     string
	Link      string
	ExpiresAt time.Time
}

func (t IssuedToken) String() string {
	return fmt.Sprintf("IssuedToken{expires_at=%s}", t.ExpiresAt.Format(time.RFC3339))
}
