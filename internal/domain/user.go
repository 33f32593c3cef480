package domain

import (
	"errors"
	"time"
)

// User represents an account known to the credential store
type User struct {
	ID              int64
	Email           string
	PasswordHash    string // empty for Google-only accounts
	Name            string
	FamilyName      string
	PictureURL      *string
	IsGoogleAccount bool
	ValidUser       bool // email confirmed
	DateOfBirth     *time.Time
	CreatedAt       time.Time
	LastLocation    *string
	RefreshToken    *string
}

// HasPassword reports whether the account can sign in with a password
func (u *User) HasPassword() bool {
	return !u.IsGoogleAccount && u.PasswordHash != ""
}

// ErrIdentityUnavailable marks a verifier that could not reach its identity
// provider, as opposed to one that rejected the token
var ErrIdentityUnavailable = errors.New("identity provider unavailable")

// ExternalIdentity is the verified profile extracted from a third-party identity token
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	Picture       string
	Locale        string
}
