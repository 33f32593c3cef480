package service

import (
	"context"
	"errors"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
)

// ErrCacheMiss is returned by the caches when a key is absent or has lapsed
var ErrCacheMiss = errors.New("cache miss")

// AuthService defines the credential lifecycle operations
type AuthService interface {
	Register(ctx context.Context, req *dto.RegisterRequest) error
	VerifyEmail(ctx context.Context, token string) error
	SignIn(ctx context.Context, req *dto.SignInRequest) (*domain.TokenPair, error)
	GoogleSignIn(ctx context.Context, idToken string) (*domain.TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req *dto.ResetPasswordRequest) error
	ValidateAccessToken(ctx context.Context, token string) (*domain.AccessClaims, error)
}

// ProfileService defines operations on the signed-in user's profile
type ProfileService interface {
	GetProfile(ctx context.Context, userID int64) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID int64, req *dto.UpdateProfileRequest) (*domain.User, error)
}

// IdentityVerifier checks a third-party identity token and returns the
// identity it asserts
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*domain.ExternalIdentity, error)
}

// Notifier delivers the emails of the lifecycle flows
type Notifier interface {
	SendVerificationEmail(ctx context.Context, user *domain.User, link string) error
	SendPasswordResetEmail(ctx context.Context, user *domain.User, link string) error
}

// ImageUploader stores an image and returns its public URL
type ImageUploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// UserCache shadows the credential store for user-by-email lookups
type UserCache interface {
	Get(ctx context.Context, email string) (*domain.User, error)
	Set(ctx context.Context, user *domain.User) error
}

// TokenCache mirrors one-time tokens to the owning user id
type TokenCache interface {
	// Swap stores key and removes the mirror previously recorded under
	// ownerKey in one step
	Swap(ctx context.Context, ownerKey, key string, userID int64, ttl time.Duration) error
	// Pop reads and removes key in one step
	Pop(ctx context.Context, key string) (int64, error)
}
