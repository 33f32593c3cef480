package repository

import (
	"context"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
)

// UserRepository defines methods for user operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	// Update persists the profile fields (name, family name, picture, date of
	// birth, last location)
	Update(ctx context.Context, user *domain.User) error
	UpdateRefreshToken(ctx context.Context, userID int64, refreshToken string) error
	MarkEmailVerified(ctx context.Context, userID int64) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	// Delete removes the user together with its one-time tokens
	Delete(ctx context.Context, userID int64) error
}

// OneTimeTokenRepository defines methods for one-time token operations
type OneTimeTokenRepository interface {
	// Save upserts on (user, kind): a user holds at most one row per kind
	Save(ctx context.Context, token *domain.OneTimeToken) error
	DeleteByToken(ctx context.Context, kind domain.TokenKind, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
