package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
	"github.com/redis/go-redis/v9"
)

const userKeyPrefix = "user:"

// userSnapshot is the cached shape of a user
type userSnapshot struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"password_hash"`
	Name            string     `json:"name"`
	FamilyName      string     `json:"family_name"`
	PictureURL      *string    `json:"picture_url,omitempty"`
	IsGoogleAccount bool       `json:"is_google_account"`
	ValidUser       bool       `json:"valid_user"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLocation    *string    `json:"last_location,omitempty"`
	RefreshToken    *string    `json:"refresh_token,omitempty"`
}

// RedisUserCache stores user snapshots under user:{email}
type RedisUserCache struct {
	redis *database.Redis
	ttl   time.Duration
}

// NewRedisUserCache creates a user cache whose entries live for ttl
func NewRedisUserCache(redis *database.Redis, ttl time.Duration) *RedisUserCache {
	return &RedisUserCache{redis: redis, ttl: ttl}
}

// Get returns the cached snapshot or ErrCacheMiss
func (c *RedisUserCache) Get(ctx context.Context, email string) (*domain.User, error) {
	raw, err := c.redis.Client.Get(ctx, userKeyPrefix+email).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cached user: %w", err)
	}

	var s userSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode cached user: %w", err)
	}

	return &domain.User{
		ID:              s.ID,
		Email:           s.Email,
		PasswordHash:    s.PasswordHash,
		Name:            s.Name,
		FamilyName:      s.FamilyName,
		PictureURL:      s.PictureURL,
		IsGoogleAccount: s.IsGoogleAccount,
		ValidUser:       s.ValidUser,
		DateOfBirth:     s.DateOfBirth,
		CreatedAt:       s.CreatedAt,
		LastLocation:    s.LastLocation,
		RefreshToken:    s.RefreshToken,
	}, nil
}

// Set overwrites the snapshot of user
func (c *RedisUserCache) Set(ctx context.Context, user *domain.User) error {
	raw, err := json.Marshal(userSnapshot{
		ID:              user.ID,
		Email:           user.Email,
		PasswordHash:    user.PasswordHash,
		Name:            user.Name,
		FamilyName:      user.FamilyName,
		PictureURL:      user.PictureURL,
		IsGoogleAccount: user.IsGoogleAccount,
		ValidUser:       user.ValidUser,
		DateOfBirth:     user.DateOfBirth,
		CreatedAt:       user.CreatedAt,
		LastLocation:    user.LastLocation,
		RefreshToken:    user.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	if err := c.redis.Client.Set(ctx, userKeyPrefix+user.Email, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache user: %w", err)
	}
	return nil
}
