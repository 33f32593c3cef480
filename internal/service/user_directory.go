package service

import (
	"context"
	"errors"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
	"go.uber.org/zap"
)

// userDirectory resolves users cache-aside: the cache is read first, the
// store on a miss, and the cache is repopulated from whatever the store
// returns. The cache is eventually consistent with the store; writes that
// bypass the directory are not reflected until the entry lapses.
type userDirectory struct {
	users  repository.UserRepository
	cache  UserCache
	logger *zap.Logger
}

func newUserDirectory(users repository.UserRepository, cache UserCache, logger *zap.Logger) *userDirectory {
	return &userDirectory{users: users, cache: cache, logger: logger}
}

// byEmail returns repository.ErrNotFound (wrapped) when no user has email
func (d *userDirectory) byEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := d.cache.Get(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		d.logger.Warn("user cache read failed, falling back to store", zap.Error(err))
	}

	user, err = d.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	d.remember(ctx, user)
	return user, nil
}

// byID always reads the store; the cache is keyed by email only
func (d *userDirectory) byID(ctx context.Context, id int64) (*domain.User, error) {
	return d.users.GetByID(ctx, id)
}

// remember writes user through to the cache. Failures are logged only.
func (d *userDirectory) remember(ctx context.Context, user *domain.User) {
	if err := d.cache.Set(ctx, user); err != nil {
		d.logger.Warn("failed to refresh user cache",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
