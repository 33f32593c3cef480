package repository

import (
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User  UserRepository
	Token OneTimeTokenRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *database.Postgres) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Token: NewOneTimeTokenRepository(db),
	}
}
