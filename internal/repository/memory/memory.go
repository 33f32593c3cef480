// Package memory provides in-process implementations of the repository
// interfaces. They back the service and handler tests and local runs without
// Postgres.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
)

// Store keeps users and one-time tokens in maps guarded by a single mutex
type Store struct {
	mu       sync.RWMutex
	users    map[int64]*domain.User
	byEmail  map[string]int64
	tokens   map[string]*domain.OneTimeToken
	nextUser int64
	nextTok  int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:   make(map[int64]*domain.User),
		byEmail: make(map[string]int64),
		tokens:  make(map[string]*domain.OneTimeToken),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		User:  (*userStore)(s),
		Token: (*tokenStore)(s),
	}
}

// UserCount returns the number of stored users
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// TokenCount returns the number of stored tokens of a kind held by a user
func (s *Store) TokenCount(userID int64, kind domain.TokenKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tokens {
		if t.UserID == userID && t.Kind == kind {
			n++
		}
	}
	return n
}

type userStore Store

func (s *userStore) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return fmt.Errorf("user with email %s already exists: %w", user.Email, repository.ErrDuplicateEmail)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.nextUser++
	user.ID = s.nextUser
	s.users[user.ID] = cloneUser(user)
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *userStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user with email %s not found: %w", email, repository.ErrNotFound)
	}
	return cloneUser(s.users[id]), nil
}

func (s *userStore) GetByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user with id %d not found: %w", id, repository.ErrNotFound)
	}
	return cloneUser(user), nil
}

func (s *userStore) Update(_ context.Context, user *domain.User) error {
	return s.mutate(user.ID, func(u *domain.User) {
		u.Name = user.Name
		u.FamilyName = user.FamilyName
		u.PictureURL = cloneString(user.PictureURL)
		u.DateOfBirth = cloneTime(user.DateOfBirth)
		u.LastLocation = cloneString(user.LastLocation)
	})
}

func (s *userStore) UpdateRefreshToken(_ context.Context, userID int64, refreshToken string) error {
	return s.mutate(userID, func(u *domain.User) { u.RefreshToken = &refreshToken })
}

func (s *userStore) MarkEmailVerified(_ context.Context, userID int64) error {
	return s.mutate(userID, func(u *domain.User) { u.ValidUser = true })
}

func (s *userStore) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	return s.mutate(userID, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (s *userStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user with id %d not found: %w", userID, repository.ErrNotFound)
	}
	delete(s.byEmail, user.Email)
	delete(s.users, userID)
	for key, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, key)
		}
	}
	return nil
}

func (s *userStore) mutate(id int64, fn func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user with id %d not found: %w", id, repository.ErrNotFound)
	}
	fn(user)
	return nil
}

type tokenStore Store

func (s *tokenStore) Save(_ context.Context, token *domain.OneTimeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("user with id %d not found: %w", token.UserID, repository.ErrNotFound)
	}
	if existing, ok := s.tokens[token.Token]; ok && (existing.UserID != token.UserID || existing.Kind != token.Kind) {
		return fmt.Errorf("%s token value already in use: %w", token.Kind, repository.ErrDuplicateToken)
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	token.ID = 0
	for key, t := range s.tokens {
		if t.UserID == token.UserID && t.Kind == token.Kind {
			token.ID = t.ID
			delete(s.tokens, key)
		}
	}
	if token.ID == 0 {
		s.nextTok++
		token.ID = s.nextTok
	}

	stored := *token
	s.tokens[token.Token] = &stored
	return nil
}

func (s *tokenStore) DeleteByToken(_ context.Context, kind domain.TokenKind, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok || t.Kind != kind {
		return fmt.Errorf("%s token not found: %w", kind, repository.ErrNotFound)
	}
	delete(s.tokens, token)
	return nil
}

func (s *tokenStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return s.deleteWhere(func(t *domain.OneTimeToken) bool {
		return t.IsExpired(now)
	}), nil
}

func (s *tokenStore) deleteWhere(match func(*domain.OneTimeToken) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, t := range s.tokens {
		if match(t) {
			delete(s.tokens, key)
			n++
		}
	}
	return n
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.PictureURL = cloneString(u.PictureURL)
	c.DateOfBirth = cloneTime(u.DateOfBirth)
	c.LastLocation = cloneString(u.LastLocation)
	c.RefreshToken = cloneString(u.RefreshToken)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
