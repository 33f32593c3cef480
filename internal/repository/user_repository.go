package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
)

const userColumns = `id, email, password_hash, name, family_name, picture_url, is_google_account,
		valid_user, date_of_birth, created_at, last_location, refresh_token`

// userRepository implements UserRepository interface
type userRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.Postgres) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new user and fills in the generated id
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (email, password_hash, name, family_name, picture_url, is_google_account,
			valid_user, date_of_birth, created_at, last_location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := r.db.DB.QueryRowContext(ctx, query,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.FamilyName,
		user.PictureURL,
		user.IsGoogleAccount,
		user.ValidUser,
		user.DateOfBirth,
		user.CreatedAt,
		user.LastLocation,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user with email %s already exists: %w", user.Email, ErrDuplicateEmail)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByEmail retrieves a user by email
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with email %s not found: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with id %d not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

// Update updates the profile fields of an existing user
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET name = $2, family_name = $3, picture_url = $4, date_of_birth = $5, last_location = $6
		WHERE id = $1
	`

	return r.exec(ctx, "update user", user.ID, query,
		user.ID,
		user.Name,
		user.FamilyName,
		user.PictureURL,
		user.DateOfBirth,
		user.LastLocation,
	)
}

// UpdateRefreshToken stores the single live refresh token of a user
func (r *userRepository) UpdateRefreshToken(ctx context.Context, userID int64, refreshToken string) error {
	query := `UPDATE users SET refresh_token = $2 WHERE id = $1`
	return r.exec(ctx, "update refresh token", userID, query, userID, refreshToken)
}

// MarkEmailVerified flips valid_user on
func (r *userRepository) MarkEmailVerified(ctx context.Context, userID int64) error {
	query := `UPDATE users SET valid_user = TRUE WHERE id = $1`
	return r.exec(ctx, "mark email verified", userID, query, userID)
}

// UpdatePassword replaces the stored password hash
func (r *userRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2 WHERE id = $1`
	return r.exec(ctx, "update password", userID, query, userID, passwordHash)
}

// Delete removes a user; its one-time tokens go with it through the
// cascading foreign key
func (r *userRepository) Delete(ctx context.Context, userID int64) error {
	query := `DELETE FROM users WHERE id = $1`
	return r.exec(ctx, "delete user", userID, query, userID)
}

func (r *userRepository) exec(ctx context.Context, op string, userID int64, query string, args ...any) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user with id %d not found: %w", userID, ErrNotFound)
	}

	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	var (
		pictureURL   sql.NullString
		dateOfBirth  sql.NullTime
		lastLocation sql.NullString
		refreshToken sql.NullString
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.FamilyName,
		&pictureURL,
		&user.IsGoogleAccount,
		&user.ValidUser,
		&dateOfBirth,
		&user.CreatedAt,
		&lastLocation,
		&refreshToken,
	)
	if err != nil {
		return nil, err
	}

	if pictureURL.Valid {
		user.PictureURL = &pictureURL.String
	}
	if dateOfBirth.Valid {
		user.DateOfBirth = &dateOfBirth.Time
	}
	if lastLocation.Valid {
		user.LastLocation = &lastLocation.String
	}
	if refreshToken.Valid {
		user.RefreshToken = &refreshToken.String
	}

	return user, nil
}
