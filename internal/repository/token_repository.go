package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
)

// oneTimeTokenRepository implements OneTimeTokenRepository interface
type oneTimeTokenRepository struct {
	db *database.Postgres
}

// NewOneTimeTokenRepository creates a new one-time token repository
func NewOneTimeTokenRepository(db *database.Postgres) OneTimeTokenRepository {
	return &oneTimeTokenRepository{db: db}
}

// Save stores token as the single row of its kind held by the user,
// replacing any earlier one, and fills in the row id
func (r *oneTimeTokenRepository) Save(ctx context.Context, token *domain.OneTimeToken) error {
	query := `
		INSERT INTO one_time_tokens (user_id, kind, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, kind) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
		RETURNING id
	`

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	err := r.db.DB.QueryRowContext(ctx, query,
		token.UserID,
		string(token.Kind),
		token.Token,
		token.ExpiresAt,
		token.CreatedAt,
	).Scan(&token.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s token value already in use: %w", token.Kind, ErrDuplicateToken)
		}
		return fmt.Errorf("failed to save token: %w", err)
	}

	return nil
}

// DeleteByToken deletes a one-time token by its value
func (r *oneTimeTokenRepository) DeleteByToken(ctx context.Context, kind domain.TokenKind, token string) error {
	query := `DELETE FROM one_time_tokens WHERE kind = $1 AND token = $2`

	result, err := r.db.DB.ExecContext(ctx, query, string(kind), token)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s token not found: %w", kind, ErrNotFound)
	}

	return nil
}

// DeleteExpired deletes all tokens whose expiry is not after now
func (r *oneTimeTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM one_time_tokens WHERE expires_at <= $1`

	result, err := r.db.DB.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	return result.RowsAffected()
}
