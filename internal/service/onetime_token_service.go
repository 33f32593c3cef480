package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/apperrors"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
	"github.com/prperemyshlev/auth-lifecycle/internal/utils"
	"go.uber.org/zap"
)

// MessageInvalidOrExpiredToken is the single answer for unknown, consumed and
// expired one-time tokens
const MessageInvalidOrExpiredToken = "Invalid or expired token."

// TokenPolicy parameterizes the one-time token service for one kind
type TokenPolicy struct {
	Kind        domain.TokenKind
	TTL         time.Duration
	CachePrefix string
	// OwnerPrefix keys the per-user pointer at the live mirror
	OwnerPrefix string
	LinkPath    string
}

// EmailVerificationPolicy returns the policy of email verification tokens
func EmailVerificationPolicy(ttl time.Duration) TokenPolicy {
	return TokenPolicy{
		Kind:        domain.TokenKindEmailVerification,
		TTL:         ttl,
		CachePrefix: "emailToken:",
		OwnerPrefix: "emailTokenUser:",
		LinkPath:    "/verify-email",
	}
}

// PasswordResetPolicy returns the policy of password reset tokens
func PasswordResetPolicy(ttl time.Duration) TokenPolicy {
	return TokenPolicy{
		Kind:        domain.TokenKindPasswordReset,
		TTL:         ttl,
		CachePrefix: "resetToken:",
		OwnerPrefix: "resetTokenUser:",
		LinkPath:    "/reset-password",
	}
}

// OneTimeTokenService issues and consumes single-use tokens of one kind.
// The cache mirror decides liveness; the persisted row is a durable record
// that is replaced on reissue and cleaned up on consumption and by the
// sweeper.
type OneTimeTokenService struct {
	policy      TokenPolicy
	tokens      repository.OneTimeTokenRepository
	cache       TokenCache
	frontendURL string
	logger      *zap.Logger
	now         func() time.Time
}

// NewOneTimeTokenService creates a one-time token service for policy
func NewOneTimeTokenService(
	policy TokenPolicy,
	tokens repository.OneTimeTokenRepository,
	cache TokenCache,
	frontendURL string,
	logger *zap.Logger,
) *OneTimeTokenService {
	return &OneTimeTokenService{
		policy:      policy,
		tokens:      tokens,
		cache:       cache,
		frontendURL: frontendURL,
		logger:      logger.With(zap.String("token_kind", policy.Kind.String())),
		now:         time.Now,
	}
}

// Issue replaces any token of this kind held by user with a fresh one and
// returns it together with the link to embed in an email
func (s *OneTimeTokenService) Issue(ctx context.Context, user *domain.User) (*domain.IssuedToken, error) {
	value, err := utils.RandomHex(utils.OneTimeTokenBytes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token := &domain.OneTimeToken{
		UserID:    user.ID,
		Kind:      s.policy.Kind,
		Token:     value,
		ExpiresAt: now.Add(s.policy.TTL),
		CreatedAt: now,
	}

	if err := s.tokens.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to persist %s token: %w", s.policy.Kind, err)
	}

	// the swap retires the previous mirror; racing issuers leave one live token
	if err := s.cache.Swap(ctx, s.ownerKey(user.ID), s.cacheKey(value), user.ID, s.policy.TTL); err != nil {
		if delErr := s.tokens.DeleteByToken(ctx, s.policy.Kind, value); delErr != nil {
			s.logger.Warn("failed to remove unmirrored token", zap.Int64("user_id", user.ID), zap.Error(delErr))
		}
		return nil, err
	}

	link, err := s.link(value)
	if err != nil {
		return nil, err
	}

	return &domain.IssuedToken{
		Token:     value,
		Link:      link,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// VerifyAndConsume claims token and returns the owning user id. Unknown,
// already consumed and expired tokens all fail with the same not found error.
func (s *OneTimeTokenService) VerifyAndConsume(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, apperrors.NotFound(MessageInvalidOrExpiredToken)
	}

	userID, err := s.cache.Pop(ctx, s.cacheKey(token))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return 0, apperrors.NotFound(MessageInvalidOrExpiredToken)
		}
		return 0, err
	}

	if err := s.tokens.DeleteByToken(ctx, s.policy.Kind, token); err != nil && !isNotFound(err) {
		s.logger.Warn("failed to delete consumed token", zap.Int64("user_id", userID), zap.Error(err))
	}

	return userID, nil
}

func (s *OneTimeTokenService) cacheKey(token string) string {
	return s.policy.CachePrefix + token
}

func (s *OneTimeTokenService) ownerKey(userID int64) string {
	return s.policy.OwnerPrefix + strconv.FormatInt(userID, 10)
}

func (s *OneTimeTokenService) link(token string) (string, error) {
	base, err := url.JoinPath(s.frontendURL, s.policy.LinkPath)
	if err != nil {
		return "", fmt.Errorf("invalid frontend url: %w", err)
	}
	return base + "?" + url.Values{"token": {token}}.Encode(), nil
}
