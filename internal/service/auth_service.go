package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/apperrors"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
	"github.com/prperemyshlev/auth-lifecycle/internal/utils"
	"github.com/prperemyshlev/auth-lifecycle/pkg/observability"
	"go.uber.org/zap"
)

// Flow labels used in logs and metrics
const (
	FlowRegister      = "register"
	FlowVerifyEmail   = "verify_email"
	FlowSignIn        = "sign_in"
	FlowGoogleSignIn  = "google_sign_in"
	FlowRefresh       = "refresh"
	FlowResetRequest  = "reset_request"
	FlowResetPassword = "reset_password"
	FlowProfileUpdate = "profile_update"
)

const (
	dateOfBirthLayout = "2006-01-02"

	msgBadCredentials  = "Invalid credentials."
	msgUserNotFound    = "User not found."
	msgInvalidRefresh  = "Invalid refresh token."
	msgExpiredRefresh  = "Expired refresh token."
	msgConfirmEmail    = "Please confirm your email before signing in."
	msgGoogleTokenBad  = "Invalid Google token."
	msgGoogleUnconfirm = "Email not verified by Google."
	msgGoogleDown      = "Google sign-in is temporarily unavailable."
)

// authService implements AuthService interface
type authService struct {
	directory    *userDirectory
	users        repository.UserRepository
	jwtManager   *utils.JWTManager
	verification *OneTimeTokenService
	reset        *OneTimeTokenService
	identity     IdentityVerifier
	notifier     Notifier
	metrics      *observability.AuthMetrics
	logger       *zap.Logger
	bcryptCost   int
}

// NewAuthService creates a new auth service
func NewAuthService(
	users repository.UserRepository,
	cache UserCache,
	jwtManager *utils.JWTManager,
	verification *OneTimeTokenService,
	reset *OneTimeTokenService,
	identity IdentityVerifier,
	notifier Notifier,
	metrics *observability.AuthMetrics,
	logger *zap.Logger,
	bcryptCost int,
) AuthService {
	return &authService{
		directory:    newUserDirectory(users, cache, logger),
		users:        users,
		jwtManager:   jwtManager,
		verification: verification,
		reset:        reset,
		identity:     identity,
		notifier:     notifier,
		metrics:      metrics,
		logger:       logger,
		bcryptCost:   bcryptCost,
	}
}

// Register creates an unverified account and emails its verification link
func (s *authService) Register(ctx context.Context, req *dto.RegisterRequest) (err error) {
	defer s.record(ctx, FlowRegister, &err)

	name := utils.NormalizeName(req.Name)
	if name == "" || req.Email == "" || req.Password == "" {
		return apperrors.Validation("Name, email and password are required.")
	}
	if !utils.ValidateEmail(req.Email) {
		return apperrors.Validation("Invalid email format.")
	}
	if !utils.ValidatePassword(req.Password) {
		return apperrors.Validation(utils.PasswordPolicyMessage)
	}

	var dateOfBirth *time.Time
	if req.DateOfBirth != "" {
		dob, err := time.Parse(dateOfBirthLayout, req.DateOfBirth)
		if err != nil {
			return apperrors.Validation("Invalid date of birth, expected YYYY-MM-DD.")
		}
		dateOfBirth = &dob
	}

	_, err = s.directory.byEmail(ctx, req.Email)
	if err == nil {
		return apperrors.Conflict("Email already registered.")
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check user existence: %w", err)
	}

	passwordHash, err := utils.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return err
	}

	user := &domain.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		Name:         name,
		FamilyName:   utils.NormalizeName(req.FamilyName),
		DateOfBirth:  dateOfBirth,
		LastLocation: optional(req.LastLocation),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return apperrors.Conflict("Email already registered.")
		}
		return err
	}

	issued, err := s.verification.Issue(ctx, user)
	if err != nil {
		// without a token the account could never be verified; drop it so the
		// email can register again
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.logger.Error("failed to roll back unverifiable user",
				zap.Int64("user_id", user.ID),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("failed to issue verification token: %w", err)
	}
	s.directory.remember(ctx, user)

	if err := s.notifier.SendVerificationEmail(ctx, user, issued.Link); err != nil {
		s.logger.Warn("failed to send verification email",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return nil
}

// VerifyEmail consumes a verification token and confirms the owner's email
func (s *authService) VerifyEmail(ctx context.Context, token string) (err error) {
	defer s.record(ctx, FlowVerifyEmail, &err)

	if token == "" {
		return apperrors.Validation("Token is required.")
	}

	userID, err := s.verification.VerifyAndConsume(ctx, token)
	if err != nil {
		return err
	}

	user, err := s.directory.byID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return apperrors.NotFound(msgUserNotFound)
		}
		return err
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return err
	}
	user.ValidUser = true
	s.directory.remember(ctx, user)

	return nil
}

// SignIn checks email and password and opens a new session
func (s *authService) SignIn(ctx context.Context, req *dto.SignInRequest) (pair *domain.TokenPair, err error) {
	defer s.record(ctx, FlowSignIn, &err)

	if req.Email == "" || req.Password == "" {
		return nil, apperrors.Validation("Email and password are required.")
	}

	user, err := s.directory.byEmail(ctx, req.Email)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.Unauthorized(msgBadCredentials)
		}
		return nil, err
	}

	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		return nil, apperrors.Unauthorized(msgBadCredentials)
	}
	if !user.HasPassword() {
		return nil, apperrors.Unauthorized(msgBadCredentials)
	}
	if !user.ValidUser {
		return nil, apperrors.Forbidden(msgConfirmEmail).WithCode(apperrors.CodeEmailNotConfirmed)
	}

	s.upgradeHash(ctx, user, req.Password)

	return s.startSession(ctx, user)
}

// upgradeHash rehashes a verified password stored under a lower bcrypt cost
// than the configured one. Failures keep the old hash.
func (s *authService) upgradeHash(ctx context.Context, user *domain.User, password string) {
	if !utils.NeedsRehash(user.PasswordHash, s.bcryptCost) {
		return
	}

	passwordHash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		s.logger.Warn("password rehash failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		s.logger.Warn("password rehash not stored", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = passwordHash
}

// GoogleSignIn verifies a Google ID token and opens a session for the
// matching account, creating it on first use
func (s *authService) GoogleSignIn(ctx context.Context, idToken string) (pair *domain.TokenPair, err error) {
	defer s.record(ctx, FlowGoogleSignIn, &err)

	if idToken == "" {
		return nil, apperrors.Validation("Google token is required.")
	}

	identity, err := s.identity.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Upstream(msgGoogleDown, err)
		}
		invalid := apperrors.Unauthorized(msgGoogleTokenBad)
		invalid.Err = err
		return nil, invalid
	}
	if identity.Email == "" {
		return nil, apperrors.Unauthorized(msgGoogleTokenBad)
	}
	if !identity.EmailVerified {
		return nil, apperrors.Forbidden(msgGoogleUnconfirm)
	}

	user, err := s.directory.byEmail(ctx, identity.Email)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		if user, err = s.createGoogleUser(ctx, identity); err != nil {
			return nil, err
		}
	}

	return s.startSession(ctx, user)
}

func (s *authService) createGoogleUser(ctx context.Context, identity *domain.ExternalIdentity) (*domain.User, error) {
	user := &domain.User{
		Email:           identity.Email,
		Name:            utils.NormalizeName(identity.GivenName),
		FamilyName:      utils.NormalizeName(identity.FamilyName),
		PictureURL:      optional(identity.Picture),
		LastLocation:    optional(identity.Locale),
		IsGoogleAccount: true,
		ValidUser:       true,
		CreatedAt:       time.Now().UTC(),
	}

	err := s.users.Create(ctx, user)
	if err == nil {
		s.logger.Info("google account created", zap.Int64("user_id", user.ID))
		return user, nil
	}
	if !errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, err
	}

	// lost a race with a concurrent first sign-in
	return s.users.GetByEmail(ctx, identity.Email)
}

// RefreshAccessToken mints a new access token for the holder of the user's
// current refresh token. The refresh token itself is not rotated.
func (s *authService) RefreshAccessToken(ctx context.Context, refreshToken string) (accessToken string, err error) {
	defer s.record(ctx, FlowRefresh, &err)

	if refreshToken == "" {
		return "", apperrors.Unauthorized("Refresh token required.")
	}

	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return "", apperrors.Forbidden(msgExpiredRefresh).WithCode(apperrors.CodeRefreshTokenExpired)
		}
		return "", apperrors.Forbidden(msgInvalidRefresh).WithCode(apperrors.CodeInvalidRefreshToken)
	}

	user, err := s.directory.byID(ctx, claims.UserID)
	if err != nil {
		if isNotFound(err) {
			return "", apperrors.Forbidden(msgInvalidRefresh).WithCode(apperrors.CodeInvalidRefreshToken)
		}
		return "", err
	}

	if user.RefreshToken == nil ||
		subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(refreshToken)) != 1 {
		return "", apperrors.Forbidden(msgInvalidRefresh).WithCode(apperrors.CodeInvalidRefreshToken)
	}

	accessToken, err = s.jwtManager.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return "", err
	}
	return accessToken, nil
}

// RequestPasswordReset emails a reset link to a known address
func (s *authService) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer s.record(ctx, FlowResetRequest, &err)

	if email == "" {
		return apperrors.Validation("Email is required.")
	}
	if !utils.ValidateEmail(email) {
		return apperrors.Validation("Invalid email format.")
	}

	user, err := s.directory.byEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return apperrors.NotFound(msgUserNotFound)
		}
		return err
	}

	issued, err := s.reset.Issue(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to issue reset token: %w", err)
	}

	if err := s.notifier.SendPasswordResetEmail(ctx, user, issued.Link); err != nil {
		failed := apperrors.Upstream("Error sending email.", err)
		failed.Status = http.StatusInternalServerError
		return failed
	}

	return nil
}

// ResetPassword consumes a reset token and stores the new password
func (s *authService) ResetPassword(ctx context.Context, req *dto.ResetPasswordRequest) (err error) {
	defer s.record(ctx, FlowResetPassword, &err)

	if req.Token == "" || req.NewPassword == "" {
		return apperrors.Validation("Token and new password are required.")
	}
	if !utils.ValidatePassword(req.NewPassword) {
		return apperrors.Validation(utils.PasswordPolicyMessage)
	}

	userID, err := s.reset.VerifyAndConsume(ctx, req.Token)
	if err != nil {
		return err
	}

	user, err := s.directory.byID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return apperrors.NotFound(msgUserNotFound)
		}
		return err
	}

	passwordHash, err := utils.HashPassword(req.NewPassword, s.bcryptCost)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return err
	}
	user.PasswordHash = passwordHash
	s.directory.remember(ctx, user)

	return nil
}

// ValidateAccessToken verifies a bearer token. Expired tokens are reported
// as 401 TokenExpiredError so clients know to refresh; anything else is 403.
func (s *authService) ValidateAccessToken(_ context.Context, token string) (*domain.AccessClaims, error) {
	claims, err := s.jwtManager.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, apperrors.Unauthorized("Access token expired.").WithCode(apperrors.CodeTokenExpired)
		}
		return nil, apperrors.Forbidden("Invalid access token.").WithCode(apperrors.CodeInvalidToken)
	}
	return claims, nil
}

// startSession issues a token pair and makes the refresh token the only
// live one for user
func (s *authService) startSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	user.RefreshToken = &refreshToken
	s.directory.remember(ctx, user)

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (s *authService) record(ctx context.Context, flow string, err *error) {
	outcome := observability.OutcomeSuccess
	if *err != nil {
		outcome = apperrors.KindOf(*err).String()
		if outcome == apperrors.KindInternal.String() {
			s.logger.Error("auth flow failed", zap.String("flow", flow), zap.Error(*err))
		}
	}
	s.metrics.Record(ctx, flow, outcome)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
