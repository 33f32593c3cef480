package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/apperrors"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
	"github.com/prperemyshlev/auth-lifecycle/internal/utils"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type AuthServiceSuite struct {
	suite.Suite
	h   *harness
	ctx context.Context
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceSuite))
}

func (s *AuthServiceSuite) SetupTest() {
	s.h = newHarness(s.T())
	s.ctx = context.Background()
}

func (s *AuthServiceSuite) requireKind(err error, kind apperrors.Kind) *apperrors.Error {
	s.Require().Error(err)
	appErr, ok := apperrors.As(err)
	s.Require().True(ok, "expected application error, got %v", err)
	s.Require().Equal(kind, appErr.Kind, appErr.Error())
	return appErr
}

func (s *AuthServiceSuite) register(email string) {
	s.Require().NoError(s.h.auth.Register(s.ctx, &dto.RegisterRequest{
		Name:     "Ana",
		Email:    email,
		Password: testPassword,
	}))
}

func (s *AuthServiceSuite) signIn(email, password string) (*domain.TokenPair, error) {
	return s.h.auth.SignIn(s.ctx, &dto.SignInRequest{Email: email, Password: password})
}

func (s *AuthServiceSuite) TestRegisterVerifySignIn() {
	s.register("ana@x.com")

	_, err := s.signIn("ana@x.com", testPassword)
	appErr := s.requireKind(err, apperrors.KindForbidden)
	s.Equal(apperrors.CodeEmailNotConfirmed, appErr.Code)

	token := s.h.notifier.lastVerificationToken(s.T())
	s.Require().NoError(s.h.auth.VerifyEmail(s.ctx, token))

	pair, err := s.signIn("ana@x.com", testPassword)
	s.Require().NoError(err)
	s.NotEmpty(pair.AccessToken)
	s.NotEmpty(pair.RefreshToken)

	claims, err := s.h.auth.ValidateAccessToken(s.ctx, pair.AccessToken)
	s.Require().NoError(err)
	s.Equal("ana@x.com", claims.Email)

	s.requireKind(s.h.auth.VerifyEmail(s.ctx, token), apperrors.KindNotFound)
}

func (s *AuthServiceSuite) TestRegisterStoresProfile() {
	s.Require().NoError(s.h.auth.Register(s.ctx, &dto.RegisterRequest{
		Name:         "  Ana   Maria ",
		FamilyName:   " Lopez ",
		Email:        "ana@x.com",
		Password:     testPassword,
		DateOfBirth:  "1990-04-12",
		LastLocation: "pt-BR",
	}))

	user, err := s.h.repos.User.GetByEmail(s.ctx, "ana@x.com")
	s.Require().NoError(err)
	s.Equal("Ana Maria", user.Name)
	s.Equal("Lopez", user.FamilyName)
	s.False(user.ValidUser)
	s.False(user.IsGoogleAccount)
	s.NotEqual(testPassword, user.PasswordHash)
	s.Require().NotNil(user.DateOfBirth)
	s.Equal("1990-04-12", user.DateOfBirth.Format("2006-01-02"))
	s.Require().NotNil(user.LastLocation)
	s.Equal("pt-BR", *user.LastLocation)
	s.Equal(1, s.h.store.TokenCount(user.ID, domain.TokenKindEmailVerification))
	s.True(s.h.mr.Exists("user:ana@x.com"))
}

func (s *AuthServiceSuite) TestRegisterValidation() {
	tests := []struct {
		name string
		req  dto.RegisterRequest
	}{
		{"missing name", dto.RegisterRequest{Name: "  ", Email: "ana@x.com", Password: testPassword}},
		{"missing email", dto.RegisterRequest{Name: "Ana", Password: testPassword}},
		{"missing password", dto.RegisterRequest{Name: "Ana", Email: "ana@x.com"}},
		{"invalid email", dto.RegisterRequest{Name: "Ana", Email: "invalid-email", Password: testPassword}},
		{"weak password", dto.RegisterRequest{Name: "Ana", Email: "ana@x.com", Password: "abcdefgh"}},
		{"bad date of birth", dto.RegisterRequest{Name: "Ana", Email: "ana@x.com", Password: testPassword, DateOfBirth: "12/04/1990"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.requireKind(s.h.auth.Register(s.ctx, &tt.req), apperrors.KindValidation)
		})
	}
	s.Equal(0, s.h.store.UserCount())
}

func (s *AuthServiceSuite) TestRegisterDuplicateEmail() {
	s.register("ana@x.com")

	err := s.h.auth.Register(s.ctx, &dto.RegisterRequest{Name: "Other", Email: "ana@x.com", Password: testPassword})
	s.requireKind(err, apperrors.KindConflict)
	s.Equal(1, s.h.store.UserCount())
}

func (s *AuthServiceSuite) TestRegisterSucceedsWhenMailFails() {
	s.h.notifier.err = errors.New("smtp down")

	s.register("ana@x.com")
	s.Equal(1, s.h.store.UserCount())
}

func (s *AuthServiceSuite) TestRegisterRollsBackWhenTokenCannotBeIssued() {
	s.h.mr.Close()

	err := s.h.auth.Register(s.ctx, &dto.RegisterRequest{Name: "Ana", Email: "ana@x.com", Password: testPassword})
	s.Require().Error(err)
	s.Equal(apperrors.KindInternal, apperrors.KindOf(err))
	s.Equal(0, s.h.store.UserCount())
	s.Empty(s.h.notifier.verification)

	s.Require().NoError(s.h.mr.Restart())
	s.register("ana@x.com")
	s.Equal(1, s.h.store.UserCount())
	s.NotEmpty(s.h.notifier.lastVerificationToken(s.T()))
}

func (s *AuthServiceSuite) TestSignInRejections() {
	s.h.createUser(s.T(), "ana@x.com", true)

	_, err := s.h.auth.SignIn(s.ctx, &dto.SignInRequest{Email: "ana@x.com"})
	s.requireKind(err, apperrors.KindValidation)

	_, err = s.signIn("nobody@x.com", testPassword)
	s.requireKind(err, apperrors.KindUnauthorized)

	_, err = s.signIn("ana@x.com", "Wrong-pass1")
	s.requireKind(err, apperrors.KindUnauthorized)
}

func (s *AuthServiceSuite) TestSignInUpgradesWeakHash() {
	s.h.createUser(s.T(), "ana@x.com", true)

	stronger := NewAuthService(
		s.h.repos.User, s.h.userCache, s.h.jwt, s.h.verification, s.h.reset,
		s.h.identity, s.h.notifier, nil, s.h.logger, bcrypt.MinCost+1,
	)

	_, err := stronger.SignIn(s.ctx, &dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.Require().NoError(err)

	stored, err := s.h.repos.User.GetByEmail(s.ctx, "ana@x.com")
	s.Require().NoError(err)
	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	s.Require().NoError(err)
	s.Equal(bcrypt.MinCost+1, cost)

	_, err = stronger.SignIn(s.ctx, &dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.NoError(err)
}

func (s *AuthServiceSuite) TestGoogleSignInUnverifiedEmailCreatesNothing() {
	s.h.identity.identity.EmailVerified = false

	_, err := s.h.auth.GoogleSignIn(s.ctx, "id-token")
	s.requireKind(err, apperrors.KindForbidden)
	s.Equal(0, s.h.store.UserCount())
}

func (s *AuthServiceSuite) TestGoogleSignInCreatesThenReusesAccount() {
	first, err := s.h.auth.GoogleSignIn(s.ctx, "id-token")
	s.Require().NoError(err)

	user, err := s.h.repos.User.GetByEmail(s.ctx, "gina@x.com")
	s.Require().NoError(err)
	s.True(user.IsGoogleAccount)
	s.True(user.ValidUser)
	s.Empty(user.PasswordHash)
	s.Equal("Gina", user.Name)
	s.Require().NotNil(user.PictureURL)
	s.Equal("https://lh3.example/photo.png", *user.PictureURL)
	s.Require().NotNil(user.RefreshToken)
	s.Equal(first.RefreshToken, *user.RefreshToken)

	second, err := s.h.auth.GoogleSignIn(s.ctx, "id-token")
	s.Require().NoError(err)
	s.NotEqual(first.RefreshToken, second.RefreshToken)
	s.Equal(1, s.h.store.UserCount())

	_, err = s.signIn("gina@x.com", "")
	s.requireKind(err, apperrors.KindValidation)
	_, err = s.signIn("gina@x.com", testPassword)
	s.requireKind(err, apperrors.KindUnauthorized)
}

func (s *AuthServiceSuite) TestGoogleSignInInvalidToken() {
	_, err := s.h.auth.GoogleSignIn(s.ctx, "")
	s.requireKind(err, apperrors.KindValidation)

	s.h.identity.err = errors.New("audience mismatch")
	_, err = s.h.auth.GoogleSignIn(s.ctx, "forged")
	s.requireKind(err, apperrors.KindUnauthorized)
}

func (s *AuthServiceSuite) TestGoogleSignInProviderOutage() {
	for _, cause := range []error{
		fmt.Errorf("fetching certs: %w", domain.ErrIdentityUnavailable),
		context.DeadlineExceeded,
	} {
		s.h.identity.err = cause
		_, err := s.h.auth.GoogleSignIn(s.ctx, "id-token")
		appErr := s.requireKind(err, apperrors.KindUpstream)
		s.Equal(http.StatusBadGateway, appErr.HTTPStatus())
	}
	s.Equal(0, s.h.store.UserCount())
}

func (s *AuthServiceSuite) TestRefreshRotation() {
	s.h.createUser(s.T(), "ana@x.com", true)

	first, err := s.signIn("ana@x.com", testPassword)
	s.Require().NoError(err)
	second, err := s.signIn("ana@x.com", testPassword)
	s.Require().NoError(err)

	_, err = s.h.auth.RefreshAccessToken(s.ctx, first.RefreshToken)
	appErr := s.requireKind(err, apperrors.KindForbidden)
	s.Equal(apperrors.CodeInvalidRefreshToken, appErr.Code)

	access, err := s.h.auth.RefreshAccessToken(s.ctx, second.RefreshToken)
	s.Require().NoError(err)
	claims, err := s.h.auth.ValidateAccessToken(s.ctx, access)
	s.Require().NoError(err)
	s.Equal("ana@x.com", claims.Email)

	// the refresh token is not rotated by the refresh flow
	_, err = s.h.auth.RefreshAccessToken(s.ctx, second.RefreshToken)
	s.NoError(err)
}

func (s *AuthServiceSuite) TestRefreshFailures() {
	user := s.h.createUser(s.T(), "ana@x.com", true)

	_, err := s.h.auth.RefreshAccessToken(s.ctx, "")
	s.requireKind(err, apperrors.KindUnauthorized)

	_, err = s.h.auth.RefreshAccessToken(s.ctx, "garbage")
	appErr := s.requireKind(err, apperrors.KindForbidden)
	s.Equal(apperrors.CodeInvalidRefreshToken, appErr.Code)

	past := time.Now().Add(-8 * 24 * time.Hour)
	stale := utils.NewJWTManager(testAccessSecret, testRefreshSecret, time.Minute, 7*24*time.Hour,
		utils.WithClock(func() time.Time { return past }))
	expired, err := stale.GenerateRefreshToken(user.ID)
	s.Require().NoError(err)

	_, err = s.h.auth.RefreshAccessToken(s.ctx, expired)
	appErr = s.requireKind(err, apperrors.KindForbidden)
	s.Equal(apperrors.CodeRefreshTokenExpired, appErr.Code)

	// well signed, but never stored on the user
	orphan, err := s.h.jwt.GenerateRefreshToken(user.ID)
	s.Require().NoError(err)
	_, err = s.h.auth.RefreshAccessToken(s.ctx, orphan)
	s.requireKind(err, apperrors.KindForbidden)

	ghost, err := s.h.jwt.GenerateRefreshToken(999)
	s.Require().NoError(err)
	_, err = s.h.auth.RefreshAccessToken(s.ctx, ghost)
	s.requireKind(err, apperrors.KindForbidden)
}

func (s *AuthServiceSuite) TestRequestPasswordReset() {
	err := s.h.auth.RequestPasswordReset(s.ctx, "nobody@x.com")
	s.requireKind(err, apperrors.KindNotFound)

	s.requireKind(s.h.auth.RequestPasswordReset(s.ctx, "not-an-email"), apperrors.KindValidation)
	s.requireKind(s.h.auth.RequestPasswordReset(s.ctx, ""), apperrors.KindValidation)

	user := s.h.createUser(s.T(), "ana@x.com", true)

	s.Require().NoError(s.h.auth.RequestPasswordReset(s.ctx, "ana@x.com"))
	s.Equal(1, s.h.store.TokenCount(user.ID, domain.TokenKindPasswordReset))
	first := s.h.notifier.lastResetToken(s.T())

	s.Require().NoError(s.h.auth.RequestPasswordReset(s.ctx, "ana@x.com"))
	s.Equal(1, s.h.store.TokenCount(user.ID, domain.TokenKindPasswordReset))

	err = s.h.auth.ResetPassword(s.ctx, &dto.ResetPasswordRequest{Token: first, NewPassword: "Newpass1!"})
	s.requireKind(err, apperrors.KindNotFound)
}

func (s *AuthServiceSuite) TestRequestPasswordResetMailFailure() {
	s.h.createUser(s.T(), "ana@x.com", true)
	s.h.notifier.err = errors.New("smtp down")

	err := s.h.auth.RequestPasswordReset(s.ctx, "ana@x.com")
	appErr := s.requireKind(err, apperrors.KindUpstream)
	s.Equal(http.StatusInternalServerError, appErr.HTTPStatus())
}

func (s *AuthServiceSuite) TestResetPassword() {
	s.h.createUser(s.T(), "ana@x.com", true)
	s.Require().NoError(s.h.auth.RequestPasswordReset(s.ctx, "ana@x.com"))
	token := s.h.notifier.lastResetToken(s.T())

	err := s.h.auth.ResetPassword(s.ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "short"})
	s.requireKind(err, apperrors.KindValidation)

	s.Require().NoError(s.h.auth.ResetPassword(s.ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "Newpass1!"}))

	_, err = s.signIn("ana@x.com", testPassword)
	s.requireKind(err, apperrors.KindUnauthorized)
	_, err = s.signIn("ana@x.com", "Newpass1!")
	s.NoError(err)

	err = s.h.auth.ResetPassword(s.ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "Another1!"})
	s.requireKind(err, apperrors.KindNotFound)
}

func (s *AuthServiceSuite) TestResetTokenLapsesAfterExpiry() {
	s.h.createUser(s.T(), "ana@x.com", true)
	s.Require().NoError(s.h.auth.RequestPasswordReset(s.ctx, "ana@x.com"))
	token := s.h.notifier.lastResetToken(s.T())

	s.h.mr.FastForward(15*time.Minute + time.Second)

	err := s.h.auth.ResetPassword(s.ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "Newpass1!"})
	s.requireKind(err, apperrors.KindNotFound)
}

func (s *AuthServiceSuite) TestValidateAccessToken() {
	past := time.Now().Add(-time.Hour)
	stale := utils.NewJWTManager(testAccessSecret, testRefreshSecret, 15*time.Minute, time.Hour,
		utils.WithClock(func() time.Time { return past }))
	expired, err := stale.GenerateAccessToken(1, "ana@x.com")
	s.Require().NoError(err)

	_, err = s.h.auth.ValidateAccessToken(s.ctx, expired)
	appErr := s.requireKind(err, apperrors.KindUnauthorized)
	s.Equal(apperrors.CodeTokenExpired, appErr.Code)

	_, err = s.h.auth.ValidateAccessToken(s.ctx, "not-a-token")
	s.requireKind(err, apperrors.KindForbidden)
}
