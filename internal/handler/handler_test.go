package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/auth-lifecycle/internal/config"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository/memory"
	"github.com/prperemyshlev/auth-lifecycle/internal/service"
	"github.com/prperemyshlev/auth-lifecycle/internal/utils"
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAccessSecret  = "test-access-secret-with-32-characters!"
	testRefreshSecret = "test-refresh-secret-with-32-characters"
	testPassword      = "Abcdef1!"
	apiPrefix         = "/api/v1/app"
)

// pngHeader is enough for content sniffing to report image/png
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type capturedLinks struct {
	mu           sync.Mutex
	verification []string
	reset        []string
	err          error
}

func (n *capturedLinks) SendVerificationEmail(_ context.Context, _ *domain.User, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification = append(n.verification, link)
	return nil
}

func (n *capturedLinks) SendPasswordResetEmail(_ context.Context, _ *domain.User, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset = append(n.reset, link)
	return n.err
}

type stubIdentity struct {
	identity *domain.ExternalIdentity
	err      error
}

func (s *stubIdentity) Verify(context.Context, string) (*domain.ExternalIdentity, error) {
	if s.err != nil {
		return nil, s.err
	}
	identity := *s.identity
	return &identity, nil
}

type stubUploader struct {
	err error
}

func (s *stubUploader) Upload(_ context.Context, name string, _ []byte, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://img.example/" + name, nil
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (*service.RateLimitDecision, error) {
	return nil, errors.New("redis is down")
}

type HandlerTestSuite struct {
	suite.Suite

	mr       *miniredis.Miniredis
	redis    *database.Redis
	store    *memory.Store
	jwt      *utils.JWTManager
	mail     *capturedLinks
	identity *stubIdentity
	uploader *stubUploader
	logger   *zap.Logger
	limits   config.SecurityConfig
	limiter  RateLimiter
	router   *gin.Engine
}

func TestHandlerTestSuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { client.Close() })
	s.redis = &database.Redis{Client: client}

	s.store = memory.NewStore()
	s.jwt = utils.NewJWTManager(testAccessSecret, testRefreshSecret, 15*time.Minute, 7*24*time.Hour)
	s.mail = &capturedLinks{}
	s.identity = &stubIdentity{identity: &domain.ExternalIdentity{
		Subject:       "sub",
		Email:         "gina@x.com",
		EmailVerified: true,
		GivenName:     "Gina",
	}}
	s.uploader = &stubUploader{}
	s.logger = zaptest.NewLogger(s.T())
	s.limits = config.SecurityConfig{
		RateLimitEnabled: true,
		SignInLimit:      policy(100, time.Minute),
		RegisterLimit:    policy(100, time.Minute),
		ResetLimit:       policy(100, time.Minute),
		GeneralLimit:     policy(100, time.Minute),
	}
	s.limiter = service.NewRateLimiter(s.redis)
	s.buildRouter()
}

func policy(requests int, window time.Duration) config.RateLimitPolicy {
	return config.RateLimitPolicy{Requests: requests, Window: config.Duration{Duration: window}}
}

func (s *HandlerTestSuite) buildRouter() {
	repos := s.store.Repositories()
	userCache := service.NewRedisUserCache(s.redis, time.Hour)
	tokenCache := service.NewRedisTokenCache(s.redis)
	verification := service.NewOneTimeTokenService(service.EmailVerificationPolicy(24*time.Hour), repos.Token, tokenCache, "http://localhost:3000", s.logger)
	reset := service.NewOneTimeTokenService(service.PasswordResetPolicy(15*time.Minute), repos.Token, tokenCache, "http://localhost:3000", s.logger)

	authService := service.NewAuthService(repos.User, userCache, s.jwt, verification, reset, s.identity, s.mail, nil, s.logger, bcrypt.MinCost)
	profileService := service.NewProfileService(repos.User, userCache, s.uploader, nil, s.logger, time.Second, 1024)

	s.router = gin.New()
	s.router.Use(LoggerMiddleware(s.logger))
	RegisterRoutes(s.router.Group(apiPrefix), Routes{
		Auth:         NewAuthHandler(authService, s.logger),
		Profile:      NewProfileHandler(profileService, s.logger, 1024),
		Authenticate: AuthMiddleware(authService, s.logger),
		RateLimit:    NewRateLimit(s.limiter, s.limits.RateLimitEnabled, s.logger),
		Limits:       s.limits,
	})
}

func (s *HandlerTestSuite) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, apiPrefix+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerTestSuite) post(path string, body any) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, path, body, nil)
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func (s *HandlerTestSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *HandlerTestSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var body dto.ErrorResponse
	s.decode(rec, &body)
	return body.Error
}

func tokenOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

// signedInUser registers, verifies and signs in ana@x.com
func (s *HandlerTestSuite) signedInUser() dto.TokenPairResponse {
	rec := s.post("/login/register", map[string]string{"name": "Ana", "email": "ana@x.com", "password": testPassword})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	s.Require().NotEmpty(s.mail.verification)
	rec = s.post("/login/verify-email", dto.VerifyEmailRequest{Token: tokenOf(s.mail.verification[0])})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var pair dto.TokenPairResponse
	s.decode(rec, &pair)
	return pair
}

func (s *HandlerTestSuite) TestRegistrationLifecycle() {
	register := map[string]string{"name": "Ana", "email": "ana@x.com", "password": testPassword}

	rec := s.post("/login/register", register)
	s.Equal(http.StatusCreated, rec.Code)
	s.NotEmpty(rec.Header().Get(headerRequestID))

	rec = s.post("/login/register", register)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.post("/login/verify-email", dto.VerifyEmailRequest{Token: tokenOf(s.mail.verification[0])})
	s.Equal(http.StatusOK, rec.Code)

	rec = s.post("/login/verify-email", dto.VerifyEmailRequest{Token: tokenOf(s.mail.verification[0])})
	s.Equal(http.StatusNotFound, rec.Code, "verification tokens are single use")

	rec = s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.Require().Equal(http.StatusOK, rec.Code)

	var pair dto.TokenPairResponse
	s.decode(rec, &pair)
	s.NotEmpty(pair.AccessToken)
	s.NotEmpty(pair.RefreshToken)
}

func (s *HandlerTestSuite) TestValidationErrors() {
	rec := s.post("/login/register", map[string]string{"email": "ana@x.com"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.post("/login/sign-in", nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.post("/login/verify-email", dto.VerifyEmailRequest{})
	s.Equal(http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/login/sign-in", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	s.Equal(http.StatusBadRequest, raw.Code)
	s.Equal("ValidationError", s.errorCode(raw))
}

func (s *HandlerTestSuite) TestSignInWrongPassword() {
	s.signedInUser()

	rec := s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: "Wrong123!"})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.post("/login/sign-in", dto.SignInRequest{Email: "nobody@x.com", Password: testPassword})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerTestSuite) TestRefreshToken() {
	first := s.signedInUser()

	rec := s.post("/login/refresh-token", dto.RefreshTokenRequest{RefreshToken: first.RefreshToken})
	s.Require().Equal(http.StatusOK, rec.Code)
	var access dto.AccessTokenResponse
	s.decode(rec, &access)
	s.NotEmpty(access.AccessToken)

	rec = s.post("/login/refresh-token", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.post("/login/refresh-token", dto.RefreshTokenRequest{RefreshToken: "garbage"})
	s.Equal(http.StatusForbidden, rec.Code)

	// a new sign-in rotates the stored refresh token
	rec = s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.post("/login/refresh-token", dto.RefreshTokenRequest{RefreshToken: first.RefreshToken})
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("InvalidRefreshToken", s.errorCode(rec))
}

func (s *HandlerTestSuite) TestGoogleLogin() {
	rec := s.post("/login/google-login", dto.GoogleLoginRequest{})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.post("/login/google-login", dto.GoogleLoginRequest{IDToken: "id-token"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(1, s.store.UserCount())

	s.identity.identity.EmailVerified = false
	s.identity.identity.Email = "other@x.com"
	rec = s.post("/login/google-login", dto.GoogleLoginRequest{IDToken: "id-token"})
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal(1, s.store.UserCount())

	s.identity.err = errors.New("bad audience")
	rec = s.post("/login/google-login", dto.GoogleLoginRequest{IDToken: "id-token"})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerTestSuite) TestPasswordReset() {
	s.signedInUser()

	rec := s.post("/login/lost-password/request-reset", dto.RequestResetRequest{Email: "nobody@x.com"})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.post("/login/lost-password/request-reset", dto.RequestResetRequest{Email: "ana@x.com"})
	s.Require().Equal(http.StatusOK, rec.Code)
	token := tokenOf(s.mail.reset[0])

	rec = s.post("/login/lost-password/reset-password", dto.ResetPasswordRequest{Token: token, NewPassword: "short"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.post("/login/lost-password/reset-password", dto.ResetPasswordRequest{Token: token, NewPassword: "Newpass1!"})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.post("/login/lost-password/reset-password", dto.ResetPasswordRequest{Token: token, NewPassword: "Newpass1!"})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: "Newpass1!"})
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerTestSuite) TestPasswordResetMailFailure() {
	s.signedInUser()
	s.mail.err = errors.New("smtp down")

	rec := s.post("/login/lost-password/request-reset", dto.RequestResetRequest{Email: "ana@x.com"})
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *HandlerTestSuite) TestBearerMiddleware() {
	pair := s.signedInUser()

	rec := s.do(http.MethodGet, "/auth/user/show", nil, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/auth/user/show", nil, http.Header{"Authorization": {"Token " + pair.AccessToken}})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/auth/user/show", nil, bearer("not-a-jwt"))
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("InvalidToken", s.errorCode(rec))

	// refresh tokens are signed with another secret
	rec = s.do(http.MethodGet, "/auth/user/show", nil, bearer(pair.RefreshToken))
	s.Equal(http.StatusForbidden, rec.Code)

	past := utils.NewJWTManager(testAccessSecret, testRefreshSecret, 15*time.Minute, time.Hour,
		utils.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	expired, err := past.GenerateAccessToken(1, "ana@x.com")
	s.Require().NoError(err)

	rec = s.do(http.MethodGet, "/auth/user/show", nil, bearer(expired))
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("TokenExpiredError", s.errorCode(rec))
}

func (s *HandlerTestSuite) TestShowProfile() {
	pair := s.signedInUser()

	rec := s.do(http.MethodGet, "/auth/user/show", nil, bearer(pair.AccessToken))
	s.Require().Equal(http.StatusOK, rec.Code)

	var profile dto.ProfileResponse
	s.decode(rec, &profile)
	s.Equal("Ana", profile.Name)
	s.Equal("ana@x.com", profile.Email)
	s.Nil(profile.PictureURL)

	ghost, err := s.jwt.GenerateAccessToken(999, "ghost@x.com")
	s.Require().NoError(err)
	rec = s.do(http.MethodGet, "/auth/user/show", nil, bearer(ghost))
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerTestSuite) multipartUpdate(token string, fields map[string]string, image []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		s.Require().NoError(w.WriteField(k, v))
	}
	if image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="me.png"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		s.Require().NoError(err)
		_, err = part.Write(image)
		s.Require().NoError(err)
	}
	s.Require().NoError(w.Close())

	req := httptest.NewRequest(http.MethodPut, apiPrefix+"/auth/user/update", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerTestSuite) TestUpdateProfile() {
	pair := s.signedInUser()

	rec := s.multipartUpdate(pair.AccessToken, map[string]string{"name": "  Ana   Maria ", "family_name": "Silva"}, pngHeader)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var profile dto.ProfileResponse
	s.decode(rec, &profile)
	s.Equal("Ana Maria", profile.Name)
	s.Equal("Silva", profile.FamilyName)
	s.Require().NotNil(profile.PictureURL)
	s.Contains(*profile.PictureURL, "https://img.example/users/")

	rec = s.multipartUpdate(pair.AccessToken, map[string]string{"family_name": "Souza"}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &profile)
	s.Equal("Ana Maria", profile.Name, "absent fields are left unchanged")
	s.Equal("Souza", profile.FamilyName)

	rec = s.multipartUpdate(pair.AccessToken, nil, bytes.Repeat([]byte{1}, 2048))
	s.Equal(http.StatusBadRequest, rec.Code)

	s.uploader.err = errors.New("imgbb timeout")
	rec = s.multipartUpdate(pair.AccessToken, nil, pngHeader)
	s.Equal(http.StatusBadGateway, rec.Code)
}

func (s *HandlerTestSuite) TestRateLimit() {
	s.limits.SignInLimit = policy(2, time.Minute)
	s.buildRouter()

	for i := 0; i < 2; i++ {
		rec := s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Equal("2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("0", rec.Header().Get("X-RateLimit-Remaining"))
	s.NotEmpty(rec.Header().Get("Retry-After"))
	s.Equal(codeTooManyRequests, s.errorCode(rec))

	// policies keep separate budgets
	rec = s.post("/login/verify-email", dto.VerifyEmailRequest{Token: "x"})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerTestSuite) TestRateLimitFailsOpen() {
	s.limiter = brokenLimiter{}
	s.buildRouter()

	rec := s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Empty(rec.Header().Get("X-RateLimit-Limit"))
}

func (s *HandlerTestSuite) TestRateLimitDisabled() {
	s.limits.RateLimitEnabled = false
	s.limits.SignInLimit = policy(1, time.Minute)
	s.buildRouter()

	for i := 0; i < 3; i++ {
		rec := s.post("/login/sign-in", dto.SignInRequest{Email: "ana@x.com", Password: testPassword})
		s.Equal(http.StatusUnauthorized, rec.Code)
	}
}

func (s *HandlerTestSuite) TestUnknownErrorIsHidden() {
	router := gin.New()
	router.GET("/boom", func(c *gin.Context) {
		respondError(c, s.logger, errors.New("pq: connection refused"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	s.Equal(http.StatusInternalServerError, rec.Code)

	var body dto.ErrorResponse
	s.decode(rec, &body)
	s.Equal(codeInternal, body.Error)
	s.Equal(msgInternal, body.Message)
	s.NotContains(rec.Body.String(), "pq:")
}
