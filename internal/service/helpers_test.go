package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository/memory"
	"github.com/prperemyshlev/auth-lifecycle/internal/utils"
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAccessSecret  = "test-access-secret-with-32-characters!"
	testRefreshSecret = "test-refresh-secret-with-32-characters"
	testFrontendURL   = "http://localhost:3000"
	testPassword      = "Abcdef1!"
)

type sentEmail struct {
	to   string
	link string
}

type recordingNotifier struct {
	mu           sync.Mutex
	verification []sentEmail
	reset        []sentEmail
	err          error
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, user *domain.User, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification = append(n.verification, sentEmail{to: user.Email, link: link})
	return n.err
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, user *domain.User, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset = append(n.reset, sentEmail{to: user.Email, link: link})
	return n.err
}

func (n *recordingNotifier) lastVerificationToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.verification, "no verification email sent")
	return tokenFromLink(t, n.verification[len(n.verification)-1].link)
}

func (n *recordingNotifier) lastResetToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.reset, "no reset email sent")
	return tokenFromLink(t, n.reset[len(n.reset)-1].link)
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

type fakeIdentityVerifier struct {
	identity *domain.ExternalIdentity
	err      error
}

func (f *fakeIdentityVerifier) Verify(context.Context, string) (*domain.ExternalIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	identity := *f.identity
	return &identity, nil
}

type fakeUploader struct {
	url   string
	err   error
	names []string
}

func (f *fakeUploader) Upload(_ context.Context, name string, _ []byte, _ string) (string, error) {
	f.names = append(f.names, name)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type harness struct {
	mr           *miniredis.Miniredis
	redis        *database.Redis
	store        *memory.Store
	repos        *repository.Repositories
	userCache    *RedisUserCache
	tokenCache   *RedisTokenCache
	jwt          *utils.JWTManager
	verification *OneTimeTokenService
	reset        *OneTimeTokenService
	notifier     *recordingNotifier
	identity     *fakeIdentityVerifier
	logger       *zap.Logger
	auth         AuthService
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *database.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, &database.Redis{Client: client}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(),
		jwt:      utils.NewJWTManager(testAccessSecret, testRefreshSecret, 15*time.Minute, 7*24*time.Hour),
		notifier: &recordingNotifier{},
		identity: &fakeIdentityVerifier{identity: &domain.ExternalIdentity{
			Subject:       "google-sub",
			Email:         "gina@x.com",
			EmailVerified: true,
			GivenName:     "  Gina ",
			FamilyName:    "Rossi",
			Picture:       "https://lh3.example/photo.png",
			Locale:        "it",
		}},
		logger: zaptest.NewLogger(t),
	}
	h.mr, h.redis = newTestRedis(t)
	h.repos = h.store.Repositories()
	h.userCache = NewRedisUserCache(h.redis, time.Hour)
	h.tokenCache = NewRedisTokenCache(h.redis)
	h.verification = NewOneTimeTokenService(EmailVerificationPolicy(24*time.Hour), h.repos.Token, h.tokenCache, testFrontendURL, h.logger)
	h.reset = NewOneTimeTokenService(PasswordResetPolicy(15*time.Minute), h.repos.Token, h.tokenCache, testFrontendURL, h.logger)
	h.auth = NewAuthService(
		h.repos.User,
		h.userCache,
		h.jwt,
		h.verification,
		h.reset,
		h.identity,
		h.notifier,
		nil,
		h.logger,
		bcrypt.MinCost,
	)
	return h
}

// createUser stores a password account directly, bypassing registration
func (h *harness) createUser(t *testing.T, email string, verified bool) *domain.User {
	t.Helper()
	hash, err := utils.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	user := &domain.User{Email: email, PasswordHash: hash, Name: "Test", ValidUser: verified}
	require.NoError(t, h.repos.User.Create(context.Background(), user))
	return user
}
