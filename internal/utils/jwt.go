package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
)

var (
	// ErrTokenExpired is returned for a well-signed token past its expiry.
	// Callers may recover by refreshing.
	ErrTokenExpired = errors.New("token is expired")

	// ErrTokenInvalid covers bad signatures, wrong secrets, tampering and
	// malformed input
	ErrTokenInvalid = errors.New("token is invalid")
)

const tokenTypeRefresh = "refresh"

type accessClaims struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID int64  `json:"id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies access and refresh tokens. Each kind is
// signed with its own secret.
type JWTManager struct {
	accessSecret       []byte
	refreshSecret      []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

// JWTOption customizes a JWTManager
type JWTOption func(*JWTManager)

// WithClock replaces the wall clock used for issuing and verifying
func WithClock(now func() time.Time) JWTOption {
	return func(j *JWTManager) {
		j.now = now
	}
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(accessSecret, refreshSecret string, accessTokenExpiry, refreshTokenExpiry time.Duration, opts ...JWTOption) *JWTManager {
	j := &JWTManager{
		accessSecret:       []byte(accessSecret),
		refreshSecret:      []byte(refreshSecret),
		accessTokenExpiry:  accessTokenExpiry,
		refreshTokenExpiry: refreshTokenExpiry,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// GenerateAccessToken signs {id, email} with the access secret
func (j *JWTManager) GenerateAccessToken(userID int64, email string) (string, error) {
	now := j.now()
	claims := accessClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTokenExpiry)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.accessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// GenerateRefreshToken signs {id} with the refresh secret. A random jti keeps
// two tokens issued within the same second distinct.
func (j *JWTManager) GenerateRefreshToken(userID int64) (string, error) {
	now := j.now()
	claims := refreshClaims{
		UserID: userID,
		Type:   tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.refreshTokenExpiry)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return tokenString, nil
}

// ValidateAccessToken verifies an access token against the access secret
func (j *JWTManager) ValidateAccessToken(tokenString string) (*domain.AccessClaims, error) {
	var claims accessClaims
	if err := j.parse(tokenString, &claims, j.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID <= 0 || claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}

	return &domain.AccessClaims{
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ValidateRefreshToken verifies a refresh token against the refresh secret
func (j *JWTManager) ValidateRefreshToken(tokenString string) (*domain.RefreshClaims, error) {
	var claims refreshClaims
	if err := j.parse(tokenString, &claims, j.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh || claims.UserID <= 0 || claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}

	return &domain.RefreshClaims{
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// parse checks the signature before the claims, so a tampered token that is
// also past its expiry reports ErrTokenInvalid
func (j *JWTManager) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)

	switch {
	case err == nil && token.Valid:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
