// Package google verifies Google ID tokens presented by the frontend
package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"google.golang.org/api/idtoken"
)

// ErrNotConfigured is returned when no OAuth client id is set
var ErrNotConfigured = errors.New("google client id is not configured")

type validateFunc func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Verifier checks ID tokens against Google's public keys and the configured
// client id
type Verifier struct {
	clientID string
	timeout  time.Duration
	validate validateFunc
}

// NewVerifier creates a verifier for clientID. Each verification is bounded
// by timeout.
func NewVerifier(clientID string, timeout time.Duration) *Verifier {
	return &Verifier{
		clientID: clientID,
		timeout:  timeout,
		validate: idtoken.Validate,
	}
}

// Verify validates idToken and extracts the identity it asserts
func (v *Verifier) Verify(ctx context.Context, idToken string) (*domain.ExternalIdentity, error) {
	if v.clientID == "" {
		return nil, ErrNotConfigured
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	payload, err := v.validate(ctx, idToken, v.clientID)
	if err != nil {
		if unreachable(ctx, err) {
			return nil, fmt.Errorf("google ID token validation failed: %w: %w", domain.ErrIdentityUnavailable, err)
		}
		return nil, fmt.Errorf("google ID token validation failed: %w", err)
	}

	return &domain.ExternalIdentity{
		Subject:       payload.Subject,
		Email:         stringClaim(payload.Claims, "email"),
		EmailVerified: boolClaim(payload.Claims, "email_verified"),
		GivenName:     stringClaim(payload.Claims, "given_name"),
		FamilyName:    stringClaim(payload.Claims, "family_name"),
		Picture:       stringClaim(payload.Claims, "picture"),
		Locale:        stringClaim(payload.Claims, "locale"),
	}, nil
}

// unreachable reports whether err came from fetching Google's keys rather
// than from checking the token against them
func unreachable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func stringClaim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}

// boolClaim accepts both JSON booleans and the "true" strings some issuers send
func boolClaim(claims map[string]interface{}, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}
