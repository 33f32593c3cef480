package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/auth-lifecycle/internal/apperrors"
	"github.com/prperemyshlev/auth-lifecycle/internal/service"
	"go.uber.org/zap"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"

	msgTokenMissing   = "Token not provided."
	msgTokenMalformed = "Invalid authorization header format."
)

// AuthMiddleware validates the bearer access token and adds the user to the
// context. Expired tokens are answered with 401 TokenExpiredError so that
// clients know to refresh; other invalid tokens get 403.
func AuthMiddleware(authService service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, logger, apperrors.Unauthorized(msgTokenMissing))
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		token = strings.TrimSpace(token)
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			respondError(c, logger, apperrors.Unauthorized(msgTokenMalformed))
			return
		}

		claims, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)

		c.Next()
	}
}

// CurrentUserID returns the id stored by AuthMiddleware
func CurrentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
