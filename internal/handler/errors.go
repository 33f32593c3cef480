package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/auth-lifecycle/internal/apperrors"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
	"go.uber.org/zap"
)

const (
	codeInternal        = "InternalServerError"
	codeTooManyRequests = "TooManyRequests"
	msgInternal         = "Internal server error"
	msgInvalidBody      = "Invalid request body."
)

// respondError writes err as an ErrorResponse and aborts the chain.
// Errors outside the apperrors taxonomy are logged and hidden behind a 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind == apperrors.KindInternal {
		logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(contextKeyRequestID)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   codeInternal,
			Message: msgInternal,
		})
		return
	}

	if appErr.Kind == apperrors.KindUpstream {
		logger.Warn("Upstream failure",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(contextKeyRequestID)),
			zap.Error(err),
		)
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus(), dto.ErrorResponse{
		Error:   appErr.Code,
		Message: appErr.Message,
	})
}

// bindJSON decodes the request body into dst. An empty body leaves dst
// zeroed so that the service reports the missing fields.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Validation(msgInvalidBody)
	}
	return nil
}
