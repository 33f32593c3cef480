package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/auth-lifecycle/internal/apperrors"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
	"github.com/prperemyshlev/auth-lifecycle/internal/service"
	"go.uber.org/zap"
)

const (
	imageFormField    = "image"
	dateOfBirthLayout = "2006-01-02"
)

// ProfileHandler serves the signed-in user's profile
type ProfileHandler struct {
	profileService service.ProfileService
	logger         *zap.Logger
	maxImageBytes  int64
}

// NewProfileHandler creates a profile handler. Uploaded images are read up
// to one byte past maxImageBytes so that the service can reject them.
func NewProfileHandler(profileService service.ProfileService, logger *zap.Logger, maxImageBytes int64) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		logger:         logger,
		maxImageBytes:  maxImageBytes,
	}
}

// Show returns the current user's profile
// @Summary Current user profile
// @Tags user
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.ProfileResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /auth/user/show [get]
func (h *ProfileHandler) Show(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		respondError(c, h.logger, apperrors.Unauthorized(msgTokenMissing))
		return
	}

	user, err := h.profileService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := toProfileResponse(user)
	if user.DateOfBirth != nil {
		dob := user.DateOfBirth.Format(dateOfBirthLayout)
		resp.DateOfBirth = &dob
	}
	c.JSON(http.StatusOK, resp)
}

// Update changes the name fields and optionally the picture
// @Summary Update current user profile
// @Tags user
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Success 200 {object} dto.ProfileResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /auth/user/update [put]
func (h *ProfileHandler) Update(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		respondError(c, h.logger, apperrors.Unauthorized(msgTokenMissing))
		return
	}

	req, err := h.readUpdateForm(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	user, err := h.profileService.UpdateProfile(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toProfileResponse(user))
}

func (h *ProfileHandler) readUpdateForm(c *gin.Context) (*dto.UpdateProfileRequest, error) {
	req := &dto.UpdateProfileRequest{}

	if name, ok := c.GetPostForm("name"); ok {
		req.Name = &name
	}
	if familyName, ok := c.GetPostForm("family_name"); ok {
		req.FamilyName = &familyName
	}

	header, err := c.FormFile(imageFormField)
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return req, nil
	case err != nil:
		return nil, apperrors.Validation(msgInvalidBody)
	}

	file, err := header.Open()
	if err != nil {
		return nil, apperrors.Validation(msgInvalidBody)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		return nil, apperrors.Validation(msgInvalidBody)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		// let the service sniff it
		contentType = ""
	}

	req.Image = &dto.ImageUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}
	return req, nil
}

func toProfileResponse(user *domain.User) dto.ProfileResponse {
	return dto.ProfileResponse{
		Name:       user.Name,
		FamilyName: user.FamilyName,
		PictureURL: user.PictureURL,
		Email:      user.Email,
	}
}
