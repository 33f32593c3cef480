package service

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/auth-lifecycle/internal/apperrors"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
	"github.com/prperemyshlev/auth-lifecycle/internal/utils"
	"github.com/prperemyshlev/auth-lifecycle/pkg/observability"
	"go.uber.org/zap"
)

// profileService implements ProfileService interface
type profileService struct {
	directory     *userDirectory
	users         repository.UserRepository
	uploader      ImageUploader
	metrics       *observability.AuthMetrics
	logger        *zap.Logger
	uploadTimeout time.Duration
	maxImageBytes int64
}

// NewProfileService creates a new profile service
func NewProfileService(
	users repository.UserRepository,
	cache UserCache,
	uploader ImageUploader,
	metrics *observability.AuthMetrics,
	logger *zap.Logger,
	uploadTimeout time.Duration,
	maxImageBytes int64,
) ProfileService {
	return &profileService{
		directory:     newUserDirectory(users, cache, logger),
		users:         users,
		uploader:      uploader,
		metrics:       metrics,
		logger:        logger,
		uploadTimeout: uploadTimeout,
		maxImageBytes: maxImageBytes,
	}
}

// GetProfile returns the stored user
func (s *profileService) GetProfile(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.directory.byID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound(msgUserNotFound)
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile applies the submitted names and optional picture
func (s *profileService) UpdateProfile(ctx context.Context, userID int64, req *dto.UpdateProfileRequest) (user *domain.User, err error) {
	defer func() {
		outcome := observability.OutcomeSuccess
		if err != nil {
			outcome = apperrors.KindOf(err).String()
		}
		s.metrics.Record(ctx, FlowProfileUpdate, outcome)
	}()

	if req.Image != nil {
		if err := s.checkImage(req.Image); err != nil {
			return nil, err
		}
	}

	user, err = s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		user.Name = utils.NormalizeName(*req.Name)
	}
	if req.FamilyName != nil {
		user.FamilyName = utils.NormalizeName(*req.FamilyName)
	}

	if req.Image != nil {
		pictureURL, err := s.upload(ctx, user.ID, req.Image)
		if err != nil {
			return nil, err
		}
		user.PictureURL = &pictureURL
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.directory.remember(ctx, user)

	return user, nil
}

func (s *profileService) checkImage(image *dto.ImageUpload) error {
	if len(image.Data) == 0 {
		return apperrors.Validation("Image is empty.")
	}
	if s.maxImageBytes > 0 && int64(len(image.Data)) > s.maxImageBytes {
		return apperrors.Validation(fmt.Sprintf("Image exceeds %d bytes.", s.maxImageBytes))
	}
	if image.ContentType == "" {
		image.ContentType = http.DetectContentType(image.Data)
	}
	if !strings.HasPrefix(image.ContentType, "image/") {
		return apperrors.Validation("File must be an image.")
	}
	return nil
}

func (s *profileService) upload(ctx context.Context, userID int64, image *dto.ImageUpload) (string, error) {
	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	name := fmt.Sprintf("users/%d/%s%s", userID, uuid.NewString(), path.Ext(image.Filename))
	pictureURL, err := s.uploader.Upload(ctx, name, image.Data, image.ContentType)
	if err != nil {
		s.logger.Warn("image upload failed", zap.Int64("user_id", userID), zap.Error(err))
		return "", apperrors.Upstream("Error uploading image to the image service.", err)
	}
	return pictureURL, nil
}
