// Package imagehost uploads profile pictures to an external image host
package imagehost

import (
	"context"
	"fmt"

	"github.com/prperemyshlev/auth-lifecycle/internal/config"
)

const (
	ProviderImgBB = "imgbb"
	ProviderS3    = "s3"
)

// Uploader stores an image and returns its public URL
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// New builds the uploader selected by cfg.Provider
func New(ctx context.Context, cfg config.ImageConfig) (Uploader, error) {
	switch cfg.Provider {
	case ProviderImgBB:
		return NewImgBB(cfg.ImgBBEndpoint, cfg.ImgBBAPIKey, cfg.UploadTimeout.Duration), nil
	case ProviderS3:
		return NewS3(ctx, S3Options{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
	}
}
