// Package media stores uploaded listing images.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/jensholdgaard/bazaar/internal/config"
)

// Errors returned when an upload is refused.
var (
	ErrUnsupportedType = errors.New("image must be a JPEG, PNG, GIF or WebP file")
	ErrTooLarge        = errors.New("image is too large")
)

// Store persists an object and returns the URL it is served from.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Detect sniffs the content type of data and returns it with the file
// extension used for storage keys. Only image types are accepted.
func Detect(data []byte) (contentType, ext string, err error) {
	contentType = mimetype.Detect(data).String()
	ext, ok := extensions[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: got %s", ErrUnsupportedType, contentType)
	}
	return contentType, ext, nil
}

// Key returns a fresh storage key for an image of a listing.
func Key(listingID int64, ext string) string {
	return fmt.Sprintf("listings/%d/%s%s", listingID, uuid.NewString(), ext)
}

// New returns the Store selected by cfg.Driver.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "local":
		return NewLocal(cfg.LocalDir, cfg.BaseURL)
	case "s3":
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
