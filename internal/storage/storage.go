package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miracsucu4417/image-processing-service/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the blob backend for image bytes. Keys are generated by
// Put and never reused.
type ObjectStore interface {
	Put(ctx context.Context, prefix string, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	EnsureBucket(ctx context.Context) error
	Ping(ctx context.Context) error
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "", "minio":
		return NewMinioStore(cfg)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewKey returns prefix/<uuid>.<ext>, where ext comes from mimeType.
func NewKey(prefix, mimeType string) string {
	return fmt.Sprintf("%s/%s.%s", strings.Trim(prefix, "/"), uuid.NewString(), Extension(mimeType))
}

// Extension maps an image MIME type to a file extension: image/jpeg is
// jpg, image/svg+xml is svg, anything unparseable is bin.
func Extension(mimeType string) string {
	media, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "bin"
	}
	_, sub, ok := strings.Cut(media, "/")
	if !ok || sub == "" {
		return "bin"
	}
	sub, _, _ = strings.Cut(sub, "+")
	if sub == "jpeg" {
		return "jpg"
	}
	return sub
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
