package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "github.com/chai2010/webp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/miracsucu4417/image-processing-service/internal/events"
	"github.com/miracsucu4417/image-processing-service/internal/repository"
	"github.com/miracsucu4417/image-processing-service/internal/storage"
)

type ObjectReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type DimensionStore interface {
	UpdateDimensions(ctx context.Context, id string, width, height int) error
}

// Processor fills in pixel dimensions for uploaded images. Uploads are
// stored as received, so their size is only known once the worker has
// decoded the header.
type Processor struct {
	objects ObjectReader
	images  DimensionStore
	log     zerolog.Logger
}

func NewProcessor(objects ObjectReader, images DimensionStore, log zerolog.Logger) *Processor {
	return &Processor{objects: objects, images: images, log: log}
}

// Handle implements queue.Handler. Entries that can never succeed are
// logged and acknowledged; storage or database outages return an error
// so the entry stays pending.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	event, err := events.ParseImageCreated(msg.Values)
	if err != nil {
		p.log.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed event")
		return nil
	}

	log := p.log.With().
		Str("message_id", msg.ID).
		Str("image_id", event.ImageID).
		Logger()

	if event.Origin == events.OriginTransform {
		return nil
	}
	if !decodable(event.MimeType) {
		log.Debug().Str("mime_type", event.MimeType).Msg("no raster dimensions")
		return nil
	}

	data, err := p.objects.Get(ctx, event.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn().Str("object_key", event.ObjectKey).Msg("object gone, skipping")
			return nil
		}
		return fmt.Errorf("get object %s: %w", event.ObjectKey, err)
	}

	width, height, err := Dimensions(data)
	if err != nil {
		log.Warn().Err(err).Msg("cannot read image dimensions")
		return nil
	}

	if err := p.images.UpdateDimensions(ctx, event.ImageID, width, height); err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			log.Warn().Msg("image record gone, skipping")
			return nil
		}
		return fmt.Errorf("update dimensions: %w", err)
	}

	log.Info().Int("width", width).Int("height", height).Msg("recorded image dimensions")
	return nil
}

func decodable(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") && !strings.HasPrefix(mimeType, "image/svg")
}

// Dimensions returns the displayed size of an encoded image. EXIF
// orientations 5 through 8 turn the picture by a quarter, so the stored
// width and height are swapped.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	if orientation(data) >= 5 {
		return cfg.Height, cfg.Width, nil
	}
	return cfg.Width, cfg.Height, nil
}

func orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}
