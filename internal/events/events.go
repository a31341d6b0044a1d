package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const TypeImageCreated = "image.created"

// Origin tells consumers how an image came to exist.
const (
	OriginUpload    = "upload"
	OriginTransform = "transform"
)

// ImageCreated announces a new stored artifact.
type ImageCreated struct {
	ImageID   string
	UserID    string
	ObjectKey string
	MimeType  string
	Origin    string
	CreatedAt time.Time
}

func (e ImageCreated) values() map[string]any {
	return map[string]any{
		"type":      TypeImageCreated,
		"imageId":   e.ImageID,
		"userId":    e.UserID,
		"objectKey": e.ObjectKey,
		"mimeType":  e.MimeType,
		"origin":    e.Origin,
		"createdAt": strconv.FormatInt(e.CreatedAt.UnixMilli(), 10),
	}
}

var ErrMalformedEvent = errors.New("malformed event")

// ParseImageCreated reads an event back from stream message values.
func ParseImageCreated(values map[string]any) (ImageCreated, error) {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}
	if str("type") != TypeImageCreated {
		return ImageCreated{}, fmt.Errorf("%w: type %q", ErrMalformedEvent, str("type"))
	}
	e := ImageCreated{
		ImageID:   str("imageId"),
		UserID:    str("userId"),
		ObjectKey: str("objectKey"),
		MimeType:  str("mimeType"),
		Origin:    str("origin"),
	}
	if e.ImageID == "" || e.ObjectKey == "" {
		return ImageCreated{}, fmt.Errorf("%w: missing imageId or objectKey", ErrMalformedEvent)
	}
	if ms, err := strconv.ParseInt(str("createdAt"), 10, 64); err == nil {
		e.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return e, nil
}

// Publisher appends events to a Redis stream, capped at roughly maxLen
// entries.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewPublisher(client *redis.Client, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *Publisher) PublishImageCreated(ctx context.Context, e ImageCreated) error {
	if p == nil || p.client == nil {
		return nil
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: e.values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Trim caps the stream at roughly maxLen entries and returns how many
// were evicted.
func (p *Publisher) Trim(ctx context.Context) (int64, error) {
	if p == nil || p.client == nil || p.maxLen <= 0 {
		return 0, nil
	}
	n, err := p.client.XTrimMaxLenApprox(ctx, p.stream, p.maxLen, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s: %w", p.stream, err)
	}
	return n, nil
}
