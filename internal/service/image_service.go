package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/miracsucu4417/image-processing-service/internal/events"
	"github.com/miracsucu4417/image-processing-service/internal/ids"
	"github.com/miracsucu4417/image-processing-service/internal/media/sniffer"
	"github.com/miracsucu4417/image-processing-service/internal/media/svg"
	"github.com/miracsucu4417/image-processing-service/internal/metrics"
	"github.com/miracsucu4417/image-processing-service/internal/models"
	"github.com/miracsucu4417/image-processing-service/internal/quota"
	"github.com/miracsucu4417/image-processing-service/internal/repository"
	"github.com/miracsucu4417/image-processing-service/internal/storage"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

type ImageStore interface {
	Create(ctx context.Context, image models.Image) (models.Image, error)
	GetByID(ctx context.Context, id string) (models.Image, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Image, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

type QuotaGate interface {
	Today() time.Time
	TryConsume(ctx context.Context, userID string, today time.Time) (quota.Decision, error)
}

type EventPublisher interface {
	PublishImageCreated(ctx context.Context, e events.ImageCreated) error
}

type Transformer interface {
	Apply(src []byte, spec transform.Spec) (transform.Result, error)
}

type ImageServiceConfig struct {
	PresignTTL    time.Duration
	MaxUploadSize int64
	MaxConcurrent int
}

// ImageService owns the lifecycle of stored images: upload, listing,
// URL issuing and quota-gated transformation into new artifacts.
type ImageService struct {
	images    ImageStore
	store     storage.ObjectStore
	gate      QuotaGate
	pipeline  Transformer
	publisher EventPublisher
	metrics   *metrics.Metrics
	cfg       ImageServiceConfig
	slots     chan struct{}
	log       zerolog.Logger
}

func NewImageService(
	images ImageStore,
	store storage.ObjectStore,
	gate QuotaGate,
	pipeline Transformer,
	publisher EventPublisher,
	m *metrics.Metrics,
	cfg ImageServiceConfig,
	log zerolog.Logger,
) *ImageService {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 5 * time.Minute
	}
	return &ImageService{
		images:    images,
		store:     store,
		gate:      gate,
		pipeline:  pipeline,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		slots:     make(chan struct{}, cfg.MaxConcurrent),
		log:       log,
	}
}

// ObjectPrefix is where every artifact of userID is stored.
func ObjectPrefix(userID string) string {
	return "images/" + userID
}

type UploadInput struct {
	UserID       string
	DeclaredType string
	Data         []byte
}

// Upload stores a new original image. The declared type must be image/*
// and the content must sniff as a known image format; the sniffed type
// is what gets recorded.
func (s *ImageService) Upload(ctx context.Context, in UploadInput) (models.Image, error) {
	if s.cfg.MaxUploadSize > 0 && int64(len(in.Data)) > s.cfg.MaxUploadSize {
		return models.Image{}, ErrFileTooLarge
	}
	if len(in.Data) == 0 {
		return models.Image{}, invalid("image", "file is empty")
	}
	if in.DeclaredType != "" && !sniffer.IsImageType(in.DeclaredType) {
		return models.Image{}, invalid("image", "only image files are allowed")
	}

	detected, err := sniffer.DetectHead(in.Data)
	if err != nil {
		return models.Image{}, invalid("image", "only image files are allowed")
	}

	data := in.Data
	if detected.Kind == sniffer.KindSVG {
		data, err = svg.Sanitize(data)
		if err != nil {
			return models.Image{}, invalid("image", "malformed svg document")
		}
	}

	image, err := s.persist(ctx, in.UserID, data, detected.MIME, nil, nil)
	if err != nil {
		return models.Image{}, err
	}

	s.metrics.Upload(image.MimeType)
	s.publish(ctx, image, events.OriginUpload)
	return image, nil
}

type ListResult struct {
	Page   int
	Limit  int
	Total  int
	Images []models.Image
}

// List returns one page of userID's images, newest first. Out of range
// page and limit values fall back to the defaults; limit is capped.
func (s *ImageService) List(ctx context.Context, userID string, page, limit int) (ListResult, error) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	images, err := s.images.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return ListResult{}, upstream("list images", err)
	}
	total, err := s.images.CountByUser(ctx, userID)
	if err != nil {
		return ListResult{}, upstream("count images", err)
	}

	return ListResult{Page: page, Limit: limit, Total: total, Images: images}, nil
}

type ImageURL struct {
	URL       string
	ExpiresAt time.Time
	Image     models.Image
}

// GetURL issues a fresh presigned URL for an image the caller owns.
func (s *ImageService) GetURL(ctx context.Context, userID, imageID string) (ImageURL, error) {
	image, err := s.authorize(ctx, userID, imageID)
	if err != nil {
		return ImageURL{}, err
	}
	return s.presign(ctx, image)
}

type TransformInput struct {
	UserID          string
	ImageID         string
	Transformations map[string]any
}

type TransformResult struct {
	ImageURL
	Quota quota.Decision
}

// Transform derives a new artifact from one of the caller's images. The
// quota slot is spent before the request body is validated and is not
// given back if any later step fails.
func (s *ImageService) Transform(ctx context.Context, in TransformInput) (TransformResult, error) {
	source, err := s.authorize(ctx, in.UserID, in.ImageID)
	if err != nil {
		s.metrics.Transform(metrics.OutcomeForbidden)
		return TransformResult{}, err
	}

	decision, err := s.gate.TryConsume(ctx, in.UserID, s.gate.Today())
	if err != nil {
		s.metrics.Transform(metrics.OutcomeFailed)
		return TransformResult{}, upstream("consume quota", err)
	}
	if !decision.Allowed {
		s.metrics.Transform(metrics.OutcomeQuotaExceeded)
		return TransformResult{}, &QuotaExceededError{Decision: decision}
	}

	spec, err := transform.Validate(in.Transformations)
	if err != nil {
		s.metrics.Transform(metrics.OutcomeInvalid)
		var verrs transform.ValidationErrors
		if errors.As(err, &verrs) {
			return TransformResult{}, &ValidationError{Fields: verrs}
		}
		return TransformResult{}, err
	}

	result, err := s.transform(ctx, source, spec)
	if err != nil {
		s.metrics.Transform(metrics.OutcomeFailed)
		return TransformResult{}, err
	}

	image, err := s.persist(ctx, in.UserID, result.Data, result.MimeType, &result.Width, &result.Height)
	if err != nil {
		s.metrics.Transform(metrics.OutcomeFailed)
		return TransformResult{}, err
	}
	s.publish(ctx, image, events.OriginTransform)

	url, err := s.presign(ctx, image)
	if err != nil {
		s.metrics.Transform(metrics.OutcomeFailed)
		return TransformResult{}, err
	}

	s.metrics.Transform(metrics.OutcomeSuccess)
	return TransformResult{ImageURL: url, Quota: decision}, nil
}

func (s *ImageService) transform(ctx context.Context, source models.Image, spec transform.Spec) (transform.Result, error) {
	src, err := s.store.Get(ctx, source.ObjectKey)
	if err != nil {
		return transform.Result{}, upstream("fetch source", err)
	}

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return transform.Result{}, errors.Join(ErrSlotCancelled, ctx.Err())
	}
	defer func() { <-s.slots }()

	start := time.Now()
	result, err := s.pipeline.Apply(src, spec)
	s.metrics.ObservePipeline(time.Since(start))
	if err != nil {
		return transform.Result{}, &ProcessingError{ImageID: source.ID, Err: err}
	}
	return result, nil
}

// authorize loads imageID only if userID owns it.
func (s *ImageService) authorize(ctx context.Context, userID, imageID string) (models.Image, error) {
	if !ids.Valid(imageID) {
		return models.Image{}, ErrForbidden
	}
	image, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			return models.Image{}, ErrForbidden
		}
		return models.Image{}, upstream("load image", err)
	}
	if image.UserID != userID {
		return models.Image{}, ErrForbidden
	}
	return image, nil
}

// persist stores data and records its metadata. If the record cannot be
// written the stored object is removed again.
func (s *ImageService) persist(ctx context.Context, userID string, data []byte, mimeType string, width, height *int) (models.Image, error) {
	key, err := s.store.Put(ctx, ObjectPrefix(userID), data, mimeType)
	if err != nil {
		return models.Image{}, upstream("store object", err)
	}

	image, err := s.images.Create(ctx, models.Image{
		ID:        ids.New(),
		UserID:    userID,
		ObjectKey: key,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Width:     width,
		Height:    height,
	})
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.log.Warn().Err(delErr).Str("object_key", key).Msg("remove orphaned object failed")
		}
		return models.Image{}, upstream("record image", err)
	}
	return image, nil
}

func (s *ImageService) presign(ctx context.Context, image models.Image) (ImageURL, error) {
	url, err := s.store.Presign(ctx, image.ObjectKey, s.cfg.PresignTTL)
	if err != nil {
		return ImageURL{}, upstream("presign url", err)
	}
	return ImageURL{URL: url, ExpiresAt: time.Now().Add(s.cfg.PresignTTL), Image: image}, nil
}

func (s *ImageService) publish(ctx context.Context, image models.Image, origin string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishImageCreated(ctx, events.ImageCreated{
		ImageID:   image.ID,
		UserID:    image.UserID,
		ObjectKey: image.ObjectKey,
		MimeType:  image.MimeType,
		Origin:    origin,
		CreatedAt: image.CreatedAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("image_id", image.ID).Msg("publish image event failed")
	}
}
