package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/miracsucu4417/image-processing-service/internal/metrics"
	"github.com/miracsucu4417/image-processing-service/internal/middleware"
	"github.com/miracsucu4417/image-processing-service/internal/security"
	"github.com/miracsucu4417/image-processing-service/internal/service"
)

// multipartOverhead is the slack allowed on top of the file size for
// multipart boundaries and headers.
const multipartOverhead = 1 << 20

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Environment    string
	MaxUploadBytes int64
}

type HandlerSet struct {
	log     zerolog.Logger
	opts    Options
	auth    *service.AuthService
	images  *service.ImageService
	tokens  *security.TokenIssuer
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
}

func NewHandlerSet(
	log zerolog.Logger,
	opts Options,
	auth *service.AuthService,
	images *service.ImageService,
	tokens *security.TokenIssuer,
	m *metrics.Metrics,
	checks map[string]HealthCheck,
) HandlerSet {
	return HandlerSet{
		log:     log,
		opts:    opts,
		auth:    auth,
		images:  images,
		tokens:  tokens,
		metrics: m,
		checks:  checks,
	}
}

func (h HandlerSet) Routes(router gin.IRouter) {
	router.GET("/healthz", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	auth := router.Group("/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)

	images := router.Group("/images")
	images.Use(middleware.Auth(h.tokens))
	images.POST("", h.UploadImage)
	images.GET("", h.ListImages)
	images.GET("/:id", h.GetImage)
	images.POST("/:id/transform", h.TransformImage)
}
