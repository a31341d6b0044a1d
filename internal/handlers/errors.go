package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/miracsucu4417/image-processing-service/internal/middleware"
	"github.com/miracsucu4417/image-processing-service/internal/quota"
	"github.com/miracsucu4417/image-processing-service/internal/service"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
)

func setRateLimitHeaders(c *gin.Context, d quota.Decision) {
	c.Header(headerRateLimit, strconv.Itoa(d.Limit))
	c.Header(headerRateRemaining, strconv.Itoa(d.Remaining))
}

func badRequest(c *gin.Context, fields ...transform.FieldError) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"message": "request validation failed",
		"details": fields,
	})
}

// respondError maps service errors onto HTTP responses. Anything it does
// not recognise is logged and answered with a generic 500.
func (h HandlerSet) respondError(c *gin.Context, err error) {
	var (
		verr  *service.ValidationError
		qerr  *service.QuotaExceededError
		perr  *service.ProcessingError
		upErr *service.UpstreamError
	)

	switch {
	case errors.As(err, &verr):
		badRequest(c, verr.Fields...)
	case errors.As(err, &qerr):
		setRateLimitHeaders(c, qerr.Decision)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "rate_limit_exceeded",
			"message":    "daily transformation limit reached",
			"dailyLimit": qerr.Decision.Limit,
			"resetsAt":   "00:00",
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": err.Error()})
	case errors.Is(err, service.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username_taken", "message": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, service.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large", "message": err.Error()})
	case errors.As(err, &perr):
		h.logFailure(c, err, perr.ImageID).Msg("image processing failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "image_processing_failed",
			"message": "the image could not be processed",
		})
	case errors.Is(err, service.ErrSlotCancelled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service_unavailable", "message": "request cancelled"})
	default:
		event := h.logFailure(c, err, c.Param("id"))
		if errors.As(err, &upErr) {
			event = event.Str("op", upErr.Op)
		}
		event.Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "internal server error",
		})
	}
}

func (h HandlerSet) logFailure(c *gin.Context, err error, imageID string) *zerolog.Event {
	event := h.log.Error().Err(err).Str("request_id", middleware.RequestIDFrom(c))
	if claims, ok := middleware.CurrentUser(c); ok {
		event = event.Str("user_id", claims.UserID)
	}
	if imageID != "" {
		event = event.Str("image_id", imageID)
	}
	return event
}
