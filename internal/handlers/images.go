package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miracsucu4417/image-processing-service/internal/media/sniffer"
	"github.com/miracsucu4417/image-processing-service/internal/middleware"
	"github.com/miracsucu4417/image-processing-service/internal/models"
	"github.com/miracsucu4417/image-processing-service/internal/service"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

type imageResponse struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mimeType"`
	SizeBytes int64     `json:"sizeBytes"`
	Width     *int      `json:"width,omitempty"`
	Height    *int      `json:"height,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toImageResponse(img models.Image) imageResponse {
	return imageResponse{
		ID:        img.ID,
		MimeType:  img.MimeType,
		SizeBytes: img.SizeBytes,
		Width:     img.Width,
		Height:    img.Height,
		CreatedAt: img.CreatedAt,
		UpdatedAt: img.UpdatedAt,
	}
}

func currentUserID(c *gin.Context) (string, bool) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "authentication required"})
		return "", false
	}
	return claims.UserID, true
}

func (h HandlerSet) UploadImage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	maxBytes := h.opts.MaxUploadBytes
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.respondError(c, service.ErrFileTooLarge)
		case errors.Is(err, http.ErrMissingFile):
			badRequest(c, transform.FieldError{Field: "image", Message: "image file is required"})
		default:
			badRequest(c, transform.FieldError{Field: "body", Message: "must be multipart/form-data"})
		}
		return
	}
	defer file.Close()

	if maxBytes > 0 && header.Size > maxBytes {
		h.respondError(c, service.ErrFileTooLarge)
		return
	}

	declared := sniffer.DeclaredType(http.Header(header.Header))
	if !sniffer.IsImageType(declared) {
		badRequest(c, transform.FieldError{Field: "image", Message: "only image files are allowed"})
		return
	}

	var reader io.Reader = file
	if maxBytes > 0 {
		reader = io.LimitReader(file, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		h.respondError(c, err)
		return
	}

	image, err := h.images.Upload(c.Request.Context(), service.UploadInput{
		UserID:       userID,
		DeclaredType: declared,
		Data:         data,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "image uploaded successfully",
		"image":   toImageResponse(image),
	})
}

func (h HandlerSet) ListImages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.images.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	images := make([]imageResponse, 0, len(result.Images))
	for _, img := range result.Images {
		images = append(images, toImageResponse(img))
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "images retrieved successfully",
		"page":    result.Page,
		"limit":   result.Limit,
		"total":   result.Total,
		"images":  images,
	})
}

func (h HandlerSet) GetImage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	url, err := h.images.GetURL(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "image url retrieved successfully",
		"url":       url.URL,
		"expiresAt": url.ExpiresAt,
		"image":     toImageResponse(url.Image),
	})
}

type transformRequest struct {
	Transformations json.RawMessage `json:"transformations"`
}

func (h HandlerSet) TransformImage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req transformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, transform.FieldError{Field: "body", Message: "must be a JSON object"})
		return
	}

	raw, err := decodeTransformations(req.Transformations)
	if err != nil {
		badRequest(c, transform.FieldError{Field: "transformations", Message: "must be an object"})
		return
	}

	result, err := h.images.Transform(c.Request.Context(), service.TransformInput{
		UserID:          userID,
		ImageID:         c.Param("id"),
		Transformations: raw,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	setRateLimitHeaders(c, result.Quota)
	c.JSON(http.StatusCreated, gin.H{
		"message":   "image transformed successfully",
		"url":       result.URL,
		"expiresAt": result.ExpiresAt,
		"image":     toImageResponse(result.Image),
	})
}

// decodeTransformations keeps numbers as json.Number so integer checks
// see the literal the client sent. Absent or null yields a nil map.
func decodeTransformations(msg json.RawMessage) (map[string]any, error) {
	if len(msg) == 0 || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
