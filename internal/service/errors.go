package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miracsucu4417/image-processing-service/internal/quota"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	// ErrForbidden is returned for any image the caller does not own,
	// including ids that do not exist.
	ErrForbidden     = errors.New("not authorized to access this image")
	ErrFileTooLarge  = errors.New("file exceeds the upload size limit")
	ErrSlotCancelled = errors.New("cancelled while waiting for a transform slot")
)

// ValidationError carries one entry per rejected input field.
type ValidationError struct {
	Fields []transform.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []transform.FieldError{{Field: field, Message: message}}}
}

type QuotaExceededError struct {
	Decision quota.Decision
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily transform limit of %d reached", e.Decision.Limit)
}

// ProcessingError wraps a pipeline failure on an image the caller owns.
type ProcessingError struct {
	ImageID string
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process image %s: %v", e.ImageID, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// UpstreamError wraps a failure of the database, object store or any
// other collaborator.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}
