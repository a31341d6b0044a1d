package models

import "time"

// Image is the metadata record of one stored artifact. Width and Height
// stay nil until they are known, either from the transform pipeline or
// from the enrichment worker.
type Image struct {
	ID        string
	UserID    string
	ObjectKey string
	MimeType  string
	SizeBytes int64
	Width     *int
	Height    *int
	CreatedAt time.Time
	UpdatedAt time.Time
}
