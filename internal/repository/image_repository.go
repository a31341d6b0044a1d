package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miracsucu4417/image-processing-service/internal/models"
)

var ErrImageNotFound = errors.New("image not found")

const imageColumns = `id, user_id, object_key, mime_type, size_bytes, width, height, created_at, updated_at`

type ImageRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewImageRepository(pool *pgxpool.Pool, timeout time.Duration) *ImageRepository {
	return &ImageRepository{pool: pool, timeout: timeout}
}

func (r *ImageRepository) Create(ctx context.Context, image models.Image) (models.Image, error) {
	const query = `
		INSERT INTO images (
			id, user_id, object_key, mime_type, size_bytes, width, height, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW(), NOW()
		)
		RETURNING created_at, updated_at
	`

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, query,
		image.ID,
		image.UserID,
		image.ObjectKey,
		image.MimeType,
		image.SizeBytes,
		image.Width,
		image.Height,
	).Scan(&image.CreatedAt, &image.UpdatedAt)
	if err != nil {
		return models.Image{}, err
	}
	return image, nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (models.Image, error) {
	const query = `SELECT ` + imageColumns + ` FROM images WHERE id = $1`

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	image, err := scanImage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, err
	}
	return image, nil
}

func (r *ImageRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Image, error) {
	const query = `
		SELECT ` + imageColumns + `
		FROM images
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := make([]models.Image, 0, limit)
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

func (r *ImageRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM images WHERE user_id = $1`

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateDimensions records pixel dimensions discovered after the image
// was stored.
func (r *ImageRepository) UpdateDimensions(ctx context.Context, id string, width, height int) error {
	const query = `
		UPDATE images
		SET width = $2, height = $3, updated_at = NOW()
		WHERE id = $1
	`

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	cmd, err := r.pool.Exec(ctx, query, id, width, height)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

func scanImage(row pgx.Row) (models.Image, error) {
	var image models.Image
	err := row.Scan(
		&image.ID,
		&image.UserID,
		&image.ObjectKey,
		&image.MimeType,
		&image.SizeBytes,
		&image.Width,
		&image.Height,
		&image.CreatedAt,
		&image.UpdatedAt,
	)
	return image, err
}
