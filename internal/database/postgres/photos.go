package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/racepix/racepix/internal/database"
)

// PhotoRepository is the PostgreSQL implementation of
// database.PhotoRepository.
type PhotoRepository struct {
	pool *Pool
}

func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

const photoColumns = `id, event_id, photographer_id, batch_id, storage_key,
	thumbnail_key, watermark_key, width, height, status, processing_error,
	taken_at, created_at`

func (r *PhotoRepository) Create(ctx context.Context, photo *database.Photo) error {
	if photo.ID == "" {
		photo.ID = uuid.New().String()
	}
	if photo.Status == "" {
		photo.Status = database.PhotoPending
	}
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO photos (id, event_id, photographer_id, batch_id, storage_key,
			thumbnail_key, watermark_key, width, height, status, taken_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		photo.ID, photo.EventID, photo.PhotographerID, photo.BatchID, photo.StorageKey,
		photo.ThumbnailKey, photo.WatermarkKey, photo.Width, photo.Height,
		photo.Status, photo.TakenAt, photo.CreatedAt)
	if err != nil {
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

func (r *PhotoRepository) Get(ctx context.Context, id string) (*database.Photo, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id)
	photo, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return photo, nil
}

func (r *PhotoRepository) SetDerivatives(ctx context.Context, id, thumbnailKey, watermarkKey string, width, height int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE photos SET thumbnail_key = $2, watermark_key = $3, width = $4, height = $5
		WHERE id = $1`,
		id, thumbnailKey, watermarkKey, width, height)
	if err != nil {
		return fmt.Errorf("set photo derivatives: %w", err)
	}
	return nil
}

func (r *PhotoRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE photos SET status = $2, processing_error = NULL WHERE id = $1`,
		id, database.PhotoProcessed)
	if err != nil {
		return fmt.Errorf("mark photo processed: %w", err)
	}
	return nil
}

func (r *PhotoRepository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE photos SET status = $2, processing_error = $3 WHERE id = $1`,
		id, database.PhotoFailed, reason)
	if err != nil {
		return fmt.Errorf("mark photo failed: %w", err)
	}
	return nil
}

func (r *PhotoRepository) MarkPending(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE photos SET status = $2, processing_error = NULL WHERE id = $1`,
		id, database.PhotoPending)
	if err != nil {
		return fmt.Errorf("mark photo pending: %w", err)
	}
	return nil
}

func (r *PhotoRepository) ListStuckPending(ctx context.Context, staleBefore time.Time, limit int) ([]database.Photo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+photoColumns+` FROM photos
		WHERE status = $1 AND created_at < $2
		  AND storage_key != '' AND storage_key NOT LIKE 'placeholder/%'
		ORDER BY created_at ASC
		LIMIT $3`,
		database.PhotoPending, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck photos: %w", err)
	}
	defer rows.Close()
	return scanPhotos(rows)
}

func (r *PhotoRepository) ListPendingByBatch(ctx context.Context, batchID string, limit int) ([]database.Photo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+photoColumns+` FROM photos
		WHERE batch_id = $1 AND status = $2
		  AND storage_key != '' AND storage_key NOT LIKE 'placeholder/%'
		ORDER BY created_at ASC
		LIMIT $3`,
		batchID, database.PhotoPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending batch photos: %w", err)
	}
	defer rows.Close()
	return scanPhotos(rows)
}

func (r *PhotoRepository) ListByEvent(ctx context.Context, eventID string, limit int) ([]database.Photo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+photoColumns+` FROM photos
		WHERE event_id = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("query event photos: %w", err)
	}
	defer rows.Close()
	return scanPhotos(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*database.Photo, error) {
	var p database.Photo
	err := row.Scan(&p.ID, &p.EventID, &p.PhotographerID, &p.BatchID, &p.StorageKey,
		&p.ThumbnailKey, &p.WatermarkKey, &p.Width, &p.Height, &p.Status,
		&p.ProcessingError, &p.TakenAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPhotos(rows *sql.Rows) ([]database.Photo, error) {
	var photos []database.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}
