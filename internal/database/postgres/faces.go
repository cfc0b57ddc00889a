package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/racepix/racepix/internal/database"
)

// FaceRepository is the PostgreSQL implementation of
// database.FaceRepository, backed by a pgvector column.
type FaceRepository struct {
	pool *Pool
}

func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

func (r *FaceRepository) ReplaceForPhoto(ctx context.Context, photoID, eventID string, faces []database.FaceEmbedding) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM face_embeddings WHERE photo_id = $1`, photoID); err != nil {
		return fmt.Errorf("delete face embeddings: %w", err)
	}

	for i := range faces {
		face := &faces[i]
		if face.ID == "" {
			face.ID = uuid.New().String()
		}
		face.PhotoID = photoID
		face.EventID = eventID
		if face.CreatedAt.IsZero() {
			face.CreatedAt = time.Now()
		}

		vec := pgvector.NewVector(face.Embedding)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO face_embeddings (id, photo_id, event_id, embedding, confidence,
				bbox_x, bbox_y, bbox_w, bbox_h, age, gender, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			face.ID, face.PhotoID, face.EventID, vec, face.Confidence,
			face.BBox.X, face.BBox.Y, face.BBox.W, face.BBox.H,
			face.Age, face.Gender, face.CreatedAt); err != nil {
			return fmt.Errorf("insert face embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit face replacement: %w", err)
	}
	return nil
}

func (r *FaceRepository) ListByPhoto(ctx context.Context, photoID string) ([]database.FaceEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photo_id, event_id, embedding, confidence,
		       bbox_x, bbox_y, bbox_w, bbox_h, age, gender, created_at
		FROM face_embeddings WHERE photo_id = $1
		ORDER BY confidence DESC`, photoID)
	if err != nil {
		return nil, fmt.Errorf("query photo faces: %w", err)
	}
	defer rows.Close()

	var faces []database.FaceEmbedding
	for rows.Next() {
		var f database.FaceEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.PhotoID, &f.EventID, &vec, &f.Confidence,
			&f.BBox.X, &f.BBox.Y, &f.BBox.W, &f.BBox.H, &f.Age, &f.Gender, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

func (r *FaceRepository) ListByEvent(ctx context.Context, eventID string) ([]database.EventFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fe.id, p.id, p.storage_key, p.thumbnail_key, p.watermark_key,
		       fe.embedding, fe.confidence,
		       fe.bbox_x, fe.bbox_y, fe.bbox_w, fe.bbox_h, p.taken_at
		FROM face_embeddings fe
		JOIN photos p ON p.id = fe.photo_id
		WHERE fe.event_id = $1
		  AND p.status = 'PROCESSED' AND p.thumbnail_key != ''
		ORDER BY p.id, fe.confidence DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query event faces: %w", err)
	}
	defer rows.Close()

	var faces []database.EventFace
	for rows.Next() {
		var f database.EventFace
		var vec pgvector.Vector
		if err := rows.Scan(&f.FaceID, &f.PhotoID, &f.StorageKey, &f.ThumbnailKey,
			&f.WatermarkKey, &vec, &f.Confidence,
			&f.BBox.X, &f.BBox.Y, &f.BBox.W, &f.BBox.H, &f.TakenAt); err != nil {
			return nil, fmt.Errorf("scan event face: %w", err)
		}
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event faces: %w", err)
	}
	return faces, nil
}
