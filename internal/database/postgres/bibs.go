package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/racepix/racepix/internal/database"
)

// BibRepository is the PostgreSQL implementation of database.BibRepository.
type BibRepository struct {
	pool *Pool
}

func NewBibRepository(pool *Pool) *BibRepository {
	return &BibRepository{pool: pool}
}

func (r *BibRepository) ReplaceDetected(ctx context.Context, photoID, eventID string, bibs []database.PhotoBib) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Detected rows are replaced wholesale; manual corrections survive.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM photo_bibs WHERE photo_id = $1 AND source = $2`,
		photoID, database.BibSourceGemini); err != nil {
		return fmt.Errorf("delete detected bibs: %w", err)
	}

	for i := range bibs {
		bib := &bibs[i]
		if bib.ID == "" {
			bib.ID = uuid.New().String()
		}
		bib.PhotoID = photoID
		bib.EventID = eventID
		bib.Source = database.BibSourceGemini
		if bib.CreatedAt.IsZero() {
			bib.CreatedAt = time.Now()
		}

		var x, y, w, h *float64
		if bib.BBox != nil {
			x, y, w, h = &bib.BBox.X, &bib.BBox.Y, &bib.BBox.W, &bib.BBox.H
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO photo_bibs (id, photo_id, event_id, bib, confidence,
				bbox_x, bbox_y, bbox_w, bbox_h, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			bib.ID, bib.PhotoID, bib.EventID, bib.Bib, bib.Confidence,
			x, y, w, h, bib.Source, bib.CreatedAt); err != nil {
			return fmt.Errorf("insert detected bib: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bib replacement: %w", err)
	}
	return nil
}

func (r *BibRepository) InsertManual(ctx context.Context, bib *database.PhotoBib) error {
	if bib.ID == "" {
		bib.ID = uuid.New().String()
	}
	bib.Source = database.BibSourceManual
	if bib.CreatedAt.IsZero() {
		bib.CreatedAt = time.Now()
	}
	if bib.Confidence == 0 {
		bib.Confidence = 1.0
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO photo_bibs (id, photo_id, event_id, bib, confidence, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bib.ID, bib.PhotoID, bib.EventID, bib.Bib, bib.Confidence, bib.Source, bib.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert manual bib: %w", err)
	}
	return nil
}

func (r *BibRepository) Delete(ctx context.Context, bibID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM photo_bibs WHERE id = $1`, bibID)
	if err != nil {
		return fmt.Errorf("delete bib: %w", err)
	}
	return nil
}

func (r *BibRepository) ListByPhoto(ctx context.Context, photoID string) ([]database.PhotoBib, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photo_id, event_id, bib, confidence,
		       bbox_x, bbox_y, bbox_w, bbox_h, source, created_at
		FROM photo_bibs WHERE photo_id = $1
		ORDER BY confidence DESC, created_at ASC`, photoID)
	if err != nil {
		return nil, fmt.Errorf("query photo bibs: %w", err)
	}
	defer rows.Close()

	var bibs []database.PhotoBib
	for rows.Next() {
		var b database.PhotoBib
		var x, y, w, h sql.NullFloat64
		if err := rows.Scan(&b.ID, &b.PhotoID, &b.EventID, &b.Bib, &b.Confidence,
			&x, &y, &w, &h, &b.Source, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bib: %w", err)
		}
		if x.Valid {
			b.BBox = &database.BBox{X: x.Float64, Y: y.Float64, W: w.Float64, H: h.Float64}
		}
		bibs = append(bibs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bibs: %w", err)
	}
	return bibs, nil
}

// epoch stands in for NULL taken_at so the cursor tuple stays totally
// ordered.
const takenAtExpr = `COALESCE(p.taken_at, to_timestamp(0))`

func (r *BibRepository) SearchByBib(ctx context.Context, eventID, bib string, after *database.BibCursorKey, limit int) ([]database.BibSearchRow, error) {
	query := `
		SELECT p.id, p.storage_key, p.thumbnail_key, p.watermark_key,
		       pb.confidence, p.taken_at
		FROM photo_bibs pb
		JOIN photos p ON p.id = pb.photo_id
		WHERE pb.event_id = $1 AND pb.bib = $2
		  AND p.status = 'PROCESSED' AND p.thumbnail_key != ''`
	args := []any{eventID, bib}

	if after != nil {
		query += fmt.Sprintf(`
		  AND (pb.confidence, `+takenAtExpr+`, p.id) < ($%d, $%d, $%d)`,
			len(args)+1, len(args)+2, len(args)+3)
		args = append(args, after.Confidence, after.TakenAt, after.PhotoID)
	}

	query += fmt.Sprintf(`
		ORDER BY pb.confidence DESC, `+takenAtExpr+` DESC, p.id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search by bib: %w", err)
	}
	defer rows.Close()

	var results []database.BibSearchRow
	for rows.Next() {
		var row database.BibSearchRow
		if err := rows.Scan(&row.PhotoID, &row.StorageKey, &row.ThumbnailKey,
			&row.WatermarkKey, &row.Confidence, &row.TakenAt); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

func (r *BibRepository) CountByBib(ctx context.Context, eventID, bib string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM photo_bibs pb
		JOIN photos p ON p.id = pb.photo_id
		WHERE pb.event_id = $1 AND pb.bib = $2
		  AND p.status = 'PROCESSED' AND p.thumbnail_key != ''`,
		eventID, bib).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by bib: %w", err)
	}
	return count, nil
}
