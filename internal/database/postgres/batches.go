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

// BatchRepository is the PostgreSQL implementation of
// database.BatchRepository.
type BatchRepository struct {
	pool *Pool
}

func NewBatchRepository(pool *Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

const batchColumns = `id, event_id, total_files, uploaded_ok, uploaded_failed,
	derivative_ok, derivative_failed, ocr_ok, ocr_failed, face_ok, face_failed,
	status, updated_at, created_at`

func (r *BatchRepository) Create(ctx context.Context, batch *database.BatchUploadJob) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = database.BatchProcessing
	}
	now := time.Now()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_upload_jobs (id, event_id, total_files, status, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		batch.ID, batch.EventID, batch.TotalFiles, batch.Status, batch.UpdatedAt, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) Get(ctx context.Context, id string) (*database.BatchUploadJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_upload_jobs WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// stageColumn maps a stage outcome to its counter column. Column names are
// fixed here, never caller input.
func stageColumn(stage database.Stage, ok bool) (string, error) {
	columns := map[database.Stage][2]string{
		database.StageUpload:     {"uploaded_ok", "uploaded_failed"},
		database.StageDerivative: {"derivative_ok", "derivative_failed"},
		database.StageOCR:        {"ocr_ok", "ocr_failed"},
		database.StageFace:       {"face_ok", "face_failed"},
	}
	pair, found := columns[stage]
	if !found {
		return "", fmt.Errorf("unknown batch stage: %q", stage)
	}
	if ok {
		return pair[0], nil
	}
	return pair[1], nil
}

func (r *BatchRepository) AddOutcome(ctx context.Context, id string, stage database.Stage, ok bool) error {
	column, err := stageColumn(stage, ok)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE batch_upload_jobs SET %s = %s + 1, updated_at = NOW() WHERE id = $1`,
		column, column)
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("add batch outcome: %w", err)
	}
	return nil
}

func (r *BatchRepository) Complete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batch_upload_jobs SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, database.BatchCompleted)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) CountPendingPhotos(ctx context.Context, id string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM photos WHERE batch_id = $1 AND status = $2`,
		id, database.PhotoPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending batch photos: %w", err)
	}
	return count, nil
}

func (r *BatchRepository) ListStuck(ctx context.Context, staleBefore time.Time, limit int) ([]database.BatchUploadJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+batchColumns+` FROM batch_upload_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		database.BatchProcessing, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck batches: %w", err)
	}
	defer rows.Close()

	var batches []database.BatchUploadJob
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

func scanBatch(row rowScanner) (*database.BatchUploadJob, error) {
	var b database.BatchUploadJob
	err := row.Scan(&b.ID, &b.EventID, &b.TotalFiles, &b.UploadedOK, &b.UploadedFailed,
		&b.DerivativeOK, &b.DerivativeFailed, &b.OCROK, &b.OCRFailed,
		&b.FaceOK, &b.FaceFailed, &b.Status, &b.UpdatedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
