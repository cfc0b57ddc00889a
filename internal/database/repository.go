package database

import (
	"context"
	"time"

	"github.com/racepix/racepix/internal/ocr"
)

// PhotoRepository stores photos and drives their status transitions.
// Terminal status writes are idempotent so concurrent sweeps and workers
// can race safely.
type PhotoRepository interface {
	Create(ctx context.Context, photo *Photo) error
	Get(ctx context.Context, id string) (*Photo, error)

	// SetDerivatives persists derivative keys and pixel dimensions after
	// the derivative stage.
	SetDerivatives(ctx context.Context, id, thumbnailKey, watermarkKey string, width, height int) error

	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// MarkPending resets a photo for reprocessing and clears the retained
	// error.
	MarkPending(ctx context.Context, id string) error

	// ListStuckPending returns PENDING photos created before staleBefore
	// that carry a real storage key, oldest first, capped at limit.
	ListStuckPending(ctx context.Context, staleBefore time.Time, limit int) ([]Photo, error)
	// ListPendingByBatch returns the batch members still worth
	// re-enqueueing.
	ListPendingByBatch(ctx context.Context, batchID string, limit int) ([]Photo, error)
	ListByEvent(ctx context.Context, eventID string, limit int) ([]Photo, error)
}

// BibRepository stores detected and manual bib rows.
type BibRepository interface {
	// ReplaceDetected transactionally deletes the photo's GEMINI-sourced
	// rows and inserts the new detections. MANUAL rows survive.
	ReplaceDetected(ctx context.Context, photoID, eventID string, bibs []PhotoBib) error
	InsertManual(ctx context.Context, bib *PhotoBib) error
	Delete(ctx context.Context, bibID string) error
	ListByPhoto(ctx context.Context, photoID string) ([]PhotoBib, error)

	// SearchByBib pages through PROCESSED, thumbnail-bearing photos for an
	// exact bib, ordered by (confidence, taken_at, photo_id) descending.
	// A nil after starts from the top.
	SearchByBib(ctx context.Context, eventID, bib string, after *BibCursorKey, limit int) ([]BibSearchRow, error)
	CountByBib(ctx context.Context, eventID, bib string) (int, error)
}

// FaceRepository stores face embeddings.
type FaceRepository interface {
	// ReplaceForPhoto transactionally replaces all embeddings of a photo.
	ReplaceForPhoto(ctx context.Context, photoID, eventID string, faces []FaceEmbedding) error
	ListByPhoto(ctx context.Context, photoID string) ([]FaceEmbedding, error)
	// ListByEvent returns the embeddings of PROCESSED thumbnail-bearing
	// photos for the linear face scan.
	ListByEvent(ctx context.Context, eventID string) ([]EventFace, error)
}

// BatchRepository tracks batch upload jobs.
type BatchRepository interface {
	Create(ctx context.Context, batch *BatchUploadJob) error
	Get(ctx context.Context, id string) (*BatchUploadJob, error)
	// AddOutcome bumps the ok or failed counter of one stage and touches
	// updated_at.
	AddOutcome(ctx context.Context, id string, stage Stage, ok bool) error
	Complete(ctx context.Context, id string) error
	// CountPendingPhotos reports batch members still PENDING.
	CountPendingPhotos(ctx context.Context, id string) (int, error)
	// ListStuck returns PROCESSING batches whose updated_at is before
	// staleBefore.
	ListStuck(ctx context.Context, staleBefore time.Time, limit int) ([]BatchUploadJob, error)
}

// AuditRepository is append-only.
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditLog) error
	ListByPhoto(ctx context.Context, photoID string) ([]AuditLog, error)
}

// RulesRepository stores per-event bib validation rule sets. Get returns
// nil when the event has no rules configured.
type RulesRepository interface {
	Get(ctx context.Context, eventID string) (*ocr.Rules, error)
	Upsert(ctx context.Context, eventID string, rules *ocr.Rules) error
}
