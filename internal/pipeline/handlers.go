package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/observability"
	"github.com/racepix/racepix/internal/ocr"
	"github.com/racepix/racepix/internal/queue"
)

// stageError tags a pipeline error with the batch stage it came from so
// the exhaustion path can attribute the failure.
type stageError struct {
	stage database.Stage
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

// HandleProcessPhoto is the queue.Handler for the process-photo queue.
func (p *Processor) HandleProcessPhoto(ctx context.Context, payload []byte) error {
	var job queue.ProcessPhotoJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode process-photo job: %w", err)
	}
	return p.ProcessPhoto(ctx, job)
}

// HandleProcessPhotoExhausted runs after the last failed delivery: the
// photo goes FAILED with the error retained, and the batch learns about
// the terminal outcome.
func (p *Processor) HandleProcessPhotoExhausted(ctx context.Context, payload []byte, lastErr error) {
	var job queue.ProcessPhotoJob
	if err := json.Unmarshal(payload, &job); err != nil {
		slog.Error("decode exhausted process-photo job", "error", err)
		return
	}

	if err := p.photos.MarkFailed(ctx, job.PhotoID, lastErr.Error()); err != nil {
		slog.Error("mark photo failed", "photo", job.PhotoID, "error", err)
		return
	}
	observability.PhotosProcessed.WithLabelValues("failed").Inc()

	photo, err := p.photos.Get(ctx, job.PhotoID)
	if err != nil || photo == nil {
		return
	}

	var serr *stageError
	if errors.As(lastErr, &serr) {
		p.countBatchOutcome(ctx, photo, serr.stage, false)
	}
	p.maybeCompleteBatch(ctx, photo)
}

// HandleProcessFace is the queue.Handler for the process-face queue,
// which re-runs only the face stage.
func (p *Processor) HandleProcessFace(ctx context.Context, payload []byte) error {
	var job queue.ProcessFaceJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode process-face job: %w", err)
	}

	photo, err := p.photos.Get(ctx, job.PhotoID)
	if err != nil {
		return fmt.Errorf("load photo %s: %w", job.PhotoID, err)
	}
	if photo == nil {
		return fmt.Errorf("photo %s not found", job.PhotoID)
	}

	data, err := p.downloadStage(ctx, photo.StorageKey)
	if err != nil {
		return err
	}
	if err := p.faceStage(ctx, photo, data); err != nil {
		return err
	}
	return nil
}

// HandleReprocessPhoto re-runs OCR for a photo, usually with the pro
// strategy after a bad first pass.
func (p *Processor) HandleReprocessPhoto(ctx context.Context, payload []byte) error {
	var job queue.ReprocessPhotoJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode reprocess-photo job: %w", err)
	}

	strategy, err := ocr.ParseStrategy(job.Strategy)
	if err != nil {
		return err
	}

	photo, err := p.photos.Get(ctx, job.PhotoID)
	if err != nil {
		return fmt.Errorf("load photo %s: %w", job.PhotoID, err)
	}
	if photo == nil {
		return fmt.Errorf("photo %s not found", job.PhotoID)
	}

	data, err := p.downloadStage(ctx, photo.StorageKey)
	if err != nil {
		return err
	}

	if err := p.ocrStage(ctx, photo, data, strategy); err != nil {
		return err
	}
	if err := p.photos.MarkProcessed(ctx, photo.ID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// HandleReprocessExhausted marks the photo FAILED when reprocessing runs
// out of attempts.
func (p *Processor) HandleReprocessExhausted(ctx context.Context, payload []byte, lastErr error) {
	var job queue.ReprocessPhotoJob
	if err := json.Unmarshal(payload, &job); err != nil {
		slog.Error("decode exhausted reprocess-photo job", "error", err)
		return
	}
	if err := p.photos.MarkFailed(ctx, job.PhotoID, lastErr.Error()); err != nil {
		slog.Error("mark photo failed", "photo", job.PhotoID, "error", err)
	}
	observability.PhotosProcessed.WithLabelValues("failed").Inc()
}

// HandleSendEmail resolves the recipient's photos, signs their URLs and
// hands the mailing to the Mailer.
func (p *Processor) HandleSendEmail(ctx context.Context, payload []byte) error {
	var job queue.SendBibEmailJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode send-email job: %w", err)
	}

	keys := make([]string, 0, len(job.PhotoIDs))
	if len(job.PhotoIDs) > 0 {
		for _, id := range job.PhotoIDs {
			photo, err := p.photos.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("load photo %s: %w", id, err)
			}
			if photo == nil || photo.Status != database.PhotoProcessed || photo.WatermarkKey == "" {
				continue
			}
			keys = append(keys, photo.WatermarkKey)
		}
	} else {
		rows, err := p.bibs.SearchByBib(ctx, job.EventID, job.Bib, nil, 100)
		if err != nil {
			return fmt.Errorf("resolve photos for bib %s: %w", job.Bib, err)
		}
		for _, row := range rows {
			if row.WatermarkKey == "" {
				continue
			}
			keys = append(keys, row.WatermarkKey)
		}
	}

	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		url, err := p.store.SignedURL(ctx, key, p.signedURLTTL)
		if err != nil {
			return fmt.Errorf("sign url for %s: %w", key, err)
		}
		urls = append(urls, url)
	}

	return p.mailer.SendBibPhotos(ctx, BibMailing{
		Email:     job.Email,
		EventID:   job.EventID,
		Bib:       job.Bib,
		PhotoURLs: urls,
	})
}
