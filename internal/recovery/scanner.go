// Package recovery re-enqueues work that fell out of the queue: photos
// stuck PENDING past the staleness window and batches that stopped
// making progress.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/observability"
	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/storage"
)

// Re-enqueued jobs go into the high bucket so recovered photos do not
// queue behind a fresh bulk upload.
const reenqueuePriority = 5

// Enqueuer publishes jobs, normally the queue.Producer.
type Enqueuer interface {
	Enqueue(ctx context.Context, q queue.Queue, priority int, job any) error
}

// Scanner periodically sweeps for stuck photos and batches.
type Scanner struct {
	photos   database.PhotoRepository
	batches  database.BatchRepository
	producer Enqueuer
	cfg      config.RecoveryConfig

	now func() time.Time
}

func NewScanner(photos database.PhotoRepository, batches database.BatchRepository, producer Enqueuer, cfg config.RecoveryConfig) *Scanner {
	return &Scanner{
		photos:   photos,
		batches:  batches,
		producer: producer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run sweeps on the configured intervals until the context is done.
func (s *Scanner) Run(ctx context.Context) {
	photoTicker := time.NewTicker(s.cfg.PhotoSweepInterval)
	defer photoTicker.Stop()
	batchTicker := time.NewTicker(s.cfg.BatchSweepInterval)
	defer batchTicker.Stop()

	slog.Info("recovery scanner started",
		"photo_interval", s.cfg.PhotoSweepInterval,
		"batch_interval", s.cfg.BatchSweepInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("recovery scanner stopped")
			return
		case <-photoTicker.C:
			if n, err := s.StuckPhotoSweep(ctx); err != nil {
				slog.Error("photo sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("photo sweep re-enqueued", "count", n)
			}
		case <-batchTicker.C:
			if n, err := s.StuckBatchSweep(ctx); err != nil {
				slog.Error("batch sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("batch sweep re-enqueued", "count", n)
			}
		}
	}
}

// StuckPhotoSweep re-enqueues photos still PENDING past the staleness
// window. A publish failure for one photo never aborts the sweep; the
// photo stays PENDING and the next sweep retries it.
func (s *Scanner) StuckPhotoSweep(ctx context.Context) (int, error) {
	staleBefore := s.now().Add(-s.cfg.PhotoStaleAfter)
	photos, err := s.photos.ListStuckPending(ctx, staleBefore, s.cfg.PhotoSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list stuck photos: %w", err)
	}

	count := 0
	for _, photo := range photos {
		if err := s.enqueuePhoto(ctx, photo, reenqueuePriority); err != nil {
			slog.Error("re-enqueue stuck photo", "photo", photo.ID, "error", err)
			observability.RecoveryErrors.WithLabelValues("photo").Inc()
			continue
		}
		observability.RecoveryReenqueued.WithLabelValues("photo").Inc()
		count++
	}
	return count, nil
}

// StuckBatchSweep handles batches stuck PROCESSING: batches with no
// valid pending members are closed, the rest get their pending members
// re-enqueued.
func (s *Scanner) StuckBatchSweep(ctx context.Context) (int, error) {
	staleBefore := s.now().Add(-s.cfg.BatchStaleAfter)
	batches, err := s.batches.ListStuck(ctx, staleBefore, s.cfg.BatchSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list stuck batches: %w", err)
	}

	count := 0
	for _, batch := range batches {
		pending, err := s.photos.ListPendingByBatch(ctx, batch.ID, s.cfg.PhotoSweepLimit)
		if err != nil {
			slog.Error("list pending batch photos", "batch", batch.ID, "error", err)
			observability.RecoveryErrors.WithLabelValues("batch").Inc()
			continue
		}

		if len(pending) == 0 {
			// Every member resolved, only the status update was lost.
			if err := s.batches.Complete(ctx, batch.ID); err != nil {
				slog.Error("complete stuck batch", "batch", batch.ID, "error", err)
				observability.RecoveryErrors.WithLabelValues("batch").Inc()
			}
			continue
		}

		for _, photo := range pending {
			if err := s.enqueuePhoto(ctx, photo, reenqueuePriority); err != nil {
				slog.Error("re-enqueue batch photo", "batch", batch.ID, "photo", photo.ID, "error", err)
				observability.RecoveryErrors.WithLabelValues("batch").Inc()
				continue
			}
			observability.RecoveryReenqueued.WithLabelValues("batch").Inc()
			count++
		}
	}
	return count, nil
}

// ForceReprocess re-enqueues every pending photo of an event regardless
// of staleness, at maximum priority. Operator tool for "the pipeline was
// down, push everything through now".
func (s *Scanner) ForceReprocess(ctx context.Context, eventID string) (int, error) {
	photos, err := s.photos.ListByEvent(ctx, eventID, s.cfg.PhotoSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list event photos: %w", err)
	}

	count := 0
	for _, photo := range photos {
		if photo.Status != database.PhotoPending {
			continue
		}
		if storage.IsPlaceholderKey(photo.StorageKey) {
			continue
		}
		if err := s.enqueuePhoto(ctx, photo, queue.MaxPriority); err != nil {
			slog.Error("force re-enqueue photo", "photo", photo.ID, "error", err)
			observability.RecoveryErrors.WithLabelValues("force").Inc()
			continue
		}
		observability.RecoveryReenqueued.WithLabelValues("force").Inc()
		count++
	}
	return count, nil
}

func (s *Scanner) enqueuePhoto(ctx context.Context, photo database.Photo, priority int) error {
	return s.producer.Enqueue(ctx, queue.QueueProcessPhoto, priority, queue.ProcessPhotoJob{
		PhotoID:    photo.ID,
		EventID:    photo.EventID,
		StorageKey: photo.StorageKey,
		BatchID:    photo.BatchID,
		Priority:   priority,
	})
}
