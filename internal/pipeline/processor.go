// Package pipeline orchestrates the recognition stages for one photo:
// download, derivatives, bib OCR, face embeddings.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/derivative"
	"github.com/racepix/racepix/internal/face"
	"github.com/racepix/racepix/internal/observability"
	"github.com/racepix/racepix/internal/ocr"
	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/storage"
)

// Downloader fetches original bytes, normally the storage.DownloadCache.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// FaceExtractor produces face detections for an image.
type FaceExtractor interface {
	Extract(ctx context.Context, imageData []byte) ([]face.Detection, error)
}

// Processor runs the recognition pipeline. All collaborators are injected
// so stages can be exercised against fakes.
type Processor struct {
	photos  database.PhotoRepository
	bibs    database.BibRepository
	faces   database.FaceRepository
	batches database.BatchRepository
	rules   database.RulesRepository

	store      storage.ObjectStore
	downloader Downloader
	ocr        ocr.Provider
	extractor  FaceExtractor
	mailer     Mailer

	derivativeCfg config.DerivativeConfig
	ocrStrategy   ocr.Strategy
	signedURLTTL  time.Duration
}

func NewProcessor(
	photos database.PhotoRepository,
	bibs database.BibRepository,
	faces database.FaceRepository,
	batches database.BatchRepository,
	rules database.RulesRepository,
	store storage.ObjectStore,
	downloader Downloader,
	ocrProvider ocr.Provider,
	extractor FaceExtractor,
	mailer Mailer,
	cfg *config.Config,
) (*Processor, error) {
	strategy, err := ocr.ParseStrategy(cfg.OCR.Strategy)
	if err != nil {
		return nil, err
	}
	return &Processor{
		photos:        photos,
		bibs:          bibs,
		faces:         faces,
		batches:       batches,
		rules:         rules,
		store:         store,
		downloader:    downloader,
		ocr:           ocrProvider,
		extractor:     extractor,
		mailer:        mailer,
		derivativeCfg: cfg.Derivative,
		ocrStrategy:   strategy,
		signedURLTTL:  cfg.Storage.SignedURLTTL,
	}, nil
}

// ProcessPhoto runs all stages for one photo. The returned error means
// "retry the job"; terminal failures are written by the exhaustion path.
// Anything unexpected, panics included, surfaces as an error here.
func (p *Processor) ProcessPhoto(ctx context.Context, job queue.ProcessPhotoJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	photo, err := p.photos.Get(ctx, job.PhotoID)
	if err != nil {
		return fmt.Errorf("load photo %s: %w", job.PhotoID, err)
	}
	if photo == nil {
		return fmt.Errorf("photo %s not found", job.PhotoID)
	}
	if photo.Status == database.PhotoProcessed {
		// Duplicate enqueue (recovery sweep racing a live worker).
		slog.Info("photo already processed, skipping", "photo", photo.ID)
		return nil
	}
	if storage.IsPlaceholderKey(photo.StorageKey) {
		return fmt.Errorf("photo %s has no real storage key", photo.ID)
	}

	data, err := p.downloadStage(ctx, photo.StorageKey)
	if err != nil {
		return err
	}

	// A derivative failure degrades the photo but must not block
	// recognition of its siblings.
	if derr := p.derivativeStage(ctx, photo, data); derr != nil {
		slog.Error("derivative stage failed", "photo", photo.ID, "error", derr)
		observability.StageFailures.WithLabelValues("derivative").Inc()
		p.countBatchOutcome(ctx, photo, database.StageDerivative, false)
	} else {
		p.countBatchOutcome(ctx, photo, database.StageDerivative, true)
	}

	// An OCR failure fails the photo once retries run out; batch failure
	// counting happens on the exhaustion path, not per attempt.
	if oerr := p.ocrStage(ctx, photo, data, p.ocrStrategy); oerr != nil {
		observability.StageFailures.WithLabelValues("ocr").Inc()
		return &stageError{stage: database.StageOCR, err: oerr}
	}
	p.countBatchOutcome(ctx, photo, database.StageOCR, true)

	// Face extraction is best-effort; bib search alone still makes the
	// photo useful.
	if ferr := p.faceStage(ctx, photo, data); ferr != nil {
		slog.Warn("face stage failed, photo kept", "photo", photo.ID, "error", ferr)
		observability.StageFailures.WithLabelValues("face").Inc()
		p.countBatchOutcome(ctx, photo, database.StageFace, false)
	} else {
		p.countBatchOutcome(ctx, photo, database.StageFace, true)
	}

	if err := p.photos.MarkProcessed(ctx, photo.ID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	observability.PhotosProcessed.WithLabelValues("processed").Inc()

	p.maybeCompleteBatch(ctx, photo)
	return nil
}

func (p *Processor) downloadStage(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := p.downloader.Download(ctx, key)
	observability.StageDuration.WithLabelValues("download").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.StageFailures.WithLabelValues("download").Inc()
		return nil, fmt.Errorf("download original: %w", err)
	}
	return data, nil
}

func (p *Processor) derivativeStage(ctx context.Context, photo *database.Photo, data []byte) error {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("derivative").Observe(time.Since(start).Seconds())
	}()

	width, height, err := derivative.Dimensions(data)
	if err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}

	thumb, err := derivative.Thumbnail(data, derivative.ThumbnailOptions{
		Width:   p.derivativeCfg.ThumbnailWidth,
		Quality: p.derivativeCfg.ThumbnailQuality,
	})
	if err != nil {
		return fmt.Errorf("generate thumbnail: %w", err)
	}

	watermarked, err := derivative.Watermark(data, derivative.WatermarkOptions{
		Width:       p.derivativeCfg.WatermarkWidth,
		Quality:     p.derivativeCfg.WatermarkQuality,
		Text:        p.derivativeCfg.WatermarkText,
		Angle:       p.derivativeCfg.WatermarkAngle,
		TileSpacing: p.derivativeCfg.TileSpacing,
		Opacity:     p.derivativeCfg.Opacity,
	})
	if err != nil {
		return fmt.Errorf("generate watermark: %w", err)
	}

	thumbKey := storage.ThumbnailKey(photo.EventID, photo.ID)
	if _, err := p.store.Upload(ctx, thumbKey, thumb, "image/jpeg"); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}
	wmKey := storage.WatermarkKey(photo.EventID, photo.ID)
	if _, err := p.store.Upload(ctx, wmKey, watermarked, "image/jpeg"); err != nil {
		return fmt.Errorf("upload watermark: %w", err)
	}

	if err := p.photos.SetDerivatives(ctx, photo.ID, thumbKey, wmKey, width, height); err != nil {
		return fmt.Errorf("persist derivative keys: %w", err)
	}
	photo.ThumbnailKey = thumbKey
	photo.WatermarkKey = wmKey
	return nil
}

func (p *Processor) ocrStage(ctx context.Context, photo *database.Photo, data []byte, strategy ocr.Strategy) error {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("ocr").Observe(time.Since(start).Seconds())
	}()

	rules, err := p.rules.Get(ctx, photo.EventID)
	if err != nil {
		return fmt.Errorf("load bib rules: %w", err)
	}

	detections, err := p.ocr.DetectBibs(ctx, data, strategy)
	if err != nil {
		return fmt.Errorf("detect bibs: %w", err)
	}

	accepted := ocr.ApplyRules(detections, rules)
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Confidence > accepted[j].Confidence
	})

	rows := make([]database.PhotoBib, 0, len(accepted))
	for _, det := range accepted {
		rows = append(rows, database.PhotoBib{
			Bib:        det.Value,
			Confidence: det.Confidence,
		})
	}

	// Zero accepted bibs is a valid outcome; the photo is still done.
	if err := p.bibs.ReplaceDetected(ctx, photo.ID, photo.EventID, rows); err != nil {
		return fmt.Errorf("store bibs: %w", err)
	}
	observability.BibsDetected.Add(float64(len(rows)))

	slog.Info("ocr stage done", "photo", photo.ID, "raw", len(detections), "accepted", len(rows))
	return nil
}

func (p *Processor) faceStage(ctx context.Context, photo *database.Photo, data []byte) error {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("face").Observe(time.Since(start).Seconds())
	}()

	detections, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("extract faces: %w", err)
	}

	rows := make([]database.FaceEmbedding, 0, len(detections))
	for _, det := range detections {
		row := database.FaceEmbedding{
			Embedding:  det.Embedding,
			Confidence: det.DetScore,
			Age:        det.Age,
			Gender:     det.Gender,
		}
		if len(det.BBox) == 4 {
			row.BBox = database.BBox{
				X: det.BBox[0],
				Y: det.BBox[1],
				W: det.BBox[2] - det.BBox[0],
				H: det.BBox[3] - det.BBox[1],
			}
		}
		rows = append(rows, row)
	}

	if err := p.faces.ReplaceForPhoto(ctx, photo.ID, photo.EventID, rows); err != nil {
		return fmt.Errorf("store faces: %w", err)
	}
	observability.FacesDetected.Add(float64(len(rows)))
	return nil
}

// countBatchOutcome bumps the batch stage counter when the photo belongs
// to a batch. Counter failures never affect the pipeline outcome.
func (p *Processor) countBatchOutcome(ctx context.Context, photo *database.Photo, stage database.Stage, ok bool) {
	if photo.BatchID == nil {
		return
	}
	if err := p.batches.AddOutcome(ctx, *photo.BatchID, stage, ok); err != nil {
		slog.Warn("update batch counter failed", "batch", *photo.BatchID, "stage", stage, "error", err)
	}
}

// maybeCompleteBatch marks the batch COMPLETED once no valid pending
// members remain.
func (p *Processor) maybeCompleteBatch(ctx context.Context, photo *database.Photo) {
	if photo.BatchID == nil {
		return
	}
	pending, err := p.batches.CountPendingPhotos(ctx, *photo.BatchID)
	if err != nil {
		slog.Warn("count pending batch photos failed", "batch", *photo.BatchID, "error", err)
		return
	}
	if pending > 0 {
		return
	}
	if err := p.batches.Complete(ctx, *photo.BatchID); err != nil {
		slog.Warn("complete batch failed", "batch", *photo.BatchID, "error", err)
		return
	}
	slog.Info("batch completed", "batch", *photo.BatchID)
}
