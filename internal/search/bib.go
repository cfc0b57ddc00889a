package search

import (
	"context"
	"fmt"
	"time"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/face"
	"github.com/racepix/racepix/internal/faults"
	"github.com/racepix/racepix/internal/observability"
	"github.com/racepix/racepix/internal/ocr"
	"github.com/racepix/racepix/internal/storage"
)

// FaceExtractor produces face detections for the query image.
type FaceExtractor interface {
	Extract(ctx context.Context, imageData []byte) ([]face.Detection, error)
}

// Engine answers bib, face and hybrid searches. Read-only: it never
// touches photo state.
type Engine struct {
	bibs      database.BibRepository
	faces     database.FaceRepository
	store     storage.ObjectStore
	extractor FaceExtractor

	metric  face.Metric
	matcher face.Matcher

	defaultPageSize int
	maxPageSize     int
	signedURLTTL    time.Duration
}

func NewEngine(
	bibs database.BibRepository,
	faces database.FaceRepository,
	store storage.ObjectStore,
	extractor FaceExtractor,
	cfg *config.Config,
) (*Engine, error) {
	metric, err := face.ParseMetric(cfg.Face.Metric)
	if err != nil {
		return nil, err
	}
	return &Engine{
		bibs:            bibs,
		faces:           faces,
		store:           store,
		extractor:       extractor,
		metric:          metric,
		matcher:         face.Matcher{Metric: metric, Threshold: cfg.Face.Threshold},
		defaultPageSize: cfg.Search.DefaultPageSize,
		maxPageSize:     cfg.Search.MaxPageSize,
		signedURLTTL:    cfg.Storage.SignedURLTTL,
	}, nil
}

// Item is one search hit with its signed delivery URLs.
type Item struct {
	PhotoID      string     `json:"photoId"`
	ThumbURL     string     `json:"thumbUrl"`
	WatermarkURL string     `json:"watermarkUrl"`
	OriginalURL  string     `json:"originalUrl"`
	Confidence   float64    `json:"confidence"`
	TakenAt      *time.Time `json:"takenAt,omitempty"`
}

// BibResult is one page of bib search hits.
type BibResult struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	Total      int    `json:"total"`
}

// SearchBib returns one page of photos carrying the given bib, ordered
// by (confidence, taken_at, photo_id) descending. The cursor continues
// after that tuple, so pages stay stable while new photos arrive.
func (e *Engine) SearchBib(ctx context.Context, eventID, bib, cursor string, pageSize int) (*BibResult, error) {
	start := time.Now()
	defer func() {
		observability.SearchDuration.WithLabelValues("bib").Observe(time.Since(start).Seconds())
	}()

	bib = ocr.NormalizeQuery(bib)
	if bib == "" {
		return nil, faults.Validationf("bib query is empty")
	}

	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	pageSize = e.clampPageSize(pageSize)

	rows, err := e.bibs.SearchByBib(ctx, eventID, bib, after, pageSize)
	if err != nil {
		return nil, fmt.Errorf("bib search: %w", err)
	}
	total, err := e.bibs.CountByBib(ctx, eventID, bib)
	if err != nil {
		return nil, fmt.Errorf("bib count: %w", err)
	}

	result := &BibResult{Items: make([]Item, 0, len(rows)), Total: total}
	for _, row := range rows {
		item, err := e.signItem(ctx, row.PhotoID, row.StorageKey, row.ThumbnailKey, row.WatermarkKey)
		if err != nil {
			return nil, err
		}
		item.Confidence = row.Confidence
		item.TakenAt = row.TakenAt
		result.Items = append(result.Items, item)
	}

	if len(rows) == pageSize {
		last := rows[len(rows)-1]
		result.NextCursor = encodeCursor(database.BibCursorKey{
			Confidence: last.Confidence,
			TakenAt:    coalesceTakenAt(last.TakenAt),
			PhotoID:    last.PhotoID,
		})
	}
	return result, nil
}

func (e *Engine) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return e.defaultPageSize
	}
	if pageSize > e.maxPageSize {
		return e.maxPageSize
	}
	return pageSize
}

// coalesceTakenAt mirrors the repository's ordering expression, which
// treats a missing capture time as the Unix epoch.
func coalesceTakenAt(t *time.Time) time.Time {
	if t == nil {
		return time.Unix(0, 0).UTC()
	}
	return *t
}

func (e *Engine) signItem(ctx context.Context, photoID, originalKey, thumbKey, wmKey string) (Item, error) {
	item := Item{PhotoID: photoID}

	var err error
	if thumbKey != "" {
		if item.ThumbURL, err = e.store.SignedURL(ctx, thumbKey, e.signedURLTTL); err != nil {
			return item, fmt.Errorf("sign thumbnail url: %w", err)
		}
	}
	if wmKey != "" {
		if item.WatermarkURL, err = e.store.SignedURL(ctx, wmKey, e.signedURLTTL); err != nil {
			return item, fmt.Errorf("sign watermark url: %w", err)
		}
	}
	if originalKey != "" {
		if item.OriginalURL, err = e.store.SignedURL(ctx, originalKey, e.signedURLTTL); err != nil {
			return item, fmt.Errorf("sign original url: %w", err)
		}
	}
	return item, nil
}
