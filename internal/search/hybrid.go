package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/racepix/racepix/internal/faults"
	"github.com/racepix/racepix/internal/observability"
	"github.com/racepix/racepix/internal/ocr"
)

// HybridResult is the union of a bib and a face search over one event.
type HybridResult struct {
	UserFaceDetected bool    `json:"userFaceDetected"`
	Items            []Item  `json:"items"`
	SearchTime       float64 `json:"searchTime"`
}

// SearchHybrid runs both searches and unions the hits by photo, keeping
// the higher of bib confidence and face similarity as the item score.
func (e *Engine) SearchHybrid(ctx context.Context, eventID, bib string, imageData []byte, limit int) (*HybridResult, error) {
	start := time.Now()
	defer func() {
		observability.SearchDuration.WithLabelValues("hybrid").Observe(time.Since(start).Seconds())
	}()

	bib = ocr.NormalizeQuery(bib)
	if bib == "" && len(imageData) == 0 {
		return nil, faults.Validationf("hybrid search needs a bib, a query image or both")
	}

	limit = e.clampPageSize(limit)
	merged := map[string]Item{}

	if bib != "" {
		rows, err := e.bibs.SearchByBib(ctx, eventID, bib, nil, e.maxPageSize)
		if err != nil {
			return nil, fmt.Errorf("bib side of hybrid search: %w", err)
		}
		for _, row := range rows {
			item, err := e.signItem(ctx, row.PhotoID, row.StorageKey, row.ThumbnailKey, row.WatermarkKey)
			if err != nil {
				return nil, err
			}
			item.Confidence = row.Confidence
			item.TakenAt = row.TakenAt
			merged[row.PhotoID] = item
		}
	}

	result := &HybridResult{}
	if len(imageData) > 0 {
		faceRes, err := e.SearchFace(ctx, eventID, imageData, e.maxPageSize)
		if err != nil {
			return nil, err
		}
		result.UserFaceDetected = faceRes.UserFaceDetected
		for _, m := range faceRes.Matches {
			if prev, ok := merged[m.PhotoID]; !ok || m.Similarity > prev.Confidence {
				merged[m.PhotoID] = Item{
					PhotoID:      m.PhotoID,
					ThumbURL:     m.ThumbURL,
					WatermarkURL: m.WatermarkURL,
					OriginalURL:  m.OriginalURL,
					Confidence:   m.Similarity,
				}
			}
		}
	}

	items := make([]Item, 0, len(merged))
	for _, item := range merged {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		return items[i].PhotoID > items[j].PhotoID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	result.Items = items
	result.SearchTime = time.Since(start).Seconds()
	return result, nil
}
