package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/face"
	"github.com/racepix/racepix/internal/faults"
	"github.com/racepix/racepix/internal/observability"
)

// Match is one face-search hit: the best stored face of a photo within
// the distance threshold.
type Match struct {
	PhotoID      string        `json:"photoId"`
	FaceID       string        `json:"faceId"`
	Similarity   float64       `json:"similarity"`
	Confidence   float64       `json:"confidence"`
	BBox         database.BBox `json:"bbox"`
	ThumbURL     string        `json:"thumbUrl"`
	WatermarkURL string        `json:"watermarkUrl"`
	OriginalURL  string        `json:"originalUrl"`
}

// FaceResult is the outcome of one face search. UserFaceDetected false
// with no matches means the query image had no usable face, which is a
// valid answer, not an error.
type FaceResult struct {
	UserFaceDetected bool    `json:"userFaceDetected"`
	Matches          []Match `json:"matches"`
	Total            int     `json:"total"`
	SearchTime       float64 `json:"searchTime"`
}

// SearchFace finds the event's photos showing the face on the query
// image. Linear scan over the stored embeddings; only matches within the
// configured threshold survive, one hit per photo keeping the best
// similarity.
func (e *Engine) SearchFace(ctx context.Context, eventID string, imageData []byte, limit int) (*FaceResult, error) {
	start := time.Now()
	defer func() {
		observability.SearchDuration.WithLabelValues("face").Observe(time.Since(start).Seconds())
	}()

	if len(imageData) == 0 {
		return nil, faults.Validationf("query image is empty")
	}

	query, err := e.queryEmbedding(ctx, imageData)
	if err != nil {
		return nil, err
	}
	if query == nil {
		return &FaceResult{
			UserFaceDetected: false,
			Matches:          []Match{},
			SearchTime:       time.Since(start).Seconds(),
		}, nil
	}

	candidates, err := e.faces.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event faces: %w", err)
	}

	best := map[string]float64{}
	rows := map[string]database.EventFace{}
	for _, cand := range candidates {
		d, err := face.Distance(e.metric, query, cand.Embedding)
		if err != nil {
			slog.Warn("skipping unreadable embedding", "photo", cand.PhotoID, "error", err)
			continue
		}
		if !e.matcher.IsMatch(d) {
			continue
		}
		sim := face.Similarity(e.metric, d)
		if prev, ok := best[cand.PhotoID]; !ok || sim > prev {
			best[cand.PhotoID] = sim
			rows[cand.PhotoID] = cand
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if best[ids[i]] != best[ids[j]] {
			return best[ids[i]] > best[ids[j]]
		}
		return ids[i] > ids[j]
	})

	total := len(ids)
	limit = e.clampPageSize(limit)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	result := &FaceResult{UserFaceDetected: true, Total: total, Matches: make([]Match, 0, len(ids))}
	for _, id := range ids {
		row := rows[id]
		item, err := e.signItem(ctx, row.PhotoID, row.StorageKey, row.ThumbnailKey, row.WatermarkKey)
		if err != nil {
			return nil, err
		}
		result.Matches = append(result.Matches, Match{
			PhotoID:      row.PhotoID,
			FaceID:       row.FaceID,
			Similarity:   best[id],
			Confidence:   row.Confidence,
			BBox:         row.BBox,
			ThumbURL:     item.ThumbURL,
			WatermarkURL: item.WatermarkURL,
			OriginalURL:  item.OriginalURL,
		})
	}
	result.SearchTime = time.Since(start).Seconds()
	return result, nil
}

// queryEmbedding extracts faces from the query image and keeps the most
// confident one. Nil means no face was found.
func (e *Engine) queryEmbedding(ctx context.Context, imageData []byte) ([]float32, error) {
	detections, err := e.extractor.Extract(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("extract query face: %w", err)
	}
	if len(detections) == 0 {
		return nil, nil
	}

	bestIdx := 0
	for i, det := range detections {
		if det.DetScore > detections[bestIdx].DetScore {
			bestIdx = i
		}
	}
	return detections[bestIdx].Embedding, nil
}
