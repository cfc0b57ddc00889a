package search

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/face"
	"github.com/racepix/racepix/internal/faults"
)

// memBibRepo serves pages from an in-memory, pre-sorted row list using
// the same tuple predicate as the SQL implementation.
type memBibRepo struct {
	rows []database.BibSearchRow
}

func coalesce(t *time.Time) time.Time {
	if t == nil {
		return time.Unix(0, 0).UTC()
	}
	return *t
}

func tupleBefore(row database.BibSearchRow, after database.BibCursorKey) bool {
	if row.Confidence != after.Confidence {
		return row.Confidence < after.Confidence
	}
	rt, at := coalesce(row.TakenAt), after.TakenAt
	if !rt.Equal(at) {
		return rt.Before(at)
	}
	return row.PhotoID < after.PhotoID
}

func (r *memBibRepo) SearchByBib(ctx context.Context, eventID, bib string, after *database.BibCursorKey, limit int) ([]database.BibSearchRow, error) {
	var page []database.BibSearchRow
	for _, row := range r.rows {
		if after != nil && !tupleBefore(row, *after) {
			continue
		}
		page = append(page, row)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (r *memBibRepo) CountByBib(ctx context.Context, eventID, bib string) (int, error) {
	return len(r.rows), nil
}

func (r *memBibRepo) ReplaceDetected(ctx context.Context, photoID, eventID string, bibs []database.PhotoBib) error {
	return nil
}
func (r *memBibRepo) InsertManual(ctx context.Context, bib *database.PhotoBib) error { return nil }
func (r *memBibRepo) Delete(ctx context.Context, bibID string) error                 { return nil }
func (r *memBibRepo) ListByPhoto(ctx context.Context, photoID string) ([]database.PhotoBib, error) {
	return nil, nil
}

type memFaceRepo struct {
	faces []database.EventFace
}

func (r *memFaceRepo) ReplaceForPhoto(ctx context.Context, photoID, eventID string, faces []database.FaceEmbedding) error {
	return nil
}
func (r *memFaceRepo) ListByPhoto(ctx context.Context, photoID string) ([]database.FaceEmbedding, error) {
	return nil, nil
}
func (r *memFaceRepo) ListByEvent(ctx context.Context, eventID string) ([]database.EventFace, error) {
	return r.faces, nil
}

type memStore struct{}

func (memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", nil
}
func (memStore) Download(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (memStore) Delete(ctx context.Context, key string) error             { return nil }
func (memStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "signed://" + key, nil
}

type stubExtractor struct {
	detections []face.Detection
}

func (s *stubExtractor) Extract(ctx context.Context, imageData []byte) ([]face.Detection, error) {
	return s.detections, nil
}

func searchConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Face.Metric = "cosine"
	cfg.Face.Threshold = 0.4
	cfg.Search.DefaultPageSize = 20
	cfg.Search.MaxPageSize = 100
	cfg.Storage.SignedURLTTL = time.Hour
	return cfg
}

func newTestEngine(t *testing.T, bibs *memBibRepo, faces *memFaceRepo, ext *stubExtractor, cfg *config.Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = searchConfig()
	}
	e, err := NewEngine(bibs, faces, memStore{}, ext, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestCursorRoundTrip(t *testing.T) {
	taken := time.Date(2026, 5, 3, 9, 30, 0, 0, time.UTC)
	key := database.BibCursorKey{Confidence: 0.87, TakenAt: taken, PhotoID: "p42"}

	decoded, err := decodeCursor(encodeCursor(key))
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if decoded.Confidence != key.Confidence || !decoded.TakenAt.Equal(key.TakenAt) || decoded.PhotoID != key.PhotoID {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}

func TestCursorRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":    "%%%",
		"not json":      base64.URLEncoding.EncodeToString([]byte("hello")),
		"wrong version": base64.URLEncoding.EncodeToString([]byte(`{"v":9,"photo_id":"p1"}`)),
		"no photo id":   base64.URLEncoding.EncodeToString([]byte(`{"v":1}`)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeCursor(token); !faults.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCursorEmptyMeansFirstPage(t *testing.T) {
	key, err := decodeCursor("")
	if err != nil || key != nil {
		t.Errorf("empty cursor should decode to nil, got %v / %v", key, err)
	}
}

func TestSearchBibPagination(t *testing.T) {
	taken := time.Date(2026, 4, 12, 10, 0, 0, 0, time.UTC)
	repo := &memBibRepo{rows: []database.BibSearchRow{
		{PhotoID: "p5", ThumbnailKey: "t5", Confidence: 0.95, TakenAt: &taken},
		{PhotoID: "p4", ThumbnailKey: "t4", Confidence: 0.90, TakenAt: &taken},
		{PhotoID: "p3", ThumbnailKey: "t3", Confidence: 0.90},
		{PhotoID: "p2", ThumbnailKey: "t2", Confidence: 0.80, TakenAt: &taken},
		{PhotoID: "p1", ThumbnailKey: "t1", Confidence: 0.70},
	}}
	e := newTestEngine(t, repo, &memFaceRepo{}, &stubExtractor{}, nil)

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		res, err := e.SearchBib(context.Background(), "ev1", "101", cursor, 2)
		if err != nil {
			t.Fatalf("SearchBib page %d: %v", pages, err)
		}
		if res.Total != 5 {
			t.Errorf("total = %d, want 5", res.Total)
		}
		for _, item := range res.Items {
			if seen[item.PhotoID] {
				t.Errorf("photo %s returned twice", item.PhotoID)
			}
			seen[item.PhotoID] = true
		}
		pages++
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(seen) != 5 {
		t.Errorf("saw %d photos across pages, want all 5", len(seen))
	}
}

func TestSearchBibSignsURLs(t *testing.T) {
	repo := &memBibRepo{rows: []database.BibSearchRow{
		{PhotoID: "p1", StorageKey: "o1", ThumbnailKey: "t1", WatermarkKey: "w1", Confidence: 0.9},
	}}
	e := newTestEngine(t, repo, &memFaceRepo{}, &stubExtractor{}, nil)

	res, err := e.SearchBib(context.Background(), "ev1", "101", "", 10)
	if err != nil {
		t.Fatalf("SearchBib: %v", err)
	}
	item := res.Items[0]
	if item.ThumbURL != "signed://t1" || item.WatermarkURL != "signed://w1" || item.OriginalURL != "signed://o1" {
		t.Errorf("urls not signed: %+v", item)
	}
}

func TestSearchBibRejectsEmptyQuery(t *testing.T) {
	e := newTestEngine(t, &memBibRepo{}, &memFaceRepo{}, &stubExtractor{}, nil)
	if _, err := e.SearchBib(context.Background(), "ev1", "   ", "", 10); !faults.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestSearchBibClampsPageSize(t *testing.T) {
	repo := &memBibRepo{}
	for i := 0; i < 10; i++ {
		repo.rows = append(repo.rows, database.BibSearchRow{
			PhotoID:    string(rune('a' + 9 - i)),
			Confidence: 1 - float64(i)/100,
		})
	}
	cfg := searchConfig()
	cfg.Search.MaxPageSize = 3
	e := newTestEngine(t, repo, &memFaceRepo{}, &stubExtractor{}, cfg)

	res, err := e.SearchBib(context.Background(), "ev1", "101", "", 1000)
	if err != nil {
		t.Fatalf("SearchBib: %v", err)
	}
	if len(res.Items) != 3 {
		t.Errorf("page size not capped: got %d items", len(res.Items))
	}
}

func TestSearchFaceNoFaceInQuery(t *testing.T) {
	e := newTestEngine(t, &memBibRepo{}, &memFaceRepo{}, &stubExtractor{}, nil)

	res, err := e.SearchFace(context.Background(), "ev1", []byte("jpeg"), 10)
	if err != nil {
		t.Fatalf("a faceless query image is a valid outcome: %v", err)
	}
	if res.UserFaceDetected {
		t.Error("UserFaceDetected must be false")
	}
	if len(res.Matches) != 0 || res.Total != 0 {
		t.Errorf("expected no matches, got %d (total %d)", len(res.Matches), res.Total)
	}
}

func TestSearchFaceThresholdAndDedupe(t *testing.T) {
	faces := &memFaceRepo{faces: []database.EventFace{
		// Exact match and a weaker one on the same photo.
		{FaceID: "f1a", PhotoID: "p1", ThumbnailKey: "t1", Confidence: 0.97, Embedding: []float32{1, 0}},
		{FaceID: "f1b", PhotoID: "p1", ThumbnailKey: "t1", Confidence: 0.90, Embedding: []float32{1, 1}},
		// Orthogonal: distance 1.0, outside the 0.4 threshold.
		{FaceID: "f2", PhotoID: "p2", ThumbnailKey: "t2", Embedding: []float32{0, 1}},
		// Close enough on another photo.
		{FaceID: "f3", PhotoID: "p3", ThumbnailKey: "t3", Embedding: []float32{1, 0.5}},
	}}
	ext := &stubExtractor{detections: []face.Detection{
		{Embedding: []float32{1, 0}, DetScore: 0.99},
	}}
	e := newTestEngine(t, &memBibRepo{}, faces, ext, nil)

	res, err := e.SearchFace(context.Background(), "ev1", []byte("jpeg"), 10)
	if err != nil {
		t.Fatalf("SearchFace: %v", err)
	}
	if !res.UserFaceDetected {
		t.Error("UserFaceDetected must be true")
	}
	if len(res.Matches) != 2 || res.Total != 2 {
		t.Fatalf("expected 2 matches (p2 filtered, p1 deduped), got %d (total %d)", len(res.Matches), res.Total)
	}
	if res.Matches[0].PhotoID != "p1" {
		t.Errorf("best match first: got %s", res.Matches[0].PhotoID)
	}
	if res.Matches[0].Similarity != 1 {
		t.Errorf("dedupe must keep the best similarity, got %v", res.Matches[0].Similarity)
	}
	if res.Matches[0].FaceID != "f1a" || res.Matches[0].Confidence != 0.97 {
		t.Errorf("match must carry the winning stored face, got %+v", res.Matches[0])
	}
}

func TestSearchFacePicksMostConfidentQueryFace(t *testing.T) {
	faces := &memFaceRepo{faces: []database.EventFace{
		{PhotoID: "p1", ThumbnailKey: "t1", Embedding: []float32{0, 1}},
	}}
	// Two faces in the query image; the confident one matches p1.
	ext := &stubExtractor{detections: []face.Detection{
		{Embedding: []float32{1, 0}, DetScore: 0.4},
		{Embedding: []float32{0, 1}, DetScore: 0.95},
	}}
	e := newTestEngine(t, &memBibRepo{}, faces, ext, nil)

	res, err := e.SearchFace(context.Background(), "ev1", []byte("jpeg"), 10)
	if err != nil {
		t.Fatalf("SearchFace: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].PhotoID != "p1" {
		t.Errorf("query must use the most confident detected face: %+v", res.Matches)
	}
}

func TestSearchHybridUnion(t *testing.T) {
	bibs := &memBibRepo{rows: []database.BibSearchRow{
		{PhotoID: "pa", ThumbnailKey: "ta", Confidence: 0.9},
		{PhotoID: "pc", ThumbnailKey: "tc", Confidence: 0.6},
	}}
	faces := &memFaceRepo{faces: []database.EventFace{
		{PhotoID: "pb", ThumbnailKey: "tb", Embedding: []float32{1, 0}},
		{PhotoID: "pc", ThumbnailKey: "tc", Embedding: []float32{1, 0}},
	}}
	ext := &stubExtractor{detections: []face.Detection{
		{Embedding: []float32{1, 0}, DetScore: 0.9},
	}}
	e := newTestEngine(t, bibs, faces, ext, nil)

	res, err := e.SearchHybrid(context.Background(), "ev1", "101", []byte("jpeg"), 10)
	if err != nil {
		t.Fatalf("SearchHybrid: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("expected union of 3 photos, got %d", len(res.Items))
	}

	scores := map[string]float64{}
	for _, item := range res.Items {
		scores[item.PhotoID] = item.Confidence
	}
	// pc appears on both sides; similarity 1.0 beats bib confidence 0.6.
	if scores["pc"] != 1 {
		t.Errorf("pc score = %v, want the face similarity 1.0", scores["pc"])
	}
	if scores["pa"] != 0.9 {
		t.Errorf("pa score = %v, want bib confidence 0.9", scores["pa"])
	}
}

func TestSearchHybridRequiresSomeInput(t *testing.T) {
	e := newTestEngine(t, &memBibRepo{}, &memFaceRepo{}, &stubExtractor{}, nil)
	if _, err := e.SearchHybrid(context.Background(), "ev1", "", nil, 10); !faults.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
