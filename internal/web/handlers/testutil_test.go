package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/face"
	"github.com/racepix/racepix/internal/ocr"
	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/search"
)

type memPhotoRepo struct {
	photos map[string]*database.Photo
}

func newMemPhotoRepo() *memPhotoRepo {
	return &memPhotoRepo{photos: map[string]*database.Photo{}}
}

func (r *memPhotoRepo) Create(ctx context.Context, p *database.Photo) error {
	cp := *p
	r.photos[p.ID] = &cp
	return nil
}

func (r *memPhotoRepo) Get(ctx context.Context, id string) (*database.Photo, error) {
	p, ok := r.photos[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memPhotoRepo) SetDerivatives(ctx context.Context, id, t, w string, width, height int) error {
	return nil
}
func (r *memPhotoRepo) MarkProcessed(ctx context.Context, id string) error      { return nil }
func (r *memPhotoRepo) MarkFailed(ctx context.Context, id, reason string) error { return nil }
func (r *memPhotoRepo) MarkPending(ctx context.Context, id string) error        { return nil }
func (r *memPhotoRepo) ListStuckPending(ctx context.Context, staleBefore time.Time, limit int) ([]database.Photo, error) {
	return nil, nil
}
func (r *memPhotoRepo) ListPendingByBatch(ctx context.Context, batchID string, limit int) ([]database.Photo, error) {
	return nil, nil
}
func (r *memPhotoRepo) ListByEvent(ctx context.Context, eventID string, limit int) ([]database.Photo, error) {
	return nil, nil
}

type memBibRepo struct {
	byPhoto  map[string][]database.PhotoBib
	searched []database.BibSearchRow
	deleted  []string
}

func newMemBibRepo() *memBibRepo {
	return &memBibRepo{byPhoto: map[string][]database.PhotoBib{}}
}

func (r *memBibRepo) ReplaceDetected(ctx context.Context, photoID, eventID string, bibs []database.PhotoBib) error {
	return nil
}

func (r *memBibRepo) InsertManual(ctx context.Context, bib *database.PhotoBib) error {
	bib.ID = "bib-" + bib.Bib
	r.byPhoto[bib.PhotoID] = append(r.byPhoto[bib.PhotoID], *bib)
	return nil
}

func (r *memBibRepo) Delete(ctx context.Context, bibID string) error {
	r.deleted = append(r.deleted, bibID)
	return nil
}

func (r *memBibRepo) ListByPhoto(ctx context.Context, photoID string) ([]database.PhotoBib, error) {
	return r.byPhoto[photoID], nil
}

func (r *memBibRepo) SearchByBib(ctx context.Context, eventID, bib string, after *database.BibCursorKey, limit int) ([]database.BibSearchRow, error) {
	return r.searched, nil
}

func (r *memBibRepo) CountByBib(ctx context.Context, eventID, bib string) (int, error) {
	return len(r.searched), nil
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

type memAuditRepo struct {
	entries []database.AuditLog
}

func (r *memAuditRepo) Append(ctx context.Context, entry *database.AuditLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memAuditRepo) ListByPhoto(ctx context.Context, photoID string) ([]database.AuditLog, error) {
	return r.entries, nil
}

type memRulesRepo struct {
	rules map[string]*ocr.Rules
}

func newMemRulesRepo() *memRulesRepo {
	return &memRulesRepo{rules: map[string]*ocr.Rules{}}
}

func (r *memRulesRepo) Get(ctx context.Context, eventID string) (*ocr.Rules, error) {
	return r.rules[eventID], nil
}

func (r *memRulesRepo) Upsert(ctx context.Context, eventID string, rules *ocr.Rules) error {
	r.rules[eventID] = rules
	return nil
}

type memStore struct {
	uploads map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{uploads: map[string][]byte{}}
}

func (s *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.uploads[key] = data
	return "http://store/" + key, nil
}

func (s *memStore) Download(ctx context.Context, key string) ([]byte, error) {
	return s.uploads[key], nil
}

func (s *memStore) Delete(ctx context.Context, key string) error { return nil }
func (s *memStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "signed://" + key, nil
}

type recordedJob struct {
	queue    queue.Queue
	priority int
	job      any
	delayed  bool
}

type memProducer struct {
	jobs []recordedJob
}

func (p *memProducer) Enqueue(ctx context.Context, q queue.Queue, priority int, job any) error {
	p.jobs = append(p.jobs, recordedJob{queue: q, priority: priority, job: job})
	return nil
}

func (p *memProducer) EnqueueAfterDelay(q queue.Queue, priority int, job any) {
	p.jobs = append(p.jobs, recordedJob{queue: q, priority: priority, job: job, delayed: true})
}

type stubExtractor struct {
	detections []face.Detection
}

func (s *stubExtractor) Extract(ctx context.Context, imageData []byte) ([]face.Detection, error) {
	return s.detections, nil
}

// testAPI bundles the handlers with their fakes behind a chi router.
type testAPI struct {
	router   *chi.Mux
	photos   *memPhotoRepo
	bibs     *memBibRepo
	faces    *memFaceRepo
	audit    *memAuditRepo
	rules    *memRulesRepo
	store    *memStore
	producer *memProducer
	ext      *stubExtractor
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		photos:   newMemPhotoRepo(),
		bibs:     newMemBibRepo(),
		faces:    &memFaceRepo{},
		audit:    &memAuditRepo{},
		rules:    newMemRulesRepo(),
		store:    newMemStore(),
		producer: &memProducer{},
		ext:      &stubExtractor{},
	}

	cfg := &config.Config{}
	cfg.Face.Metric = "cosine"
	cfg.Face.Threshold = 0.4
	cfg.Search.DefaultPageSize = 20
	cfg.Search.MaxPageSize = 100
	cfg.Storage.SignedURLTTL = time.Hour

	engine, err := search.NewEngine(api.bibs, api.faces, api.store, api.ext, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	searchHandler := NewSearchHandler(engine)
	photosHandler := NewPhotosHandler(api.photos, api.bibs, api.store, api.producer)
	bibsHandler := NewBibsHandler(api.photos, api.bibs, api.audit)
	rulesHandler := NewRulesHandler(api.rules)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/search/bib", searchHandler.Bib)
			r.Post("/search/face", searchHandler.Face)
			r.Post("/search/hybrid", searchHandler.Hybrid)
			r.Post("/photos", photosHandler.Upload)
			r.Get("/bib-rules", rulesHandler.Get)
			r.Put("/bib-rules", rulesHandler.Put)
		})
		r.Get("/photos/{photoID}", photosHandler.Get)
		r.Post("/photos/{photoID}/reprocess", photosHandler.Reprocess)
		r.Get("/photos/{photoID}/bibs", bibsHandler.List)
		r.Put("/photos/{photoID}/bibs", bibsHandler.Add)
		r.Delete("/photos/{photoID}/bibs/{bibID}", bibsHandler.Delete)
	})
	api.router = r
	return api
}

func (api *testAPI) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a multipart form with optional files and fields.
func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(data)
	}
	for key, value := range fields {
		mw.WriteField(key, value)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func imageBody(t *testing.T, fieldData []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fieldData != nil {
		part, err := mw.CreateFormFile("image", "query.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(fieldData)
	}
	for key, value := range fields {
		mw.WriteField(key, value)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}
