package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/ocr"
	"github.com/racepix/racepix/internal/queue"
	"github.com/racepix/racepix/internal/storage"
)

// maxUploadSize caps one upload request.
const maxUploadSize = 500 << 20

// Enqueuer publishes pipeline jobs, normally the queue.Producer.
type Enqueuer interface {
	Enqueue(ctx context.Context, q queue.Queue, priority int, job any) error
	EnqueueAfterDelay(q queue.Queue, priority int, job any)
}

// PhotosHandler handles photo upload, inspection and reprocessing.
type PhotosHandler struct {
	photos   database.PhotoRepository
	bibs     database.BibRepository
	store    storage.ObjectStore
	producer Enqueuer
}

func NewPhotosHandler(photos database.PhotoRepository, bibs database.BibRepository, store storage.ObjectStore, producer Enqueuer) *PhotosHandler {
	return &PhotosHandler{photos: photos, bibs: bibs, store: store, producer: producer}
}

type uploadedPhoto struct {
	PhotoID  string `json:"photoId"`
	Filename string `json:"filename"`
	Error    string `json:"error,omitempty"`
}

// Upload handles POST /api/v1/events/{eventID}/photos: stores the
// originals and enqueues a pipeline job per accepted file. Rejected
// files are reported per file, not as a request failure.
func (h *PhotosHandler) Upload(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	photographerID := r.FormValue("photographer_id")
	takenAt, err := parseTakenAt(r.FormValue("taken_at"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]uploadedPhoto, 0, len(files))
	accepted := 0
	for _, header := range files {
		result := h.ingestFile(r.Context(), eventID, photographerID, takenAt, header)
		if result.Error == "" {
			accepted++
		}
		results = append(results, result)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"photos":   results,
	})
}

func (h *PhotosHandler) ingestFile(ctx context.Context, eventID, photographerID string, takenAt *time.Time, header *multipart.FileHeader) uploadedPhoto {
	result := uploadedPhoto{Filename: filepath.Base(header.Filename)}

	file, err := header.Open()
	if err != nil {
		result.Error = "failed to open file"
		return result
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		result.Error = "failed to read file"
		return result
	}
	if err := storage.ValidateImage(data); err != nil {
		result.Error = err.Error()
		return result
	}

	photoID := uuid.New().String()
	key := storage.OriginalKey(eventID, photoID, uploadExt(header.Filename))
	if _, err := h.store.Upload(ctx, key, data, storage.DetectContentType(data)); err != nil {
		slog.Error("upload original", "file", sanitizeForLog(header.Filename), "error", err)
		result.Error = "failed to store file"
		return result
	}

	photo := &database.Photo{
		ID:             photoID,
		EventID:        eventID,
		PhotographerID: photographerID,
		StorageKey:     key,
		TakenAt:        takenAt,
	}
	if err := h.photos.Create(ctx, photo); err != nil {
		slog.Error("create photo record", "photo", photoID, "error", err)
		result.Error = "failed to create photo record"
		return result
	}

	h.producer.EnqueueAfterDelay(queue.QueueProcessPhoto, 0, queue.ProcessPhotoJob{
		PhotoID:    photo.ID,
		EventID:    photo.EventID,
		StorageKey: photo.StorageKey,
	})

	result.PhotoID = photoID
	return result
}

// Get handles GET /api/v1/photos/{photoID}.
func (h *PhotosHandler) Get(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoID")

	photo, err := h.photos.Get(r.Context(), photoID)
	if err != nil {
		respondFault(w, err)
		return
	}
	if photo == nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}

	bibs, err := h.bibs.ListByPhoto(r.Context(), photoID)
	if err != nil {
		respondFault(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"photo": photoView(photo),
		"bibs":  bibViews(bibs),
	})
}

type reprocessRequest struct {
	Strategy string `json:"strategy"`
}

// Reprocess handles POST /api/v1/photos/{photoID}/reprocess: re-runs
// OCR, typically with the pro strategy.
func (h *PhotosHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoID")

	var req reprocessRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if _, err := ocr.ParseStrategy(req.Strategy); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	photo, err := h.photos.Get(r.Context(), photoID)
	if err != nil {
		respondFault(w, err)
		return
	}
	if photo == nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}

	if err := h.producer.Enqueue(r.Context(), queue.QueueReprocessPhoto, 0, queue.ReprocessPhotoJob{
		PhotoID:  photoID,
		Strategy: req.Strategy,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue reprocess job: %v", err))
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"photoId": photoID,
		"status":  "queued",
	})
}

func parseTakenAt(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("taken_at must be RFC 3339")
	}
	return &t, nil
}

func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return ext
	default:
		return ".jpg"
	}
}

func photoView(p *database.Photo) map[string]any {
	view := map[string]any{
		"id":        p.ID,
		"eventId":   p.EventID,
		"status":    p.Status,
		"width":     p.Width,
		"height":    p.Height,
		"createdAt": p.CreatedAt,
	}
	if p.TakenAt != nil {
		view["takenAt"] = p.TakenAt
	}
	if p.ProcessingError != nil {
		view["processingError"] = *p.ProcessingError
	}
	return view
}

func bibViews(bibs []database.PhotoBib) []map[string]any {
	views := make([]map[string]any, 0, len(bibs))
	for _, b := range bibs {
		view := map[string]any{
			"id":         b.ID,
			"bib":        b.Bib,
			"confidence": b.Confidence,
			"source":     b.Source,
		}
		if b.BBox != nil {
			view["bbox"] = b.BBox
		}
		views = append(views, view)
	}
	return views
}
