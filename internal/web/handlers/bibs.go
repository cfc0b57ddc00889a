package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/ocr"
)

// BibsHandler handles manual bib corrections. Every change lands in the
// audit log.
type BibsHandler struct {
	photos database.PhotoRepository
	bibs   database.BibRepository
	audit  database.AuditRepository
}

func NewBibsHandler(photos database.PhotoRepository, bibs database.BibRepository, audit database.AuditRepository) *BibsHandler {
	return &BibsHandler{photos: photos, bibs: bibs, audit: audit}
}

// List handles GET /api/v1/photos/{photoID}/bibs.
func (h *BibsHandler) List(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoID")

	bibs, err := h.bibs.ListByPhoto(r.Context(), photoID)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bibs": bibViews(bibs)})
}

type addBibRequest struct {
	Bib    string `json:"bib"`
	UserID string `json:"userId"`
}

// Add handles PUT /api/v1/photos/{photoID}/bibs: attaches a manually
// verified bib at full confidence. MANUAL rows survive OCR reruns.
func (h *BibsHandler) Add(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoID")

	var req addBibRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	bib := ocr.NormalizeQuery(req.Bib)
	if bib == "" {
		respondError(w, http.StatusBadRequest, "bib is required")
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

	row := &database.PhotoBib{
		PhotoID:    photoID,
		EventID:    photo.EventID,
		Bib:        bib,
		Confidence: 1.0,
		Source:     database.BibSourceManual,
	}
	if err := h.bibs.InsertManual(r.Context(), row); err != nil {
		respondFault(w, err)
		return
	}

	h.appendAudit(r, photoID, req.UserID, "bib_added", map[string]string{"bib": bib})

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":  row.ID,
		"bib": bib,
	})
}

// Delete handles DELETE /api/v1/photos/{photoID}/bibs/{bibID}.
func (h *BibsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoID")
	bibID := chi.URLParam(r, "bibID")

	if err := h.bibs.Delete(r.Context(), bibID); err != nil {
		respondFault(w, err)
		return
	}

	h.appendAudit(r, photoID, r.URL.Query().Get("userId"), "bib_deleted", map[string]string{"bibId": bibID})

	respondJSON(w, http.StatusOK, map[string]string{"deleted": bibID})
}

// appendAudit records the correction. Audit failures are logged, not
// surfaced: the correction itself already happened.
func (h *BibsHandler) appendAudit(r *http.Request, photoID, userID, action string, detail map[string]string) {
	payload, _ := json.Marshal(detail)
	err := h.audit.Append(r.Context(), &database.AuditLog{
		PhotoID: photoID,
		UserID:  userID,
		Action:  action,
		Detail:  payload,
	})
	if err != nil {
		slog.Error("append audit log", "photo", photoID, "action", action, "error", err)
	}
}
