package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/search"
)

// maxQueryImageSize caps the face-search query image.
const maxQueryImageSize = 20 << 20

// SearchHandler exposes the search engine over HTTP.
type SearchHandler struct {
	engine *search.Engine
}

func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// Bib handles GET /api/v1/events/{eventID}/search/bib.
func (h *SearchHandler) Bib(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	q := r.URL.Query()

	pageSize := 0
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "page_size must be a number")
			return
		}
		pageSize = n
	}

	result, err := h.engine.SearchBib(r.Context(), eventID, q.Get("bib"), q.Get("cursor"), pageSize)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Face handles POST /api/v1/events/{eventID}/search/face. The query
// image arrives as the "image" part of a multipart form.
func (h *SearchHandler) Face(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	imageData, ok := readQueryImage(w, r)
	if !ok {
		return
	}

	result, err := h.engine.SearchFace(r.Context(), eventID, imageData, limitParam(r))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Hybrid handles POST /api/v1/events/{eventID}/search/hybrid. Accepts a
// "bib" form value, an "image" part, or both.
func (h *SearchHandler) Hybrid(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	if err := r.ParseMultipartForm(maxQueryImageSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	var imageData []byte
	if file, _, err := r.FormFile("image"); err == nil {
		defer file.Close()
		imageData, err = io.ReadAll(io.LimitReader(file, maxQueryImageSize))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read query image")
			return
		}
	}

	result, err := h.engine.SearchHybrid(r.Context(), eventID, r.FormValue("bib"), imageData, limitParam(r))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func readQueryImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if err := r.ParseMultipartForm(maxQueryImageSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return nil, false
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxQueryImageSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read query image")
		return nil, false
	}
	return data, true
}

func limitParam(r *http.Request) int {
	if v := r.FormValue("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
