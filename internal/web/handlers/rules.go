package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/ocr"
)

// RulesHandler manages the per-event bib validation rule set.
type RulesHandler struct {
	rules database.RulesRepository
}

func NewRulesHandler(rules database.RulesRepository) *RulesHandler {
	return &RulesHandler{rules: rules}
}

// Get handles GET /api/v1/events/{eventID}/bib-rules. Events without
// explicit rules report the default digits-only set.
func (h *RulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	rules, err := h.rules.Get(r.Context(), eventID)
	if err != nil {
		respondFault(w, err)
		return
	}
	configured := rules != nil
	if rules == nil {
		rules = ocr.DefaultRules()
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules":      rules,
		"configured": configured,
	})
}

// Put handles PUT /api/v1/events/{eventID}/bib-rules.
func (h *RulesHandler) Put(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var rules ocr.Rules
	if err := decodeJSONBody(r, &rules); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := rules.Check(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.rules.Upsert(r.Context(), eventID, &rules); err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}
