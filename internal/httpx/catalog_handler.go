package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	featured := false
	if raw := r.URL.Query().Get("featured"); raw != "" {
		featured, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, apperr.Validation("featured", "must be a boolean"))
			return
		}
	}
	result, err := h.catalog.ListProducts(r.Context(), featured, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *handler) myImpact(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	totals, err := h.profiles.UserImpact(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *handler) myBadges(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	badges, err := h.profiles.ListUserBadges(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if badges == nil {
		badges = []models.Badge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": badges})
}
