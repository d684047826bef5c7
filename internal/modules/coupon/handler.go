package coupon

import (
	"encoding/json"
	"net/http"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/go-chi/chi/v5"
)

type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/coupons", func(r chi.Router) {
		r.Post("/", h.create)                   // POST  /api/v1/coupons
		r.Get("/{code}/usage", h.getUsage)      // GET   /api/v1/coupons/{code}/usage
		r.Patch("/{code}/usage", h.updateUsage) // PATCH /api/v1/coupons/{code}/usage
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	c, err := h.service.Create(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, c)
}

func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetUsage(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, u)
}

func (h *Handler) updateUsage(w http.ResponseWriter, r *http.Request) {
	var req UpdateUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	u, err := h.service.UpdateUsage(r.Context(), chi.URLParam(r, "code"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, u)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respond(w, ierr.HTTPStatusFromErr(err), ierr.Describe(err))
}
