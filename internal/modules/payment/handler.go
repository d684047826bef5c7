package payment

import (
	"encoding/json"
	"net/http"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/go-chi/chi/v5"
)

// Handler exposes payment method HTTP endpoints.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/payment-methods", func(r chi.Router) {
		r.Post("/", h.create)          // POST /api/v1/payment-methods
		r.Get("/", h.list)             // GET  /api/v1/payment-methods
		r.Get("/reserved", h.reserved) // GET  /api/v1/payment-methods/reserved
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	m, err := h.service.CreateMethod(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, m)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListMethods(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, methods)
}

func (h *Handler) reserved(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.ReservedMethod(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, m)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respond(w, ierr.HTTPStatusFromErr(err), ierr.Describe(err))
}
