package order

import (
	"encoding/json"
	"net/http"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/go-chi/chi/v5"
)

// Handler exposes order sync HTTP endpoints.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)                        // POST  /api/v1/orders
		r.Get("/{id}", h.getOrder)                        // GET   /api/v1/orders/{id}
		r.Get("/reference/{reference}", h.getByReference) // GET   /api/v1/orders/reference/{reference}
		r.Get("/store/{store_id}", h.listStoreOrders)     // GET   /api/v1/orders/store/{store_id}
		r.Patch("/{id}/flags", h.updateFlags)             // PATCH /api/v1/orders/{id}/flags
		r.Patch("/{id}/status", h.updateStatus)           // PATCH /api/v1/orders/{id}/status
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	o, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusCreated
	if o.Replayed {
		status = http.StatusOK
	}
	respond(w, status, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, o)
}

func (h *Handler) getByReference(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrderByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, o)
}

func (h *Handler) listStoreOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListStoreOrders(r.Context(), chi.URLParam(r, "store_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, orders)
}

func (h *Handler) updateFlags(w http.ResponseWriter, r *http.Request) {
	var req UpdateFlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	o, err := h.service.UpdateFlags(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, o)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	o, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, o)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respond(w, ierr.HTTPStatusFromErr(err), ierr.Describe(err))
}
