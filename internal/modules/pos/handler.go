package pos

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the terminal HTTP endpoints. Routes expect auth.Middleware
// to have put the operator on the request context.
type Handler struct {
	service Service
	metrics http.Handler
}

func NewHandler(service Service, metrics http.Handler) *Handler {
	return &Handler{service: service, metrics: metrics}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/terminal", func(r chi.Router) {
		r.Post("/orders", h.openOrder)                                      // POST   /api/v1/terminal/orders
		r.Get("/orders/{id}", h.getOrder)                                   // GET    /api/v1/terminal/orders/{id}
		r.Delete("/orders/{id}", h.cancelOrder)                             // DELETE /api/v1/terminal/orders/{id}
		r.Post("/orders/{id}/items", h.addItem)                             // POST   /api/v1/terminal/orders/{id}/items
		r.Post("/orders/{id}/coupons", h.addCoupon)                         // POST   /api/v1/terminal/orders/{id}/coupons
		r.Post("/orders/{id}/redemptions", h.redeem)                        // POST   /api/v1/terminal/orders/{id}/redemptions
		r.Delete("/orders/{id}/redemptions/{line_id}", h.reverseRedemption) // DELETE /api/v1/terminal/orders/{id}/redemptions/{line_id}
		r.Post("/orders/{id}/payments", h.addPayment)                       // POST   /api/v1/terminal/orders/{id}/payments
		r.Post("/orders/{id}/payments/{pid}/select", h.selectPayment)       // POST   /api/v1/terminal/orders/{id}/payments/{pid}/select
		r.Patch("/orders/{id}/payments/{pid}", h.editPayment)               // PATCH  /api/v1/terminal/orders/{id}/payments/{pid}
		r.Delete("/orders/{id}/payments/{pid}", h.deletePayment)            // DELETE /api/v1/terminal/orders/{id}/payments/{pid}
		r.Post("/orders/{id}/finalize", h.finalize)                         // POST   /api/v1/terminal/orders/{id}/finalize
		r.Get("/reconciliation", h.listReconciliation)                      // GET    /api/v1/terminal/reconciliation
		r.Post("/reconciliation/{id}/resolve", h.resolveReconciliation)     // POST   /api/v1/terminal/reconciliation/{id}/resolve
		if h.metrics != nil {
			r.Handle("/metrics", h.metrics) // GET /api/v1/terminal/metrics
		}
	})
}

func (h *Handler) openOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.OpenOrder(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.service.AddItem(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, resp)
}

func (h *Handler) addCoupon(w http.ResponseWriter, r *http.Request) {
	var req AddCouponRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.service.AddCoupon(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, resp)
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.service.Redeem(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	respond(w, status, resp)
}

func (h *Handler) reverseRedemption(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ReverseRedemption(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "line_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	var req AddPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.service.AddPayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, resp)
}

func (h *Handler) selectPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.SelectPayment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) editPayment(w http.ResponseWriter, r *http.Request) {
	var req EditPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.service.EditPayment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.DeletePayment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	// the body is optional
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	res, err := h.service.Finalize(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, res)
}

func (h *Handler) listReconciliation(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.ListReconciliation(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, recs)
}

func (h *Handler) resolveReconciliation(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.service.ResolveReconciliation(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, rec)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respond(w, ierr.HTTPStatusFromErr(err), ierr.Describe(err))
}
