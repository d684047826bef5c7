package ledger

import (
	"context"
	"encoding/json"
	"net/http"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/go-chi/chi/v5"
)

// Handler exposes ledger HTTP endpoints.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/ledger/resources", func(r chi.Router) {
		r.Post("/", h.issueResource)          // POST /api/v1/ledger/resources
		r.Get("/{id}", h.getBalance)          // GET  /api/v1/ledger/resources/{id}
		r.Post("/{id}/deduct", h.deduct)      // POST /api/v1/ledger/resources/{id}/deduct
		r.Post("/{id}/rollback", h.rollback)  // POST /api/v1/ledger/resources/{id}/rollback
		r.Get("/{id}/entries", h.listEntries) // GET  /api/v1/ledger/resources/{id}/entries
		r.Get("/{id}/holds/{key}", h.getHold) // GET  /api/v1/ledger/resources/{id}/holds/{key}
	})
}

func (h *Handler) issueResource(w http.ResponseWriter, r *http.Request) {
	var req IssueResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	res, err := h.service.IssueResource(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, res)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, bal)
}

func (h *Handler) deduct(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Deduct)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Rollback)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string, req MutationRequest) (*MutationResponse, error)) {
	var req MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": ierr.ErrCodeValidation})
		return
	}
	resp, err := op(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		if resp != nil {
			// replayed key: the original result travels with the error kind
			f := ierr.Describe(err)
			resp.Error, resp.Kind = f.Message, f.Kind
			respond(w, ierr.HTTPStatusFromErr(err), resp)
			return
		}
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) getHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.service.GetHold(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, hold)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListEntries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, entries)
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respond(w, ierr.HTTPStatusFromErr(err), ierr.Describe(err))
}
