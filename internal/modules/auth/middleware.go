package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
)

// Middleware rejects requests without a valid bearer token and puts the
// authenticated Operator on the request context.
func Middleware(svc Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, ierr.Describe(
					ierr.NewError("missing bearer token").WithHint("Sign in to continue").Mark(ierr.ErrPermissionDenied)))
				return
			}
			op, err := svc.ParseToken(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ierr.Describe(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), *op)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
