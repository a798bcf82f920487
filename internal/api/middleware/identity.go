package middleware

import (
	"net/http"

	"github.com/taskpulse/taskpulse/internal/api/shared"
)

// OwnerHeader is the header carrying the caller's identity. Upstream
// infrastructure is trusted to have authenticated the caller; this service
// only scopes data by the forwarded ID.
const OwnerHeader = "X-User-ID"

// Identity extracts the owner ID from the request header and stores it in
// the context. Requests without the header are rejected with 401.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(OwnerHeader)
		if ownerID == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing "+OwnerHeader+" header")
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.SetOwnerID(r.Context(), ownerID)))
	})
}
