/*
auth.go - Identity resolution middleware

PURPOSE:
  Maps the opaque credential carried by a request to a stable owner
  identity before any entry handler runs. The credential is either an
  Authorization bearer token or, for EventSource clients that cannot
  set headers, a ?token= query parameter. The resolver only matches
  the token against the owner registry; it never inspects its
  structure. Handlers downstream trust the resolved owner.
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/track-engine/timeclock"
)

type contextKey int

const ownerContextKey contextKey = iota

// RequireOwner resolves the request credential to an owner and rejects
// unresolved credentials with 401.
func (h *Handler) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := credentialFrom(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing credential", nil)
			return
		}

		owner, err := h.Store.OwnerByToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve identity", err)
			return
		}
		if owner == nil {
			writeError(w, http.StatusUnauthorized, "Unresolved credential", nil)
			return
		}

		ctx := context.WithValue(r.Context(), ownerContextKey, *owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// ownerFrom returns the owner resolved by RequireOwner.
func ownerFrom(ctx context.Context) timeclock.Owner {
	owner, _ := ctx.Value(ownerContextKey).(timeclock.Owner)
	return owner
}
