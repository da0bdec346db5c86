package middleware

import (
	"net/http"
	"strings"

	"github.com/pharmatrace/batchcore/internal/auth"
)

// ActorMiddleware reads the authenticated actor from the X-Actor-Id and
// X-Actor-Role headers and attaches it to the request context. Requests
// without the headers pass through unauthenticated; role checks downstream
// reject them where a role is required.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
		role := strings.TrimSpace(strings.ToLower(r.Header.Get("X-Actor-Role")))
		if id != "" && role != "" {
			ctx := auth.ContextWithActor(r.Context(), auth.Actor{ID: id, Role: auth.Role(role)})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
