package middleware

import (
	"net/http"

	"cloudloader/internal/storage"
)

// BackendHeader reports which table answered the request.
const BackendHeader = "X-Storage-Backend"

// Backend selects the storage backend once per request and stores it in the
// request context for handlers and services.
func Backend(sel *storage.Selector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := sel.Select(r.Context())
			w.Header().Set(BackendHeader, b.Name())
			next.ServeHTTP(w, r.WithContext(storage.WithBackend(r.Context(), b)))
		})
	}
}
