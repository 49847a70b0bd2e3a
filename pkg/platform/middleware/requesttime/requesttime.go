// Package requesttime pins a single "now" per HTTP request so age and overdue
// calculations, audit timestamps and persisted dates agree within a request.
package requesttime

import (
	"net/http"
	"time"

	"vaxledger/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
