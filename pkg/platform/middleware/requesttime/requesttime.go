// Package requesttime captures a single "now" per request so ballot timestamps,
// audit events and lifecycle guards inside one request agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"unionvote/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
