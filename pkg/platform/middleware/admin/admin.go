// Package admin guards operator endpoints.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/httputil"
	"unionvote/pkg/requestcontext"
)

const headerAdminToken = "X-Admin-Token"

// RequireAdminToken admits requests carrying the operator token, either in
// X-Admin-Token or as an Authorization bearer token. An empty expected token
// rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !tokenMatches(presentedToken(r), expectedToken) {
				if logger != nil {
					logger.WarnContext(ctx, "rejected operator request",
						"request_id", requestcontext.RequestID(ctx),
						"path", r.URL.Path,
						"client_ip", requestcontext.ClientIP(ctx),
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithAdmin(ctx)))
		})
	}
}

func presentedToken(r *http.Request) string {
	if token := r.Header.Get(headerAdminToken); token != "" {
		return token
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func tokenMatches(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
