package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerToken extracts the credential from an Authorization header. Both
// "Bearer <key>" and a bare key are accepted.
func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

// RequireAPIKey rejects requests whose Authorization header does not carry
// key. An empty key disables the check.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		want := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="diffusiond"`)
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(bearerToken(h)), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="diffusiond", error="invalid_token"`)
				writeJSONError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
