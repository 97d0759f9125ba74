package adminhttp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken mirrors the teacher's RequireAuth shape (a middleware
// returning a decorator), narrowed to a single shared secret: this
// surface has one operator role, not a user/session model, so there is
// no JWT, no claims, no role check — just "does the bearer token match".
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(raw), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
