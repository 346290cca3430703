// ABOUTME: Shared-token guard for the session API.
// ABOUTME: Bearer header for API clients; a ?token= query is accepted on file downloads so plain links work.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// downloadSuffixes are the GET routes a browser fetches through an <a href>,
// where no Authorization header can be attached.
var downloadSuffixes = []string{"/files/download", "/files/zip"}

// RequireToken rejects /api requests that do not present token. /health and
// anything outside /api pass through. The access log records only the path,
// so a query token is not written to logs.
func RequireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAPIPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if got := presentedToken(r); got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="mdsession"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid session API token"})
		})
	}
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

func presentedToken(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	if r.Method != http.MethodGet {
		return ""
	}
	for _, suffix := range downloadSuffixes {
		if strings.HasSuffix(r.URL.Path, suffix) {
			return r.URL.Query().Get("token")
		}
	}
	return ""
}
