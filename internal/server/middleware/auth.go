package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderAPIKey is the alternative to a Bearer token for operator routes.
const HeaderAPIKey = "X-API-Key"

// Auth guards operator routes (mine, faucet, audit, archive) with a static
// key. Without a configured key the routes answer 403.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(apiKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				writeJSONError(w, http.StatusForbidden, "operator endpoints disabled")
				return
			}
			token, ok := operatorToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
				writeUnauthorized(w, "missing operator key")
				return
			}
			got := sha256.Sum256([]byte(token))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				writeUnauthorized(w, "invalid operator key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// operatorToken reads "Authorization: Bearer <key>" or X-API-Key.
func operatorToken(r *http.Request) (string, bool) {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	return key, key != ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
