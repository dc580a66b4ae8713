package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/sheets/internal/config"
	"github.com/JonMunkholm/sheets/internal/logging"
)

// APIKeyHeader carries the API key. EventSource clients cannot set headers
// and pass the key as the api_key query parameter instead.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth rejects requests without a configured API key when
// RequireAPIKey is set; otherwise it passes everything through. With
// RequireAPIKey set and no keys configured every request is rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	keys := make([][]byte, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		keys[i] = []byte(k)
	}

	return func(next http.Handler) http.Handler {
		if !cfg.RequireAPIKey {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}

			switch {
			case key == "":
				logging.FromContext(r.Context()).Warn("auth: missing API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
			case !matchKey([]byte(key), keys):
				logging.FromContext(r.Context()).Warn("auth: invalid API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// matchKey compares against every key so timing does not reveal which one matched.
func matchKey(key []byte, keys [][]byte) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare(key, k)
	}
	return match == 1
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "message": msg, "code": code})
}
