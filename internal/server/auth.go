package server

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the API key. Browsers opening a WebSocket cannot set
// headers, so the "key" query parameter is accepted as well.
const (
	APIKeyHeader = "X-API-Key"
	APIKeyQuery  = "key"
)

// APIKeyAuth returns middleware that requires the key returned by apiKey.
// Requests are refused while no key is configured.
func APIKeyAuth(apiKey func() string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := apiKey()
			if key == "" {
				http.Error(w, "API key not configured", http.StatusServiceUnavailable)
				return
			}

			provided := r.Header.Get(APIKeyHeader)
			if provided == "" {
				provided = r.URL.Query().Get(APIKeyQuery)
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
}
