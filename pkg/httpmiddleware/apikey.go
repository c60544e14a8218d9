package httpmiddleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the back-office API key.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey guards back-office endpoints. The configured key is stored
// HMAC-hashed with pepper; the incoming key is hashed the same way and
// compared in constant time to avoid timing side-channels.
func RequireAPIKey(keyHash, pepper []byte) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			mac := hmac.New(sha256.New, pepper)
			mac.Write([]byte(key))
			if subtle.ConstantTimeCompare(mac.Sum(nil), keyHash) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashAPIKey computes the stored form of an API key.
func HashAPIKey(key string, pepper []byte) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}
