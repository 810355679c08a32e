package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader is the alternative to a bearer token.
const APIKeyHeader = "X-API-Key"

// AuthHandler checks the API key of incoming requests. With an empty key
// every request is accepted.
type AuthHandler struct {
	apiKey string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(apiKey string) *AuthHandler {
	return &AuthHandler{apiKey: apiKey}
}

// Enabled reports whether an API key is configured.
func (a *AuthHandler) Enabled() bool {
	return a.apiKey != ""
}

// Verify compares key with the configured API key in constant time.
func (a *AuthHandler) Verify(key string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.apiKey), []byte(key)) == 1
}

// Authenticate checks the Authorization bearer token or the X-API-Key header.
func (a *AuthHandler) Authenticate(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	return a.Verify(requestKey(r))
}

func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get(APIKeyHeader)
}
