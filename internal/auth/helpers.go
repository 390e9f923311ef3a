// Package auth extracts the caller's provider API key from a request. Keys are
// used for a single upstream call and never stored.
package auth

import (
	"net/http"
	"strings"
)

// ExtractAPIKey extracts the API key from the Authorization header.
// Returns "" with no error when the header is absent.
func ExtractAPIKey(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}

	// Expect "Bearer <api_key>" format
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrInvalidAuthorization
	}
	return parts[1], nil
}

// ProviderKey resolves the key for one call from the JSON body value and the
// Authorization header. Either may be empty; both set must agree.
func ProviderKey(r *http.Request, bodyKey string) (string, error) {
	headerKey, err := ExtractAPIKey(r)
	if err != nil {
		return "", err
	}
	bodyKey = strings.TrimSpace(bodyKey)
	switch {
	case bodyKey == "":
		return headerKey, nil
	case headerKey == "" || headerKey == bodyKey:
		return bodyKey, nil
	}
	return "", ErrConflictingKeys
}
