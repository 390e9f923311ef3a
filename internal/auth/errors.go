package auth

import "errors"

var (
	// ErrInvalidAuthorization is returned when the Authorization header is not "Bearer <key>"
	ErrInvalidAuthorization = errors.New("invalid Authorization header format, expected 'Bearer <api_key>'")

	// ErrConflictingKeys is returned when the body and the header carry different keys
	ErrConflictingKeys = errors.New("api key in body and Authorization header differ")
)
