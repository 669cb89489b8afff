// Package auth authenticates the two kinds of callers: backend services
// presenting an API key, and end users presenting a signed JWT.
package auth

import "errors"

var (
	// ErrKeyNotFound is returned when an API key is unknown
	ErrKeyNotFound = errors.New("api key not found")

	// ErrInvalidToken is returned for malformed, expired or badly signed tokens
	ErrInvalidToken = errors.New("invalid token")
)
