// Package common defines shared constants and sentinel errors used across
// the registry. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity marks corrupt stored data, e.g. a token id owned by more
	// than one account. Never recovered from silently.
	ErrIntegrity = errors.New("integrity error")

	// Service-level errors.
	ErrUnauthorized = errors.New("unauthorized")

	// Storage errors.
	ErrConflict = errors.New("already exists")

	// Upload request shape errors.
	ErrValidation = errors.New("validation error")

	// Auth errors (invalid or malformed capability token).
	ErrInvalidToken = errors.New("invalid token")
)
