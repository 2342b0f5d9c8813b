// Package common defines shared constants and sentinel errors used across
// the service layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyClaimed is returned when an upload claim cannot be acquired
	// because the document is currently being processed by another trigger.
	ErrAlreadyClaimed = errors.New("document already claimed")

	// Validation / input errors.
	ErrInvalidInput = errors.New("invalid input")

	// Auth errors (invalid, malformed, or expired token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Remote store errors.
	ErrRemoteFailure     = errors.New("remote store failure")
	ErrOperationPending  = errors.New("operation still pending")
	ErrOperationTimedOut = errors.New("operation polling attempts exhausted")
)
