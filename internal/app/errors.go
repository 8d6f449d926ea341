package app

import "errors"

var (
	// ErrNotFound reports a missing conversation, assignment, message, or user.
	ErrNotFound = errors.New("not found")
	// ErrForbidden reports an access attempt on another user's resource.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized reports a failed login or an invalid session token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited reports that the login quota for the source is exhausted.
	ErrRateLimited = errors.New("too many attempts")
	// ErrValidation reports malformed request input.
	ErrValidation = errors.New("invalid input")
	// ErrModelNotAllowed reports a model outside the configured allow-list.
	ErrModelNotAllowed = errors.New("model not allowed")
)
