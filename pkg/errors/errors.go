package chat_errors

import "errors"

// Common errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limited")
	ErrEditWindow       = errors.New("edit window expired")
	ErrInvalidStatus    = errors.New("invalid status transition")
	ErrAlreadyExists    = errors.New("already exists")
	ErrCacheUnavailable = errors.New("cache unavailable")
)
