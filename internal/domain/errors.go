package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrValidation    = errors.New("validation failed")
	ErrNotConfigured = errors.New("not configured")
	ErrTimeout       = errors.New("timed out")
	ErrUnavailable   = errors.New("unavailable")
)
