package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
	ErrPartialMerge      = errors.New("merge partially failed")
	ErrStorage           = errors.New("storage failure")
)
