package domain

import "errors"

var (
	// ErrNotFound indicates no batch matches the supplied key.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller is not the batch owner.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation indicates malformed input rejected before any Store write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation, e.g. two concurrent
	// creations racing on the same batch key.
	ErrConflict = errors.New("conflict")
)
