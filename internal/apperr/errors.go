package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidImage  = errors.New("invalid image")

	// Annotation and segmentation taxonomy.
	ErrUnknownColor       = errors.New("unknown color")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrMalformedGeometry  = errors.New("malformed geometry")
	ErrInsufficientLabels = errors.New("insufficient labels")
)
