package state

import "errors"

// Rejection reasons surfaced by the aggregation state. Callers building an
// API on top should map these to distinct client-facing error codes.
var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrTaskAlreadyExists    = errors.New("task already exists")
	ErrOperatorOutOfBounds  = errors.New("operator index out of bounds")
	ErrDuplicateSignature   = errors.New("operator already signed")
	ErrTaskExpired          = errors.New("task has expired")
	ErrTaskAlreadySubmitted = errors.New("task already submitted to chain")
)
