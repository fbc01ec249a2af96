package model

import "errors"

// Error taxonomy shared by stores, services and the HTTP layer.
// Callers wrap these with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyOwned      = errors.New("already owned")
	ErrAlreadyCompleted  = errors.New("quiz already completed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSubscriberOnly    = errors.New("subscribers only")
	ErrValidation        = errors.New("validation failed")
	ErrTransientStore    = errors.New("transient store error")
	ErrUnauthorized      = errors.New("unauthorized")

	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotOwned            = errors.New("not owned")
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different request")
)

// IsPrecondition reports whether err is a terminal business-rule failure
// that must be surfaced to the caller and never retried.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrAlreadyOwned) ||
		errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrSubscriberOnly)
}
