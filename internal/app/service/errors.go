package service

import "errors"

// Error kinds. Controllers map these to HTTP statuses with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
)

var (
	ErrEmailAlreadyExists = newKindError(ErrValidation, "email already exists")
	ErrInvalidCredentials = newKindError(ErrUnauthenticated, "invalid email or password")
	ErrInvalidCode        = newKindError(ErrUnauthenticated, "invalid or expired code")
	ErrUserNotFound       = newKindError(ErrNotFound, "user not found")
)

// kindError is a specific failure that also matches its kind.
type kindError struct {
	kind error
	msg  string
}

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// validationError reports which input field was rejected.
type validationError struct {
	Field string
	msg   string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }

func newValidationError(field, msg string) error {
	return &validationError{Field: field, msg: msg}
}

var errPasswordTooLong = newValidationError("password", "password must be at most 72 bytes")
