package session

import (
	"errors"
	"fmt"
)

// Error kinds. Transport maps them to HTTP status codes.
var (
	// ErrConflict is returned when registration collides with an existing user.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized is returned for bad credentials and any unusable token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput is returned when input fails validation or password policy.
	ErrInvalidInput = errors.New("invalid input")
)

// Ledger errors.
var (
	// ErrRecordNotFound is returned when no ledger record matches.
	ErrRecordNotFound = errors.New("refresh token record not found")

	// ErrDuplicateRecord is returned when a jti or token hash already exists.
	ErrDuplicateRecord = errors.New("duplicate refresh token record")
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid config")

// User-visible messages.
const (
	MsgEmailAndUsernameExist = "Email and username already exist"
	MsgEmailExists           = "Email already exists"
	MsgUsernameExists        = "Username already exists"

	MsgInvalidCredentials  = "Invalid credentials"
	MsgInvalidRefreshToken = "Invalid refresh token"
	MsgRefreshInvalid      = "Refresh token is invalid or revoked"
	MsgInvalidAccessToken  = "Invalid access token"
	MsgAccessDenied        = "Access denied"
)

// Error is a service failure with a stable Kind and a client-safe Message.
type Error struct {
	Op      string
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// Message returns the client-safe message carried by err, if any.
func Message(err error) (string, bool) {
	var se *Error
	if !errors.As(err, &se) {
		return "", false
	}
	return se.Message, true
}

func conflict(op, msg string) error {
	return &Error{Op: op, Kind: ErrConflict, Message: msg}
}

func unauthorized(op, msg string) error {
	return &Error{Op: op, Kind: ErrUnauthorized, Message: msg}
}

func invalidInput(op, msg string) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Message: msg}
}
