package httperr

import (
	"errors"
	"net/http"
)

type BadRequestError struct {
	msg string
}

func (e *BadRequestError) Error() string { return e.msg }

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

func IsBadRequest(err error) bool {
	_, ok := errors.AsType[*BadRequestError](err)
	return ok
}

type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func NewNotFound(msg string) error { return &NotFoundError{msg: msg} }

func IsNotFound(err error) bool {
	_, ok := errors.AsType[*NotFoundError](err)
	return ok
}

// ConflictError carries the machine-readable code sent back to the client
// and, for policy denials, the individual reasons.
type ConflictError struct {
	Code    string
	msg     string
	Reasons []string
}

func (e *ConflictError) Error() string { return e.msg }

func NewConflict(code string, msg string, reasons ...string) error {
	return &ConflictError{Code: code, msg: msg, Reasons: reasons}
}

func IsConflict(err error) bool {
	_, ok := errors.AsType[*ConflictError](err)
	return ok
}

type TooManyRequestsError struct {
	msg string
}

func (e *TooManyRequestsError) Error() string { return e.msg }

func NewTooManyRequests(msg string) error { return &TooManyRequestsError{msg: msg} }

func IsTooManyRequests(err error) bool {
	_, ok := errors.AsType[*TooManyRequestsError](err)
	return ok
}

// Status maps a typed error to its HTTP status; untyped errors are 500.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsBadRequest(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsTooManyRequests(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
