package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(code string, err error) *Error {
	return New(http.StatusBadRequest, code, err)
}

func NotFound(code string, err error) *Error {
	return New(http.StatusNotFound, code, err)
}

func Conflict(code string, err error) *Error {
	return New(http.StatusConflict, code, err)
}

func Upstream(code string, err error) *Error {
	return New(http.StatusBadGateway, code, err)
}

func Validationf(code, format string, args ...any) *Error {
	return Validation(code, fmt.Errorf(format, args...))
}

func NotFoundf(code, format string, args ...any) *Error {
	return NotFound(code, fmt.Errorf(format, args...))
}

func Conflictf(code, format string, args ...any) *Error {
	return Conflict(code, fmt.Errorf(format, args...))
}

func Upstreamf(code, format string, args ...any) *Error {
	return Upstream(code, fmt.Errorf(format, args...))
}

func statusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

func IsValidation(err error) bool { return statusOf(err) == http.StatusBadRequest }
func IsNotFound(err error) bool   { return statusOf(err) == http.StatusNotFound }
func IsConflict(err error) bool   { return statusOf(err) == http.StatusConflict }
func IsUpstream(err error) bool   { return statusOf(err) == http.StatusBadGateway }

// StatusAndCode maps any error to an HTTP status plus a stable code for the
// response envelope. Non-apierr errors come back as 500/internal_error.
func StatusAndCode(err error) (int, string) {
	var ae *Error
	if errors.As(err, &ae) {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := ae.Code
		if code == "" {
			code = "internal_error"
		}
		return status, code
	}
	return http.StatusInternalServerError, "internal_error"
}
