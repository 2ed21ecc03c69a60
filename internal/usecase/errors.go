package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorValidation          ErrorCode = "VALIDATION_ERROR"
	ErrorRemoteUnavailable   ErrorCode = "REMOTE_UNAVAILABLE"
	ErrorJobFailed           ErrorCode = "JOB_FAILED"
	ErrorUnsupportedJobState ErrorCode = "UNSUPPORTED_JOB_STATE"
	ErrorJobTimeout          ErrorCode = "JOB_TIMEOUT"
	ErrorEmptyResult         ErrorCode = "EMPTY_RESULT"
	ErrorMalformedResult     ErrorCode = "MALFORMED_RESULT"
	ErrorRateLimited         ErrorCode = "RATE_LIMITED"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

// Error is the tagged failure returned by every reply operation. Detail carries
// free-form vendor context (for example a failed job's last error message).
type Error struct {
	Code   ErrorCode
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the error code carried by err, or ErrorInternal when err is
// not a *Error.
func CodeOf(err error) ErrorCode {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Code
	}
	return ErrorInternal
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// remoteError classifies a transport failure from the vendor.
func remoteError(reason string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, reason, err)
	}
	return newError(ErrorRemoteUnavailable, reason, err)
}
