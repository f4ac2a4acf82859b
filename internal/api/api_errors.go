package api

// api_errors.go defines the transport-level error type for requests that
// fail before reaching the domain layer (malformed bodies, size and rate
// limits). Domain failures carry their own typed errors and are mapped in
// error_response.go.

import "fmt"

// APIErrorCode identifies a transport-level failure.
type APIErrorCode string

const (
	ErrCodeMalformedRequest  APIErrorCode = "malformed_request"
	ErrCodeRequestTooLarge   APIErrorCode = "request_too_large"
	ErrCodeRateLimitExceeded APIErrorCode = "rate_limit_exceeded"
)

// APIError is a transport-level request failure.
type APIError struct {
	code    APIErrorCode
	message string
	wrapped error
}

func (e *APIError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *APIError) Code() APIErrorCode { return e.code }
func (e *APIError) Unwrap() error      { return e.wrapped }

func NewMalformedRequestError(msg string) error {
	return &APIError{code: ErrCodeMalformedRequest, message: msg}
}

func WrapMalformedRequestError(err error, msg string) error {
	return &APIError{code: ErrCodeMalformedRequest, message: msg, wrapped: err}
}

func NewRequestTooLargeError(msg string) error {
	return &APIError{code: ErrCodeRequestTooLarge, message: msg}
}

func NewRateLimitError(msg string) error {
	return &APIError{code: ErrCodeRateLimitExceeded, message: msg}
}
