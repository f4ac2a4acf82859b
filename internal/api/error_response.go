package api

// error_response.go maps domain and transport errors to the structured error
// response format returned by the API. The response carries the machine
// readable error code plus remediation data (e.g. days remaining for early
// dispense attempts) so clients never need to parse message strings.

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/logger"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// ErrorResponse is the structured error payload returned by every failing request.
type ErrorResponse struct {

	// The HTTP method used to make the request e.g. GET, POST, etc
	HTTPMethod string `json:"httpMethod"`

	// The URI that was requested
	RequestURI string `json:"requestUri"`

	// The HTTP status code returned
	StatusCode int `json:"statusCode"`

	// A standard short description corresponding to the HTTP status code
	StatusCodeText string `json:"statusCodeText"`

	// A unique identifier for the HTTP request within the scope of the service
	CorrelationReference string `json:"correlationReference,omitempty"`

	// The DateTime corresponding to the error occurring
	ErrorDateTime string `json:"errorDateTime"`

	// An array of errors providing more detail about the root cause
	Errors []DetailedError `json:"errors"`
}

// DetailedError carries the machine-readable cause and optional remediation data.
type DetailedError struct {
	ErrorCode        string `json:"errorCode"`
	ErrorCodeText    string `json:"errorCodeText"`
	ErrorCodeMessage string `json:"errorCodeMessage"`

	// DaysRemaining and NextEligible are set on early dispense rejections so
	// dispensers can tell the patient when to return.
	DaysRemaining int    `json:"daysRemaining,omitempty"`
	NextEligible  string `json:"nextEligible,omitempty"`
}

// MapErrorToResponse maps rx, crypto, store and transport errors to the
// structured response. The mapping also establishes the HTTP status code.
func MapErrorToResponse(err error, r *http.Request) *ErrorResponse {
	requestID := middleware.GetReqID(r.Context())

	var tooEarly *rx.TooEarlyError
	if errors.As(err, &tooEarly) {
		resp := newErrorResponse(r, requestID, http.StatusConflict, DetailedError{
			ErrorCode:        string(rx.ErrCodeTooEarly),
			ErrorCodeText:    "Dispense too early",
			ErrorCodeMessage: tooEarly.Error(),
			DaysRemaining:    tooEarly.DaysRemaining,
			NextEligible:     tooEarly.NextEligible.Format(time.RFC3339),
		})
		return resp
	}

	var rxErr rx.Error
	if errors.As(err, &rxErr) {
		statusCode, errorCodeText := mapRxCode(rxErr.Code())
		return newErrorResponse(r, requestID, statusCode, DetailedError{
			ErrorCode:        string(rxErr.Code()),
			ErrorCodeText:    errorCodeText,
			ErrorCodeMessage: rxErr.Error(),
		})
	}

	var cryptoErr *crypto.CryptoError
	if errors.As(err, &cryptoErr) {
		statusCode := http.StatusBadRequest
		errorCodeText := "Cryptographic operation failed"
		if cryptoErr.Code() == crypto.ErrCodeInternal {
			statusCode = http.StatusInternalServerError
			errorCodeText = "Internal Error"
		}
		return newErrorResponse(r, requestID, statusCode, DetailedError{
			ErrorCode:        string(cryptoErr.Code()),
			ErrorCodeText:    errorCodeText,
			ErrorCodeMessage: cryptoErr.Error(),
		})
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		statusCode, errorCodeText := mapAPICode(apiErr.Code())
		return newErrorResponse(r, requestID, statusCode, DetailedError{
			ErrorCode:        string(apiErr.Code()),
			ErrorCodeText:    errorCodeText,
			ErrorCodeMessage: apiErr.Error(),
		})
	}

	// fallback - not expected; log the unmapped error and return an internal error
	reqLogger := logger.ContextRequestLogger(r.Context())
	reqLogger.Error("BUG: unmapped error type in MapErrorToResponse",
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("error", err.Error()),
		slog.String("request_id", requestID),
	)
	return newErrorResponse(r, requestID, http.StatusInternalServerError, DetailedError{
		ErrorCode:        string(rx.ErrCodeInternal),
		ErrorCodeText:    "Internal Error",
		ErrorCodeMessage: "An internal error occurred",
	})
}

func newErrorResponse(r *http.Request, requestID string, statusCode int, detail DetailedError) *ErrorResponse {
	return &ErrorResponse{
		HTTPMethod:           r.Method,
		RequestURI:           r.RequestURI,
		StatusCode:           statusCode,
		StatusCodeText:       http.StatusText(statusCode),
		CorrelationReference: requestID,
		ErrorDateTime:        time.Now().UTC().Format(time.RFC3339),
		Errors:               []DetailedError{detail},
	}
}

func mapRxCode(code rx.ErrorCode) (int, string) {
	switch code {
	case rx.ErrCodeIncompleteCredential:
		return http.StatusBadRequest, "Incomplete credential"
	case rx.ErrCodeTamperedProof:
		return http.StatusUnprocessableEntity, "Tampered proof"
	case rx.ErrCodeUnknownIssuer:
		return http.StatusUnprocessableEntity, "Unknown issuer"
	case rx.ErrCodeExpiredCredential:
		return http.StatusConflict, "Expired credential"
	case rx.ErrCodeRevokedCredential:
		return http.StatusConflict, "Revoked credential"
	case rx.ErrCodeIllegalTransition:
		return http.StatusConflict, "Illegal state transition"
	case rx.ErrCodeRepeatExhausted:
		return http.StatusConflict, "Repeats exhausted"
	case rx.ErrCodeTooEarly:
		return http.StatusConflict, "Dispense too early"
	case rx.ErrCodeRevocation:
		return http.StatusConflict, "Revocation not permitted"
	case rx.ErrCodeChainIntegrity:
		return http.StatusInternalServerError, "Audit chain integrity failure"
	case rx.ErrCodeNotFound:
		return http.StatusNotFound, "Not found"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

func mapAPICode(code APIErrorCode) (int, string) {
	switch code {
	case ErrCodeMalformedRequest:
		return http.StatusBadRequest, "Malformed request"
	case ErrCodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge, "Request too large"
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests, "Rate limit exceeded"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
