package rx

// errors.go defines the error taxonomy for the prescription credential engine.
//
// Verification-path failures are returned as typed results (VerificationStatus)
// rather than errors - the errors here cover the mutating operations (signing,
// transitions, dispensing, revocation) and the audit chain.

import (
	"fmt"
	"time"
)

// Error represents a structured error from the rx package.
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	// ErrCodeIncompleteCredential indicates required signing fields are missing.
	// Fatal - the credential must be corrected by the issuer, never retried as-is.
	ErrCodeIncompleteCredential ErrorCode = "INCOMPLETE_CREDENTIAL"

	// ErrCodeTamperedProof indicates a proof value did not match the credential bytes.
	ErrCodeTamperedProof ErrorCode = "TAMPERED_PROOF"

	// ErrCodeUnknownIssuer indicates the issuer is not trusted (unknown or suspended).
	ErrCodeUnknownIssuer ErrorCode = "UNKNOWN_ISSUER"

	// ErrCodeExpiredCredential indicates the credential is outside its validity window.
	ErrCodeExpiredCredential ErrorCode = "EXPIRED_CREDENTIAL"

	// ErrCodeRevokedCredential indicates an effective revocation exists for the prescription.
	ErrCodeRevokedCredential ErrorCode = "REVOKED_CREDENTIAL"

	// ErrCodeIllegalTransition indicates a state machine transition that is not in the
	// legal transition table. This is a programming/process error - the record state
	// is left unchanged.
	ErrCodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"

	// ErrCodeRepeatExhausted indicates no repeats remain on the authorization.
	ErrCodeRepeatExhausted ErrorCode = "REPEAT_EXHAUSTED"

	// ErrCodeTooEarly indicates the minimum dispensing interval has not elapsed.
	ErrCodeTooEarly ErrorCode = "TOO_EARLY"

	// ErrCodeRevocation indicates a revocation request or rollback could not be honored.
	ErrCodeRevocation ErrorCode = "REVOCATION"

	// ErrCodeChainIntegrity indicates the audit chain is broken. This is a critical,
	// non-recoverable alarm requiring manual investigation - never auto-corrected.
	ErrCodeChainIntegrity ErrorCode = "CHAIN_INTEGRITY"

	// ErrCodeNotFound indicates the prescription record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInternal indicates internal processing failures.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// RxError represents a structured error from the rx package.
type RxError struct {
	// code is the error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *RxError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *RxError) Code() ErrorCode { return e.code }
func (e *RxError) Unwrap() error   { return e.wrapped }

// TooEarlyError is returned when a dispense attempt is made before the minimum
// interval has elapsed. It carries the remediation data the dispenser needs:
// how many days remain and the exact date the prescription becomes eligible.
type TooEarlyError struct {
	DaysRemaining int
	NextEligible  time.Time
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("%s: minimum dispensing interval not met: eligible in %d day(s) on %s",
		ErrCodeTooEarly, e.DaysRemaining, e.NextEligible.Format("2006-01-02"))
}

func (e *TooEarlyError) Code() ErrorCode { return ErrCodeTooEarly }
func (e *TooEarlyError) Unwrap() error   { return nil }

// IllegalTransitionError is returned when a transition not in the legal set is
// requested. It carries the attempted and current states for forensic audit.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", ErrCodeIllegalTransition, e.From, e.To)
}

func (e *IllegalTransitionError) Code() ErrorCode { return ErrCodeIllegalTransition }
func (e *IllegalTransitionError) Unwrap() error   { return nil }

// NewIncompleteCredentialError creates an error for a credential that is missing
// required signing fields.
func NewIncompleteCredentialError(msg string) error {
	return &RxError{code: ErrCodeIncompleteCredential, message: msg}
}

// WrapIncompleteCredentialError wraps an existing error as an incomplete credential error.
func WrapIncompleteCredentialError(err error, msg string) error {
	return &RxError{code: ErrCodeIncompleteCredential, message: msg, wrapped: err}
}

// NewTamperedProofError creates a proof mismatch error.
// Always reported to the caller, never silently dropped.
func NewTamperedProofError(msg string) error {
	return &RxError{code: ErrCodeTamperedProof, message: msg}
}

// WrapTamperedProofError wraps an existing error as a tampered proof error.
func WrapTamperedProofError(err error, msg string) error {
	return &RxError{code: ErrCodeTamperedProof, message: msg, wrapped: err}
}

// NewRepeatExhaustedError creates an error for a dispense attempt with no repeats remaining.
func NewRepeatExhaustedError(msg string) error {
	return &RxError{code: ErrCodeRepeatExhausted, message: msg}
}

// NewRevocationError creates an error for a revocation request or rollback that
// cannot be honored (e.g. rollback after the deadline, second active revocation).
func NewRevocationError(msg string) error {
	return &RxError{code: ErrCodeRevocation, message: msg}
}

// NewRevokedCredentialError creates an error for operations blocked by an effective revocation.
func NewRevokedCredentialError(msg string) error {
	return &RxError{code: ErrCodeRevokedCredential, message: msg}
}

// NewExpiredCredentialError creates an error for operations blocked by credential expiry.
func NewExpiredCredentialError(msg string) error {
	return &RxError{code: ErrCodeExpiredCredential, message: msg}
}

// NewChainIntegrityError creates an audit chain integrity error.
// Treated as a critical alarm - callers must surface it and never repair the chain.
func NewChainIntegrityError(msg string) error {
	return &RxError{code: ErrCodeChainIntegrity, message: msg}
}

// NewNotFoundError creates an error for an unknown prescription record.
func NewNotFoundError(msg string) error {
	return &RxError{code: ErrCodeNotFound, message: msg}
}

// NewInternalError creates an internal error for unexpected failures.
func NewInternalError(msg string) error {
	return &RxError{code: ErrCodeInternal, message: msg}
}

// WrapInternalError wraps an existing error as an internal error.
func WrapInternalError(err error, msg string) error {
	return &RxError{code: ErrCodeInternal, message: msg, wrapped: err}
}
