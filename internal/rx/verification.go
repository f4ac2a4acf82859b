package rx

// verification.go implements credential verification at presentation time.
//
// # Check ordering
//
// The checks run in a fixed order and the first failure wins:
//
//	1. recompute the canonical bytes from the supplied credential
//	2. recompute/verify the proof - any mismatch is Tampered
//	3. consult the trust registry for the issuer - unknown/suspended is UnknownIssuer
//	4. check the validity window - outside it is Expired
//	5. check for an effective revocation - present is Revoked
//
// Tamper detection runs before the trust/time/revocation checks so that a
// forged-but-expired credential is reported as Tampered, not merely Expired.
// This ordering is a tested policy, not an implementation detail: a caller
// must be able to tell "forged" apart from "expired/revoked/untrusted".

import (
	"fmt"
	"time"

	"github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/registry"
)

// IssuerAuthorizer is the trust registry gate consulted during verification.
// Implemented by registry.Registry.
type IssuerAuthorizer interface {
	Authorize(issuerID string) registry.IssuerStatus
}

// VerificationStatus is the outcome of credential verification.
type VerificationStatus int

const (
	// VerificationValid: proof, trust, validity window and revocation checks all passed.
	VerificationValid VerificationStatus = iota + 1

	// VerificationTampered: the proof does not match the credential bytes.
	VerificationTampered

	// VerificationUnknownIssuer: the issuer is not trusted (unknown or suspended).
	VerificationUnknownIssuer

	// VerificationExpired: the credential is outside its validity window.
	VerificationExpired

	// VerificationRevoked: an effective revocation exists for the prescription.
	VerificationRevoked
)

// String returns a human-readable representation of the verification status.
func (s VerificationStatus) String() string {
	switch s {
	case VerificationValid:
		return "VALID"
	case VerificationTampered:
		return "TAMPERED"
	case VerificationUnknownIssuer:
		return "UNKNOWN_ISSUER"
	case VerificationExpired:
		return "EXPIRED"
	case VerificationRevoked:
		return "REVOKED"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// VerificationInput contains the data needed to verify a presented credential.
type VerificationInput struct {

	// Credential is the credential as received (e.g. from a scanned QR payload).
	Credential *Credential

	// Proof is the proof attached to the credential.
	Proof *Proof

	// Revocation is the prescription's revocation record, if one exists.
	// The engine resolves this from the prescription store before verifying;
	// nil means no revocation has been requested.
	Revocation *RevocationRecord

	// Now is the verification time. Passed in explicitly so that
	// time-dependent outcomes (expiry, scheduled revocation) are pure
	// functions of the input.
	Now time.Time
}

// VerificationResult is the outcome of verification plus diagnostic detail.
type VerificationResult struct {

	// Status is the verification outcome.
	Status VerificationStatus

	// Detail is a human-readable explanation, including remediation data
	// where applicable (e.g. the expiry date for Expired results).
	Detail string

	// IssuerStatus is the trust registry status of the issuer.
	// Populated once the proof check has passed.
	IssuerStatus registry.IssuerStatus

	// CredentialChecksum is the SHA-256 digest of the canonical credential
	// bytes. Populated whenever canonicalization succeeded, for correlation
	// with the audit trail.
	CredentialChecksum string

	// CheckedAt is the verification time used for the time-dependent checks.
	CheckedAt time.Time
}

// Verifier checks presented credential+proof pairs.
//
// The signer is the same algorithm used at issuance - the verifier recomputes
// the expected proof from the canonical bytes and compares.
type Verifier struct {
	signer  crypto.Signer
	issuers IssuerAuthorizer
}

// NewVerifier creates a Verifier for the given proof algorithm and trust registry.
func NewVerifier(signer crypto.Signer, issuers IssuerAuthorizer) *Verifier {
	return &Verifier{signer: signer, issuers: issuers}
}

// Verify runs the ordered verification checks and returns the result.
// Verification never returns an error: every failure mode maps to a typed
// status so callers can branch on the exact cause.
func (v *Verifier) Verify(input VerificationInput) VerificationResult {
	result := VerificationResult{CheckedAt: input.Now}

	// Step 1: recompute the canonical bytes from the supplied credential.
	// A credential that cannot be canonicalized cannot match any proof.
	canonical, err := input.Credential.CanonicalBytes()
	if err != nil {
		result.Status = VerificationTampered
		result.Detail = fmt.Sprintf("credential cannot be canonicalized: %v", err)
		return result
	}

	if checksum, err := crypto.Hash(canonical); err == nil {
		result.CredentialChecksum = checksum
	}

	// Step 2: verify the proof. Any mismatch - missing proof, algorithm
	// mismatch, or signature failure - is reported as Tampered before the
	// trust/time/revocation checks run.
	if input.Proof == nil || input.Proof.Value == "" {
		result.Status = VerificationTampered
		result.Detail = "no proof attached to credential"
		return result
	}
	if input.Proof.Algorithm != string(v.signer.Algorithm()) {
		result.Status = VerificationTampered
		result.Detail = fmt.Sprintf("proof algorithm %q does not match expected %q",
			input.Proof.Algorithm, v.signer.Algorithm())
		return result
	}
	if err := v.signer.Verify(canonical, input.Proof.Value); err != nil {
		result.Status = VerificationTampered
		result.Detail = "proof value does not match credential - the credential was altered after signing or the proof is forged"
		return result
	}

	// Step 3: trust registry gate. Unknown and suspended issuers both block
	// acceptance; the distinct status is reported for diagnostics.
	issuerStatus := v.issuers.Authorize(input.Credential.IssuerID)
	result.IssuerStatus = issuerStatus
	if issuerStatus != registry.IssuerStatusTrusted {
		result.Status = VerificationUnknownIssuer
		result.Detail = fmt.Sprintf("issuer %s is %s", input.Credential.IssuerID, issuerStatus)
		return result
	}

	// Step 4: validity window.
	within, err := input.Credential.WithinValidityWindow(input.Now)
	if err != nil {
		result.Status = VerificationTampered
		result.Detail = fmt.Sprintf("invalid validity window: %v", err)
		return result
	}
	if !within {
		result.Status = VerificationExpired
		result.Detail = fmt.Sprintf("credential valid from %s to %s, checked at %s",
			input.Credential.IssuedAt, input.Credential.ExpiresAt, input.Now.UTC().Format(time.RFC3339))
		return result
	}

	// Step 5: revocation. Scheduled revocations only take effect once
	// now >= effectiveAt - evaluated here at read time, never by a timer.
	if input.Revocation.IsEffective(input.Now) {
		result.Status = VerificationRevoked
		result.Detail = fmt.Sprintf("prescription revoked by %s effective %s: %s",
			input.Revocation.RevokedBy,
			input.Revocation.EffectiveAt.UTC().Format(time.RFC3339),
			input.Revocation.Reason)
		return result
	}

	result.Status = VerificationValid
	result.Detail = "credential verified"
	return result
}
