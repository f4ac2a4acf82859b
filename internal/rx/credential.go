package rx

// credential.go defines the immutable credential payload and its canonical
// serialization.
//
// A credential is created once at signing time and never mutated afterward -
// any change to the prescription content produces a new credential. The
// canonical bytes (RFC 8785) are the input to the proof algorithm, so the
// serialization must be byte-identical between signing and verification
// environments. Timestamps are stored as RFC 3339 strings for this reason.

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openrx-networks/rxcred/internal/crypto"
)

// Medication is a single line item on the prescription.
type Medication struct {

	// Name is the medication name (e.g., "Amoxicillin")
	Name string `json:"name"`

	// Strength, e.g. "500mg"
	Strength string `json:"strength,omitempty"`

	// Form, e.g. "capsule", "tablet", "suspension"
	Form string `json:"form,omitempty"`

	// Quantity is the number of units authorized per fill
	Quantity int `json:"quantity"`

	// Directions for use, e.g. "one capsule three times daily"
	Directions string `json:"directions,omitempty"`
}

// Credential is the immutable, signable description of a prescription.
//
// Serialized field structure (stable under RFC 8785 canonicalization):
// {id, issuerId, patientId, prescriberId, medications[], issuedAt, expiresAt}
type Credential struct {

	// ID is the prescription record identifier this credential belongs to.
	ID string `json:"id"`

	// IssuerID identifies the issuing authority in the trust registry.
	IssuerID string `json:"issuerId"`

	// PatientID identifies the patient.
	PatientID string `json:"patientId"`

	// PrescriberID identifies the prescriber within the issuing authority.
	PrescriberID string `json:"prescriberId,omitempty"`

	// Medications lists the prescribed items (at least one required).
	Medications []Medication `json:"medications"`

	// IssuedAt is the issuance timestamp in RFC 3339 format (UTC).
	IssuedAt string `json:"issuedAt"`

	// ExpiresAt is the end of the validity window in RFC 3339 format (UTC).
	ExpiresAt string `json:"expiresAt"`
}

// ValidateStructure checks that all fields required for signing are present.
// Returns an incomplete credential error naming the first missing field.
func (c *Credential) ValidateStructure() error {
	if c.ID == "" {
		return NewIncompleteCredentialError("id is required")
	}
	if c.IssuerID == "" {
		return NewIncompleteCredentialError("issuerId is required")
	}
	if c.PatientID == "" {
		return NewIncompleteCredentialError("patientId is required")
	}
	if len(c.Medications) == 0 {
		return NewIncompleteCredentialError("at least one medication is required")
	}
	for i, m := range c.Medications {
		if m.Name == "" {
			return NewIncompleteCredentialError(fmt.Sprintf("medications[%d]: name is required", i))
		}
		if m.Quantity < 1 {
			return NewIncompleteCredentialError(fmt.Sprintf("medications[%d]: quantity must be at least 1", i))
		}
	}

	issuedAt, err := time.Parse(time.RFC3339, c.IssuedAt)
	if err != nil {
		return WrapIncompleteCredentialError(err, "issuedAt must be a valid RFC 3339 timestamp")
	}
	expiresAt, err := time.Parse(time.RFC3339, c.ExpiresAt)
	if err != nil {
		return WrapIncompleteCredentialError(err, "expiresAt must be a valid RFC 3339 timestamp")
	}
	if !expiresAt.After(issuedAt) {
		return NewIncompleteCredentialError("expiresAt must be after issuedAt")
	}

	return nil
}

// CanonicalBytes returns the RFC 8785 canonical serialization of the credential.
// This is the exact byte sequence covered by the proof.
func (c *Credential) CanonicalBytes() ([]byte, error) {
	jsonBytes, err := json.Marshal(c)
	if err != nil {
		return nil, WrapInternalError(err, "failed to marshal credential")
	}

	canonical, err := crypto.CanonicalizeJSON(jsonBytes)
	if err != nil {
		return nil, WrapInternalError(err, "failed to canonicalize credential")
	}

	return canonical, nil
}

// Checksum returns the SHA-256 hex digest of the canonical credential bytes.
func (c *Credential) Checksum() (string, error) {
	canonical, err := c.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return crypto.Hash(canonical)
}

// ValidityWindow returns the parsed issuedAt/expiresAt pair.
// ValidateStructure should be called first - parse failures here indicate an
// unvalidated credential.
func (c *Credential) ValidityWindow() (issuedAt, expiresAt time.Time, err error) {
	issuedAt, err = time.Parse(time.RFC3339, c.IssuedAt)
	if err != nil {
		return time.Time{}, time.Time{}, WrapIncompleteCredentialError(err, "invalid issuedAt")
	}
	expiresAt, err = time.Parse(time.RFC3339, c.ExpiresAt)
	if err != nil {
		return time.Time{}, time.Time{}, WrapIncompleteCredentialError(err, "invalid expiresAt")
	}
	return issuedAt, expiresAt, nil
}

// WithinValidityWindow reports whether now falls inside [issuedAt, expiresAt).
// The expiry boundary is exclusive: a credential expiring at T is invalid at
// exactly T.
func (c *Credential) WithinValidityWindow(now time.Time) (bool, error) {
	issuedAt, expiresAt, err := c.ValidityWindow()
	if err != nil {
		return false, err
	}
	return !now.Before(issuedAt) && now.Before(expiresAt), nil
}
