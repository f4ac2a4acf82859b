package rx

// proof.go attaches proofs to credentials.

import (
	"time"

	"github.com/openrx-networks/rxcred/internal/crypto"
)

// Proof is the tamper-evidence value attached to a credential.
//
// The value is computed deterministically from the credential's canonical
// bytes and the signing key: verify(credential, proof) holds iff the
// credential bytes at verification time are byte-identical to those signed.
type Proof struct {

	// Algorithm identifies the proof algorithm ("HS256" or "EdDSA").
	Algorithm string `json:"algorithm"`

	// CreatedAt is the proof creation timestamp in RFC 3339 format (UTC).
	CreatedAt string `json:"createdAt"`

	// Value is the opaque signature value (hex HMAC digest or JWS compact
	// serialization depending on the algorithm).
	Value string `json:"value"`
}

// SignCredential validates the credential and produces a proof over its
// canonical bytes.
//
// Signing fails only if required credential fields are missing - key presence
// is a precondition checked when the signer is constructed.
func SignCredential(c *Credential, signer crypto.Signer, now time.Time) (*Proof, error) {
	if err := c.ValidateStructure(); err != nil {
		return nil, err
	}

	canonical, err := c.CanonicalBytes()
	if err != nil {
		return nil, err
	}

	value, err := signer.Sign(canonical)
	if err != nil {
		return nil, WrapInternalError(err, "failed to sign credential")
	}

	return &Proof{
		Algorithm: string(signer.Algorithm()),
		CreatedAt: now.UTC().Format(time.RFC3339),
		Value:     value,
	}, nil
}
