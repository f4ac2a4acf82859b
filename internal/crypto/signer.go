// signer.go defines the proof algorithm contract used to sign and verify
// credential payloads.
//
// Both implementations are deterministic: signing the same canonical bytes
// with the same key always yields the same proof value. This keeps
// verification a simple recompute-and-compare and makes round-trips testable.
//
//   - HMACSigner ("HS256"): shared-secret HMAC-SHA256 - demo grade, the
//     signer and verifier must hold the same secret.
//   - Ed25519Signer ("EdDSA"): JWS compact serialization signed with an
//     Ed25519 private key (Ed25519 signatures are deterministic). Verifiers
//     only need the issuer's public key, distributed as a JWK.
//
// A production deployment can swap in a stronger primitive by providing
// another Signer implementation - the lifecycle, repeat and audit subsystems
// never see the algorithm.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// Algorithm identifies the proof algorithm used to produce a signature value.
type Algorithm string

const (
	// AlgorithmHS256: HMAC-SHA256 over the canonical payload using a shared secret.
	AlgorithmHS256 Algorithm = "HS256"

	// AlgorithmEdDSA: EdDSA (Ed25519) JWS compact serialization.
	AlgorithmEdDSA Algorithm = "EdDSA"
)

// Signer produces and checks deterministic proof values over canonical bytes.
//
// Sign must be deterministic for a given payload+key.
// Verify must fail for any payload that is not byte-identical to the one signed.
type Signer interface {
	Algorithm() Algorithm
	Sign(canonical []byte) (string, error)
	Verify(canonical []byte, value string) error
}

// HMACSigner signs canonical payloads with HMAC-SHA256 using a shared secret.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates an HS256 signer from a shared secret.
func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, NewKeyManagementError("signing secret is empty")
	}
	return &HMACSigner{secret: secret}, nil
}

func (s *HMACSigner) Algorithm() Algorithm { return AlgorithmHS256 }

// Sign returns the hex-encoded HMAC-SHA256 of the canonical payload.
func (s *HMACSigner) Sign(canonical []byte) (string, error) {
	if len(canonical) == 0 {
		return "", NewValidationError("canonical payload is empty")
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the expected proof value and compares it in constant time.
func (s *HMACSigner) Verify(canonical []byte, value string) error {
	expected, err := s.Sign(canonical)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(value)) {
		return NewSignatureError("proof value does not match payload")
	}
	return nil
}

// Ed25519Signer signs canonical payloads as JWS compact serializations
// using an Ed25519 private key.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyID      string
}

// NewEd25519Signer creates an EdDSA signer.
// The keyID is included as the kid in the JWS protected header so that
// verifiers can locate the issuer's public key.
func NewEd25519Signer(privateKey ed25519.PrivateKey, keyID string) (*Ed25519Signer, error) {
	if privateKey == nil {
		return nil, NewKeyManagementError("private key is nil")
	}
	if keyID == "" {
		return nil, NewKeyManagementError("keyID is required")
	}
	return &Ed25519Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		keyID:      keyID,
	}, nil
}

// NewEd25519Verifier creates a verify-only EdDSA signer from a public key.
// Sign is not available on a verify-only signer.
func NewEd25519Verifier(publicKey ed25519.PublicKey, keyID string) (*Ed25519Signer, error) {
	if publicKey == nil {
		return nil, NewKeyManagementError("public key is nil")
	}
	return &Ed25519Signer{publicKey: publicKey, keyID: keyID}, nil
}

func (s *Ed25519Signer) Algorithm() Algorithm { return AlgorithmEdDSA }

// KeyID returns the kid included in the JWS protected header.
func (s *Ed25519Signer) KeyID() string { return s.keyID }

// PublicKey returns the verification key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.publicKey }

// Sign returns a JWS compact serialization of the canonical payload.
func (s *Ed25519Signer) Sign(canonical []byte) (string, error) {
	if len(canonical) == 0 {
		return "", NewValidationError("canonical payload is empty")
	}
	if s.privateKey == nil {
		return "", NewKeyManagementError("signer has no private key (verify-only)")
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, s.keyID); err != nil {
		return "", WrapInternalError(err, "failed to set kid header")
	}

	signed, err := jws.Sign(canonical, jws.WithKey(jwa.EdDSA(), s.privateKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", WrapSignatureError(err, "failed to sign payload")
	}

	return string(signed), nil
}

// Verify checks the JWS signature and confirms the signed payload is
// byte-identical to the supplied canonical payload.
func (s *Ed25519Signer) Verify(canonical []byte, value string) error {
	payload, err := jws.Verify([]byte(value), jws.WithKey(jwa.EdDSA(), s.publicKey))
	if err != nil {
		return WrapSignatureError(err, "JWS verification failed")
	}

	if !bytes.Equal(payload, canonical) {
		return NewSignatureError("signed payload does not match credential")
	}

	return nil
}

// KeyProviderVerifier is a verify-only EdDSA signer that resolves the
// verification key through a jws.KeyProvider. The jws library passes the
// proof's protected headers to the provider, which looks the key up by kid.
type KeyProviderVerifier struct {
	provider jws.KeyProvider
}

// NewKeyProviderVerifier creates a verify-only EdDSA signer backed by a
// key provider (typically a trust registry key manager).
func NewKeyProviderVerifier(provider jws.KeyProvider) (*KeyProviderVerifier, error) {
	if provider == nil {
		return nil, NewKeyManagementError("key provider is nil")
	}
	return &KeyProviderVerifier{provider: provider}, nil
}

func (v *KeyProviderVerifier) Algorithm() Algorithm { return AlgorithmEdDSA }

// Sign is not available: the verifier holds public keys only.
func (v *KeyProviderVerifier) Sign(canonical []byte) (string, error) {
	return "", NewKeyManagementError("key provider verifier cannot sign")
}

// Verify resolves the signing key by the kid in the JWS protected header
// and confirms the signed payload is byte-identical to the canonical payload.
func (v *KeyProviderVerifier) Verify(canonical []byte, value string) error {
	payload, err := jws.Verify([]byte(value), jws.WithKeyProvider(v.provider))
	if err != nil {
		return WrapSignatureError(err, "JWS verification failed")
	}

	if !bytes.Equal(payload, canonical) {
		return NewSignatureError("signed payload does not match credential")
	}

	return nil
}

// JWSKeyID extracts the kid from the protected header of a compact JWS
// without verifying the signature.
func JWSKeyID(value string) (string, error) {
	msg, err := jws.Parse([]byte(value))
	if err != nil {
		return "", WrapSignatureError(err, "failed to parse JWS")
	}

	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return "", NewSignatureError("JWS carries no signatures")
	}

	kid, ok := sigs[0].ProtectedHeaders().KeyID()
	if !ok || kid == "" {
		return "", NewSignatureError("JWS protected header carries no kid")
	}

	return kid, nil
}
