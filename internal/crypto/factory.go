package crypto

import (
	"path/filepath"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// NewSignerFromSettings builds the configured proof signer.
//
// HS256 signs with the shared secret. EdDSA loads the Ed25519 private key
// from the JWK file at signingKeyPath and additionally returns the public
// key as a JWK for publication at the JWKS endpoint (nil for HS256 - a
// shared secret is never published).
func NewSignerFromSettings(algorithm Algorithm, hmacSecret, signingKeyPath string) (Signer, jwk.Key, error) {
	switch algorithm {
	case AlgorithmHS256:
		signer, err := NewHMACSigner([]byte(hmacSecret))
		if err != nil {
			return nil, nil, err
		}
		return signer, nil, nil

	case AlgorithmEdDSA:
		if signingKeyPath == "" {
			return nil, nil, NewKeyManagementError("SIGNING_KEY_PATH is required for EdDSA signing")
		}

		privateKey, err := ReadEd25519PrivateKeyFromJWKFile(filepath.Dir(signingKeyPath), filepath.Base(signingKeyPath))
		if err != nil {
			return nil, nil, err
		}

		keyID, err := Thumbprint(privateKey)
		if err != nil {
			return nil, nil, err
		}

		signer, err := NewEd25519Signer(privateKey, keyID)
		if err != nil {
			return nil, nil, err
		}

		publicJWK, err := Ed25519PublicKeyToJWK(signer.PublicKey(), keyID)
		if err != nil {
			return nil, nil, err
		}

		return signer, publicJWK, nil

	default:
		return nil, nil, NewKeyManagementError("unsupported signing algorithm: " + string(algorithm))
	}
}
