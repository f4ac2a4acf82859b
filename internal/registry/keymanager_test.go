package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jws"

	"github.com/openrx-networks/rxcred/internal/crypto"
)

// newManualKey generates an Ed25519 key pair and writes the public half to
// dir as a single-key JWK file named after the issuer. Returns the private
// key and its thumbprint kid.
func newManualKey(t *testing.T, dir, filename string) (ed25519.PrivateKey, string) {
	t.Helper()

	privateKey, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}
	keyID, err := crypto.Thumbprint(privateKey)
	if err != nil {
		t.Fatalf("Thumbprint() error: %v", err)
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	if err := crypto.SaveEd25519PublicKeyToJWKFile(publicKey, keyID, dir, filename); err != nil {
		t.Fatalf("SaveEd25519PublicKeyToJWKFile() error: %v", err)
	}

	return privateKey, keyID
}

func newTestKeyManager(t *testing.T, reg *Registry, keysDir string) *KeyManager {
	t.Helper()

	km, err := NewKeyManager(context.Background(), reg, &KeyManagerConfig{
		ManualKeysDir: keysDir,
		HTTPTimeout:   30 * time.Second,
		SkipJWKCache:  true,
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewKeyManager() error: %v", err)
	}
	return km
}

func TestKeyManagerLoadManualKeys(t *testing.T) {
	keysDir := t.TempDir()
	privateKey, keyID := newManualKey(t, keysDir, "issuer-a.public.jwk")

	// Files the loader must skip without failing startup: a non-JWK file,
	// a key without a kid, and a key whose kid no registry entry claims.
	if err := os.WriteFile(filepath.Join(keysDir, "README.txt"), []byte("not a key"), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	noKid := `{"keys":[{"crv":"Ed25519","kty":"OKP","use":"sig","x":"11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo"}]}`
	if err := os.WriteFile(filepath.Join(keysDir, "no-kid.jwks.json"), []byte(noKid), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	_, unclaimedKid := newManualKey(t, keysDir, "unclaimed.public.jwk")

	reg := New(
		&TrustedIssuer{IssuerID: "issuer-a", Name: "Issuer A", Status: IssuerStatusTrusted, ManualKeyID: keyID},
	)
	km := newTestKeyManager(t, reg, keysDir)

	issuerID, err := km.LookupIssuerByKeyID(context.Background(), keyID)
	if err != nil {
		t.Fatalf("LookupIssuerByKeyID() error: %v", err)
	}
	if issuerID != "issuer-a" {
		t.Errorf("LookupIssuerByKeyID() = %s, want issuer-a", issuerID)
	}

	publicKey, gotKid, err := km.PublicKeyForIssuer(context.Background(), "issuer-a")
	if err != nil {
		t.Fatalf("PublicKeyForIssuer() error: %v", err)
	}
	if gotKid != keyID {
		t.Errorf("PublicKeyForIssuer() kid = %s, want %s", gotKid, keyID)
	}
	if !publicKey.Equal(privateKey.Public().(ed25519.PublicKey)) {
		t.Error("PublicKeyForIssuer() returned a different key than was distributed")
	}

	// The unclaimed key must not be attributable to any issuer.
	if _, err := km.LookupIssuerByKeyID(context.Background(), unclaimedKid); err == nil {
		t.Error("LookupIssuerByKeyID() accepted a kid no registry entry claims")
	}
}

func TestKeyManagerRejectsMultiKeyFiles(t *testing.T) {
	keysDir := t.TempDir()

	// A manual key file must hold exactly one key. Rotation goes through a
	// JWKS endpoint instead.
	multiKey := `{
  "keys": [
    {
      "alg": "EdDSA",
      "crv": "Ed25519",
      "kid": "key-old-2024",
      "kty": "OKP",
      "use": "sig",
      "x": "BPYmiGbFLpPaNvNr_kXcDjRy65JWnfpixGxpuEISFrs"
    },
    {
      "alg": "EdDSA",
      "crv": "Ed25519",
      "kid": "key-new-2025",
      "kty": "OKP",
      "use": "sig",
      "x": "11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo"
    }
  ]
}`
	if err := os.WriteFile(filepath.Join(keysDir, "multi-key.jwks.json"), []byte(multiKey), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	reg := New(
		&TrustedIssuer{IssuerID: "issuer-legacy", Name: "Legacy", Status: IssuerStatusTrusted, ManualKeyID: "key-old-2024"},
	)
	km := newTestKeyManager(t, reg, keysDir)

	if _, err := km.LookupIssuerByKeyID(context.Background(), "key-old-2024"); err == nil {
		t.Error("LookupIssuerByKeyID() resolved a kid from a rejected multi-key file")
	}
	if _, _, err := km.PublicKeyForIssuer(context.Background(), "issuer-legacy"); err == nil {
		t.Error("PublicKeyForIssuer() returned a key from a rejected multi-key file")
	}
}

func TestKeyManagerPublicKeyForIssuerErrors(t *testing.T) {
	keysDir := t.TempDir()
	_, keyID := newManualKey(t, keysDir, "issuer-a.public.jwk")

	reg := New(
		&TrustedIssuer{IssuerID: "issuer-a", Name: "Issuer A", Status: IssuerStatusTrusted, ManualKeyID: keyID},
		&TrustedIssuer{IssuerID: "issuer-b", Name: "Issuer B", Status: IssuerStatusTrusted, ManualKeyID: "kid-never-distributed"},
	)
	km := newTestKeyManager(t, reg, keysDir)

	if _, _, err := km.PublicKeyForIssuer(context.Background(), "issuer-b"); err == nil {
		t.Error("PublicKeyForIssuer() succeeded for an issuer whose key was never distributed")
	}
	if _, _, err := km.PublicKeyForIssuer(context.Background(), "issuer-unknown"); err == nil {
		t.Error("PublicKeyForIssuer() succeeded for an issuer not in the registry")
	}
	if _, err := km.LookupIssuerByKeyID(context.Background(), ""); err == nil {
		t.Error("LookupIssuerByKeyID() accepted an empty kid")
	}
}

// TestKeyManagerAsJWSKeyProvider exercises FetchKeys the way the jws library
// drives it: jws.Verify with the key manager as key provider resolves the
// signing key from the kid in the protected header.
func TestKeyManagerAsJWSKeyProvider(t *testing.T) {
	keysDir := t.TempDir()
	privateKey, keyID := newManualKey(t, keysDir, "issuer-a.public.jwk")

	reg := New(
		&TrustedIssuer{IssuerID: "issuer-a", Name: "Issuer A", Status: IssuerStatusTrusted, ManualKeyID: keyID},
	)
	km := newTestKeyManager(t, reg, keysDir)

	signer, err := crypto.NewEd25519Signer(privateKey, keyID)
	if err != nil {
		t.Fatalf("NewEd25519Signer() error: %v", err)
	}

	payload := []byte(`{"id":"rx-1"}`)
	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	verified, err := jws.Verify([]byte(signed), jws.WithKeyProvider(km))
	if err != nil {
		t.Fatalf("jws.Verify() with key provider error: %v", err)
	}
	if !bytes.Equal(verified, payload) {
		t.Errorf("verified payload = %s, want %s", verified, payload)
	}

	// A proof signed under a kid the manager never loaded must not verify.
	strangerKey, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}
	strangerSigner, err := crypto.NewEd25519Signer(strangerKey, "kid-stranger")
	if err != nil {
		t.Fatalf("NewEd25519Signer() error: %v", err)
	}
	strangerSigned, err := strangerSigner.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if _, err := jws.Verify([]byte(strangerSigned), jws.WithKeyProvider(km)); err == nil {
		t.Error("jws.Verify() accepted a signature under an unknown kid")
	}
}

func TestNewKeyManagerValidation(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	reg := New()

	if _, err := NewKeyManager(context.Background(), nil, &KeyManagerConfig{HTTPTimeout: time.Second, SkipJWKCache: true}, logger); err == nil {
		t.Error("NewKeyManager() accepted a nil registry")
	}
	if _, err := NewKeyManager(context.Background(), reg, &KeyManagerConfig{SkipJWKCache: true}, logger); err == nil {
		t.Error("NewKeyManager() accepted a zero HTTPTimeout")
	}
	if _, err := NewKeyManager(context.Background(), reg, &KeyManagerConfig{
		ManualKeysDir: filepath.Join(t.TempDir(), "does-not-exist"),
		HTTPTimeout:   time.Second,
		SkipJWKCache:  true,
	}, logger); err == nil {
		t.Error("NewKeyManager() accepted a missing manual keys directory")
	}
}
