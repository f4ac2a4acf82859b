package crypto

import (
	"strings"
	"testing"
)

func TestHMACSignerRoundTrip(t *testing.T) {
	signer, err := NewHMACSigner([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewHMACSigner() error: %v", err)
	}

	canonical := []byte(`{"id":"rx-1","value":42}`)

	proof, err := signer.Sign(canonical)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if err := signer.Verify(canonical, proof); err != nil {
		t.Errorf("Verify() failed on untampered payload: %v", err)
	}
}

// signing the same bytes twice must produce the same value
func TestHMACSignerDeterministic(t *testing.T) {
	signer, err := NewHMACSigner([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewHMACSigner() error: %v", err)
	}

	canonical := []byte(`{"id":"rx-1"}`)

	first, err := signer.Sign(canonical)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	second, err := signer.Sign(canonical)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if first != second {
		t.Errorf("Sign() not deterministic: %q != %q", first, second)
	}
}

func TestHMACSignerDetectsTampering(t *testing.T) {
	signer, err := NewHMACSigner([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewHMACSigner() error: %v", err)
	}

	proof, err := signer.Sign([]byte(`{"quantity":30}`))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if err := signer.Verify([]byte(`{"quantity":300}`), proof); err == nil {
		t.Error("Verify() accepted a modified payload")
	}
}

func TestHMACSignerRejectsWrongSecret(t *testing.T) {
	signer, _ := NewHMACSigner([]byte("secret-a"))
	other, _ := NewHMACSigner([]byte("secret-b"))

	canonical := []byte(`{"id":"rx-1"}`)
	proof, err := signer.Sign(canonical)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if err := other.Verify(canonical, proof); err == nil {
		t.Error("Verify() accepted a proof made with a different secret")
	}
}

func TestNewHMACSignerRequiresSecret(t *testing.T) {
	if _, err := NewHMACSigner(nil); err == nil {
		t.Error("NewHMACSigner() accepted an empty secret")
	}
}

func TestEd25519SignerRoundTrip(t *testing.T) {
	privateKey, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error: %v", err)
	}

	signer, err := NewEd25519Signer(privateKey, "test-kid")
	if err != nil {
		t.Fatalf("NewEd25519Signer() error: %v", err)
	}

	canonical := []byte(`{"id":"rx-1","medications":[{"name":"Amoxicillin"}]}`)

	proof, err := signer.Sign(canonical)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	// JWS compact serialization has three dot-separated segments
	if strings.Count(proof, ".") != 2 {
		t.Errorf("Sign() did not return a JWS compact serialization: %q", proof)
	}

	if err := signer.Verify(canonical, proof); err != nil {
		t.Errorf("Verify() failed on untampered payload: %v", err)
	}
}

func TestEd25519VerifierRejectsWrongKey(t *testing.T) {
	signingKey, _ := GenerateEd25519KeyPair()
	otherKey, _ := GenerateEd25519KeyPair()

	signer, err := NewEd25519Signer(signingKey, "kid-a")
	if err != nil {
		t.Fatalf("NewEd25519Signer() error: %v", err)
	}

	canonical := []byte(`{"id":"rx-1"}`)
	proof, err := signer.Sign(canonical)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	wrongVerifier, err := NewEd25519Signer(otherKey, "kid-b")
	if err != nil {
		t.Fatalf("NewEd25519Signer() error: %v", err)
	}
	if err := wrongVerifier.Verify(canonical, proof); err == nil {
		t.Error("Verify() accepted a proof signed with a different key")
	}
}

func TestEd25519SignerDetectsPayloadMismatch(t *testing.T) {
	privateKey, _ := GenerateEd25519KeyPair()
	signer, err := NewEd25519Signer(privateKey, "test-kid")
	if err != nil {
		t.Fatalf("NewEd25519Signer() error: %v", err)
	}

	proof, err := signer.Sign([]byte(`{"quantity":30}`))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if err := signer.Verify([]byte(`{"quantity":31}`), proof); err == nil {
		t.Error("Verify() accepted a proof for different canonical bytes")
	}
}
