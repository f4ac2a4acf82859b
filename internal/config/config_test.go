package config

import (
	"os"
	"strings"
	"testing"
)

// clearEnv unsets a variable for the duration of the test while restoring
// any outer value afterwards.
func clearEnv(t *testing.T, name string) {
	t.Helper()
	t.Setenv(name, "")
	os.Unsetenv(name)
}

func TestNewCLIConfigWithoutServerVariables(t *testing.T) {
	// The offline CLI must start without the database, issuer and signer
	// settings the HTTP service requires.
	for _, name := range []string{
		"DATABASE_URL", "ISSUER_ID", "ISSUER_REGISTRY_PATH",
		"SIGNING_SECRET", "SIGNING_KEY_PATH",
	} {
		clearEnv(t, name)
	}
	t.Setenv("ENVIRONMENT", "test")

	cfg, err := NewCLIConfig()
	if err != nil {
		t.Fatalf("NewCLIConfig() error: %v", err)
	}
	if cfg.SignerAlgorithm != "HS256" {
		t.Errorf("SignerAlgorithm = %s, want default HS256", cfg.SignerAlgorithm)
	}
	if cfg.Environment != "test" {
		t.Errorf("Environment = %s, want test", cfg.Environment)
	}
}

func TestNewCLIConfigRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production-ish")

	if _, err := NewCLIConfig(); err == nil {
		t.Error("NewCLIConfig() accepted an invalid ENVIRONMENT")
	}
}

func TestValidateSigner(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		secret    string
		keyPath   string
		wantErr   string
	}{
		{"HS256 with secret", "HS256", "s3cret", "", ""},
		{"HS256 without secret", "HS256", "", "", "SIGNING_SECRET"},
		{"EdDSA with key path", "EdDSA", "", "./keys/issuer.private.jwk", ""},
		{"EdDSA without key path", "EdDSA", "", "", "SIGNING_KEY_PATH"},
		{"unknown algorithm", "RS512", "s3cret", "", "SIGNER_ALGORITHM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSigner(tt.algorithm, tt.secret, tt.keyPath)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateSigner() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateSigner() = nil, want error mentioning %s", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
