package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrx-networks/rxcred/internal/config"
	"github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/registry"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// verifyCmd checks a signed credential file against the issuer registry.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a signed prescription credential file",
	Long: `Verify a signed credential file offline.

The proof, issuer trust status and validity window are checked against the
local issuer registry. Revocation state is not checked offline - present the
credential to a connected verifier for the full check.

Exits non-zero when the credential does not verify as VALID.

Example:
  rxcred verify --file ./signed.json
  rxcred verify --file ./signed.json --issuer-key ./keys/issuer.public.jwk`,
	RunE: runVerify,
}

var (
	verifyFilePath      string
	verifyIssuerKeyPath string
)

func init() {
	verifyCmd.Flags().StringVar(&verifyFilePath, "file", "", "Path to the signed credential JSON file (required)")
	verifyCmd.Flags().StringVar(&verifyIssuerKeyPath, "issuer-key", "", "Path to the issuer's public key (JWK file) for EdDSA proofs")
	_ = verifyCmd.MarkFlagRequired("file")
}

// verifySigner builds the proof verifier. With --issuer-key the issuer's
// public JWK is enough; otherwise the configured signer settings are used.
func verifySigner() (crypto.Signer, error) {
	if verifyIssuerKeyPath != "" {
		publicKey, err := crypto.ReadEd25519PublicKeyFromJWKFile(
			filepath.Dir(verifyIssuerKeyPath), filepath.Base(verifyIssuerKeyPath))
		if err != nil {
			return nil, err
		}
		return crypto.NewEd25519Verifier(publicKey, "")
	}

	if err := config.ValidateSigner(cfg.SignerAlgorithm, cfg.SigningSecret, cfg.SigningKeyPath); err != nil {
		return nil, err
	}
	signer, _, err := crypto.NewSignerFromSettings(
		crypto.Algorithm(cfg.SignerAlgorithm), cfg.SigningSecret, cfg.SigningKeyPath)
	return signer, err
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(verifyFilePath)
	if err != nil {
		return fmt.Errorf("failed to read signed credential file: %w", err)
	}

	var signed signedCredential
	if err := json.Unmarshal(data, &signed); err != nil {
		return fmt.Errorf("failed to parse signed credential file: %w", err)
	}

	if cfg.IssuerRegistryPath == "" {
		return fmt.Errorf("ISSUER_REGISTRY_PATH must be set to verify against an issuer registry")
	}
	issuerRegistry, err := registry.Load(cfg.IssuerRegistryPath)
	if err != nil {
		return err
	}

	signer, err := verifySigner()
	if err != nil {
		return err
	}

	verifier := rx.NewVerifier(signer, issuerRegistry)
	result := verifier.Verify(rx.VerificationInput{
		Credential: &signed.Credential,
		Proof:      &signed.Proof,
		Now:        time.Now().UTC(),
	})

	output, err := json.MarshalIndent(map[string]string{
		"status":             result.Status.String(),
		"detail":             result.Detail,
		"issuerStatus":       string(result.IssuerStatus),
		"credentialChecksum": result.CredentialChecksum,
		"checkedAt":          result.CheckedAt.Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal verification result: %w", err)
	}
	fmt.Println(string(output))

	if result.Status != rx.VerificationValid {
		return fmt.Errorf("credential verification failed: %s", result.Status)
	}
	return nil
}
