package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openrx-networks/rxcred/internal/config"
	"github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// issueCmd signs a credential file and writes the signed result.
var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a prescription credential file",
	Long: `Sign a prescription credential described in a JSON file.

The credential is canonicalized (RFC 8785) and signed with the configured
algorithm. The output is the credential plus its proof, ready to be embedded
in a QR code or presented to a verifier.

Example:
  rxcred issue --credential ./prescription.json --output ./signed.json`,
	RunE: runIssue,
}

var (
	issueCredentialPath string
	issueOutputPath     string
)

func init() {
	issueCmd.Flags().StringVar(&issueCredentialPath, "credential", "", "Path to the credential JSON file (required)")
	issueCmd.Flags().StringVar(&issueOutputPath, "output", "", "Output path for the signed credential (default stdout)")
	_ = issueCmd.MarkFlagRequired("credential")
}

// signedCredential is the CLI output format: the credential and its proof.
type signedCredential struct {
	Credential rx.Credential `json:"credential"`
	Proof      rx.Proof      `json:"proof"`
}

func runIssue(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(issueCredentialPath)
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}

	var credential rx.Credential
	if err := json.Unmarshal(data, &credential); err != nil {
		return fmt.Errorf("failed to parse credential file: %w", err)
	}

	now := time.Now().UTC()
	if credential.ID == "" {
		credential.ID = uuid.New().String()
	}
	if credential.IssuedAt == "" {
		credential.IssuedAt = now.Format(time.RFC3339)
	}

	if err := config.ValidateSigner(cfg.SignerAlgorithm, cfg.SigningSecret, cfg.SigningKeyPath); err != nil {
		return err
	}
	signer, _, err := crypto.NewSignerFromSettings(
		crypto.Algorithm(cfg.SignerAlgorithm), cfg.SigningSecret, cfg.SigningKeyPath)
	if err != nil {
		return err
	}

	proof, err := rx.SignCredential(&credential, signer, now)
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(signedCredential{Credential: credential, Proof: *proof}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal signed credential: %w", err)
	}

	if issueOutputPath == "" {
		fmt.Println(string(output))
	} else {
		if err := os.WriteFile(issueOutputPath, output, 0600); err != nil {
			return fmt.Errorf("failed to write signed credential: %w", err)
		}
		appLogger.Info("signed credential written",
			slog.String("id", credential.ID),
			slog.String("algorithm", proof.Algorithm),
			slog.String("output", issueOutputPath))
	}

	return nil
}
