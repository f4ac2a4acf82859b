package cli

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openrx-networks/rxcred/internal/crypto"
)

// keygenCmd generates an Ed25519 signing key pair.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 key pair for credential signing",
	Long: `Generate a new Ed25519 key pair for signing prescription credentials.

The private key is used by the issuing service to sign credentials.
The public key is published via the JWKS endpoint so verifiers can
validate EdDSA proofs. Both keys are written as JWK files and the key ID
is the RFC 7638 thumbprint of the public key.

Example:
  rxcred keygen --output ./keys/issuer-key`,
	RunE: runKeygen,
}

var keygenOutputPath string

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keygenOutputPath, "output", "./keys/issuer-key", "Output path prefix for key files")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		return err
	}

	keyID, err := crypto.Thumbprint(privateKey)
	if err != nil {
		return err
	}

	dir := filepath.Dir(keygenOutputPath)
	base := filepath.Base(keygenOutputPath)

	if err := crypto.SaveEd25519PrivateKeyToJWKFile(privateKey, keyID, dir, base+".jwk"); err != nil {
		return err
	}
	if err := crypto.SaveEd25519PublicKeyToJWKFile(privateKey.Public().(ed25519.PublicKey), keyID, dir, base+".pub.jwk"); err != nil {
		return err
	}

	appLogger.Info("key pair generated",
		slog.String("key_id", keyID),
		slog.String("private_key", filepath.Join(dir, base+".jwk")),
		slog.String("public_key", filepath.Join(dir, base+".pub.jwk")))

	fmt.Printf("key id: %s\nprivate key: %s\npublic key: %s\n",
		keyID, filepath.Join(dir, base+".jwk"), filepath.Join(dir, base+".pub.jwk"))
	fmt.Println("keep the private key secure and out of version control")

	return nil
}
