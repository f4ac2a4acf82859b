// keygen is a CLI tool for generating issuer JWK files for testing and
// manual key configuration.
package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	rxcrypto "github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/version"
)

// file naming convention - issuer.public.jwk and issuer.private.jwk
const (
	publicKeyFileNameFormat  = "%s.public.jwk"
	privateKeyFileNameFormat = "%s.private.jwk"
)

var (
	issuerID  string
	outputDir string
	kid       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "keygen",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Short:             "JWK key generator for prescription issuers",
		Long:              "Generate Ed25519 key pairs in JWK format for issuer signing and manual key configuration",
	}

	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key pair",
		Long:  "Generate a new Ed25519 key pair for an issuer in JWK format",
		RunE:  runGenerate,
	}

	generateCmd.Flags().StringVarP(&issuerID, "issuer", "i", "", "Issuer ID (e.g., nhs-trust-001) [required]")
	generateCmd.Flags().StringVarP(&outputDir, "outputdir", "o", "", "Output directory for generated keys [required]")
	generateCmd.Flags().StringVarP(&kid, "kid", "k", "", "Key ID (default: auto-generated from thumbprint)")
	_ = generateCmd.MarkFlagRequired("issuer")
	_ = generateCmd.MarkFlagRequired("outputdir")

	rootCmd.AddCommand(generateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	privateKey, err := rxcrypto.GenerateEd25519KeyPair()
	if err != nil {
		return err
	}

	keyID := kid
	if keyID == "" {
		keyID, err = rxcrypto.Thumbprint(privateKey)
		if err != nil {
			return err
		}
	}

	privateFile := fmt.Sprintf(privateKeyFileNameFormat, issuerID)
	publicFile := fmt.Sprintf(publicKeyFileNameFormat, issuerID)

	if err := rxcrypto.SaveEd25519PrivateKeyToJWKFile(privateKey, keyID, outputDir, privateFile); err != nil {
		return err
	}
	if err := rxcrypto.SaveEd25519PublicKeyToJWKFile(privateKey.Public().(ed25519.PublicKey), keyID, outputDir, publicFile); err != nil {
		return err
	}

	fmt.Printf("generated Ed25519 key pair for issuer %s\n", issuerID)
	fmt.Printf("  key id:      %s\n", keyID)
	fmt.Printf("  private key: %s\n", filepath.Join(outputDir, privateFile))
	fmt.Printf("  public key:  %s\n", filepath.Join(outputDir, publicFile))
	fmt.Println("keep the private key secure and out of version control")

	return nil
}
