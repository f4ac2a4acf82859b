package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

// Environment variables with defaults
type ServerEnvironment struct {

	// http server settings
	Environment           string        `env:"ENVIRONMENT,default=dev"`
	Host                  string        `env:"HOST,default=0.0.0.0"`
	Port                  int           `env:"PORT,default=8080"`
	LogLevel              string        `env:"LOG_LEVEL,default=debug"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=15s"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	RateLimitRPS          int32         `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst        int32         `env:"RATE_LIMIT_BURST,default=200"`
	MaxRequestBodyBytes   int64         `env:"MAX_REQUEST_BODY_BYTES,default=1048576"`

	// database settings
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS,default=4"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS,default=0"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME,default=60m"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME,default=30m"`
	DBConnectTimeout    time.Duration `env:"DB_CONNECT_TIMEOUT,default=5s"`
	DatabasePingTimeout time.Duration `env:"DATABASE_PING_TIMEOUT,default=10s"`

	// issuer key cache settings
	SkipJWKCache        bool          `env:"SKIP_JWK_CACHE,default=false"`
	JWKCacheMinRefresh  time.Duration `env:"JWK_CACHE_MIN_REFRESH,default=10m"`
	JWKCacheMaxRefresh  time.Duration `env:"JWK_CACHE_MAX_REFRESH,default=12h"`
	JWKCacheHTTPTimeout time.Duration `env:"JWK_CACHE_HTTP_TIMEOUT,default=30s"`

	// signing settings
	// SignerAlgorithm selects the proof algorithm: "HS256" (shared secret,
	// demo grade) or "EdDSA" (Ed25519 JWS).
	SignerAlgorithm string `env:"SIGNER_ALGORITHM,default=HS256"`

	// SigningSecret is the shared secret used by the HS256 signer.
	// Required when SIGNER_ALGORITHM=HS256.
	SigningSecret string `env:"SIGNING_SECRET"`

	// SigningKeyPath is the Ed25519 private key (JWK file) used by the EdDSA signer.
	// Required when SIGNER_ALGORITHM=EdDSA.
	SigningKeyPath string `env:"SIGNING_KEY_PATH"`

	// Required configuration - must be set by environment variables
	IssuerRegistryPath string `env:"ISSUER_REGISTRY_PATH,required=true"`
	ManualKeysDir      string `env:"MANUAL_KEYS_DIR"`
	IssuerID           string `env:"ISSUER_ID,required=true"`
	DatabaseURL        string `env:"DATABASE_URL,required=true"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

// NewServerConfig loads environment variables and returns a ServerEnvironment struct that contains the values
func NewServerConfig() (*ServerEnvironment, error) {
	var cfg ServerEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig checks for required env variables
func validateConfig(cfg *ServerEnvironment) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}

	// Validate database pool configuration
	if cfg.DBMaxConnections < 1 {
		return fmt.Errorf("DB_MAX_CONNECTIONS must be at least 1")
	}
	if cfg.DBMinConnections < 0 {
		return fmt.Errorf("DB_MIN_CONNECTIONS must be 0 or greater")
	}
	if cfg.DBMinConnections > cfg.DBMaxConnections {
		return fmt.Errorf("DB_MIN_CONNECTIONS (%d) cannot be greater than DB_MAX_CONNECTIONS (%d)",
			cfg.DBMinConnections, cfg.DBMaxConnections)
	}

	return ValidateSigner(cfg.SignerAlgorithm, cfg.SigningSecret, cfg.SigningKeyPath)
}

// ValidateSigner checks the signer settings shared by the server and the
// CLI subcommands that sign or verify.
func ValidateSigner(algorithm, secret, keyPath string) error {
	switch algorithm {
	case "HS256":
		if secret == "" {
			return fmt.Errorf("SIGNING_SECRET is required when SIGNER_ALGORITHM=HS256")
		}
	case "EdDSA":
		if keyPath == "" {
			return fmt.Errorf("SIGNING_KEY_PATH is required when SIGNER_ALGORITHM=EdDSA")
		}
	default:
		return fmt.Errorf("invalid SIGNER_ALGORITHM: %s (must be HS256 or EdDSA)", algorithm)
	}
	return nil
}

// CLIEnvironment is the subset of settings the offline CLI needs.
// The CLI never opens the database or the HTTP listener, so none of the
// server-only variables are required to run it.
type CLIEnvironment struct {
	Environment string `env:"ENVIRONMENT,default=dev"`
	LogLevel    string `env:"LOG_LEVEL,default=debug"`

	SignerAlgorithm string `env:"SIGNER_ALGORITHM,default=HS256"`
	SigningSecret   string `env:"SIGNING_SECRET"`
	SigningKeyPath  string `env:"SIGNING_KEY_PATH"`

	// IssuerRegistryPath is only consulted by the verify subcommand.
	IssuerRegistryPath string `env:"ISSUER_REGISTRY_PATH"`
}

// NewCLIConfig loads environment variables for the offline CLI.
//
// Signer settings are not validated here: keygen needs none of them, so
// the issue and verify subcommands validate them with ValidateSigner.
func NewCLIConfig() (*CLIEnvironment, error) {
	var cfg CLIEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if !validEnvs[cfg.Environment] {
		return nil, fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}
	return &cfg, nil
}
