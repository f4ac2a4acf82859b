package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/openrx-networks/rxcred/internal/config"
	"github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/engine"
	"github.com/openrx-networks/rxcred/internal/logger"
	"github.com/openrx-networks/rxcred/internal/registry"
	"github.com/openrx-networks/rxcred/internal/server"
	"github.com/openrx-networks/rxcred/internal/store"
	"github.com/openrx-networks/rxcred/internal/version"
)

//	@title			rxcred-server
//	@description	rxcred-server issues, verifies and manages the lifecycle of signed prescription credentials
//	@description
//	@description	## Common Error Responses
//	@description	All endpoints may return:
//	@description	- `413` Request body exceeds size limit
//	@description	- `429` Rate limit exceeded
//	@description	- `500` Internal server error
//	@description
//	@description	Individual endpoints document their specific business logic errors.
//	@description
//	@description	## Request Limits
//	@description	All endpoints are protected by:
//	@description	- **Rate limiting**: Configurable requests per second (see env vars) - default 100 rps (set to 0 to disable)
//	@description	- **Request size limits**: Configurable (see env vars) - default 1MB
//	@description
//	@license.name	MIT

//	@accept		json
//	@produce	json

func main() {
	cmd := &cobra.Command{
		Use:   "rxcred-server",
		Short: "Prescription credential service",
		Long:  `rxcred-server issues signed prescription credentials and manages their lifecycle`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	v := version.Get()
	cmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewServerConfig()
	if err != nil {
		log.Printf("failed to load configuration: %v", err.Error())
		os.Exit(1)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	appLogger.Info("Configuration loaded",
		slog.String("ENVIRONMENT", cfg.Environment),
		slog.String("HOST", cfg.Host),
		slog.Int("PORT", cfg.Port),
		slog.String("LOG_LEVEL", cfg.LogLevel),
		slog.String("SIGNER_ALGORITHM", cfg.SignerAlgorithm),
		slog.String("ISSUER_REGISTRY_PATH", cfg.IssuerRegistryPath),
		slog.String("MANUAL_KEYS_DIR", cfg.ManualKeysDir),
		slog.String("ISSUER_ID", cfg.IssuerID),
	)

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		appLogger.Error("Failed to run database migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), cfg.DatabasePingTimeout)
	defer dbCancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		appLogger.Error("Failed to parse database URL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	poolConfig.MaxConns = cfg.DBMaxConnections
	poolConfig.MinConns = cfg.DBMinConnections
	poolConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout

	pool, err := pgxpool.NewWithConfig(dbCtx, poolConfig)
	if err != nil {
		appLogger.Error("Unable to create connection pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err = pool.Ping(dbCtx); err != nil {
		appLogger.Error("Error pinging database via pool", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("connected to PostgreSQL")

	issuerRegistry, err := registry.Load(cfg.IssuerRegistryPath)
	if err != nil {
		appLogger.Error("Failed to load issuer registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	signer, signingJWK, err := crypto.NewSignerFromSettings(
		crypto.Algorithm(cfg.SignerAlgorithm), cfg.SigningSecret, cfg.SigningKeyPath)
	if err != nil {
		appLogger.Error("Failed to initialize signer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the key manager's JWK cache refreshes in the background for as long as
	// this context lives
	keyManager, err := registry.NewKeyManager(ctx, issuerRegistry, &registry.KeyManagerConfig{
		ManualKeysDir:              cfg.ManualKeysDir,
		HTTPTimeout:                cfg.JWKCacheHTTPTimeout,
		SkipJWKCache:               cfg.SkipJWKCache,
		JWKCacheMinRefreshInterval: cfg.JWKCacheMinRefresh,
		JWKCacheMaxRefreshInterval: cfg.JWKCacheMaxRefresh,
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize key manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	eng := engine.New(store.NewPostgresStore(pool), signer, issuerRegistry, appLogger).
		WithKeyManager(keyManager)

	appLogger.Info("Starting server", slog.String("version", version.Get().Version))

	srv := server.NewServer(eng, cfg, appLogger, signingJWK)

	if err := srv.Start(ctx); err != nil {
		appLogger.Error("Server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}
