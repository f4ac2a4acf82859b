// keymanager.go handles discovering and caching the public keys used to
// verify EdDSA credential proofs.
//
// The keymanager supports two ways of configuring issuer public keys:
//   - JWKS endpoint: keys are fetched from the issuer's JWKS endpoint and
//     refreshed automatically in the background
//   - Manual key: single-key JWK files received out-of-band are loaded from
//     the configured directory at startup and not refreshed
//
// Keys are mapped to an issuer by looking up the kid in the issuer registry.
// Issuers not in the registry will not have their keys loaded, and their
// credentials will be rejected.
package registry

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// PublicKeyInfo contains a cached public key and its metadata.
type PublicKeyInfo struct {

	// Issuer is the registry entry this key belongs to.
	Issuer *TrustedIssuer

	// Key is the public key in JWK form.
	Key jwk.Key

	// KeyID is the kid of the public key. This implementation expects the
	// kid to be the JWK thumbprint of the key.
	KeyID string
}

// KeyManagerConfig holds configuration for the KeyManager.
type KeyManagerConfig struct {

	// ManualKeysDir is the directory containing manually configured keys.
	// Each file must contain exactly ONE key. For key rotation, use a JWKS
	// endpoint instead. Supported extensions: .jwk, .jwks, .jwks.json
	ManualKeysDir string

	// HTTPTimeout is the timeout for HTTP requests to fetch JWK sets.
	HTTPTimeout time.Duration

	// SkipJWKCache disables JWK cache initialization (useful for testing)
	SkipJWKCache bool

	// JWKCacheMinRefreshInterval is the minimum interval between JWK cache refreshes.
	JWKCacheMinRefreshInterval time.Duration

	// JWKCacheMaxRefreshInterval is the maximum interval between JWK cache refreshes.
	JWKCacheMaxRefreshInterval time.Duration
}

// KeyManager manages issuer public keys for proof verification.
//
// It implements the jws.KeyProvider interface so that EdDSA proofs can be
// verified with automatic kid-based key lookup.
type KeyManager struct {
	registry   *Registry
	manualKeys map[string]*PublicKeyInfo
	jwkCache   *jwk.Cache
	httpClient *http.Client
	logger     *slog.Logger
	config     *KeyManagerConfig

	// mu protects the manualKeys map (written at startup, read per request).
	mu sync.RWMutex
}

// NewKeyManager creates a KeyManager for the given registry and configuration.
func NewKeyManager(ctx context.Context, registry *Registry, config *KeyManagerConfig, logger *slog.Logger) (*KeyManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if config.HTTPTimeout == 0 {
		return nil, fmt.Errorf("HTTPTimeout is required")
	}

	km := &KeyManager{
		registry:   registry,
		manualKeys: make(map[string]*PublicKeyInfo),
		logger:     logger,
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
	}

	if config.ManualKeysDir != "" {
		if err := km.loadManualKeys(); err != nil {
			return nil, fmt.Errorf("failed to load manual keys: %w", err)
		}
		km.logger.Info("manual keys loaded", slog.Int("keys", len(km.manualKeys)))
	}

	if !config.SkipJWKCache {
		if err := km.initJWKCache(ctx); err != nil {
			return nil, fmt.Errorf("failed to init JWK cache: %w", err)
		}
		km.logger.Debug("JWK cache initialized")
	} else {
		km.logger.Info("JWK cache initialization skipped")
	}

	return km, nil
}

// loadManualKeys loads manually configured JWK public keys from the configured directory.
//
// Manual key files must contain one key; files with multiple keys are rejected.
func (k *KeyManager) loadManualKeys() error {
	k.logger.Info("loading manual keys", slog.String("dir", k.config.ManualKeysDir))

	info, err := os.Stat(k.config.ManualKeysDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("manual keys directory does not exist: %s", k.config.ManualKeysDir)
		}
		return fmt.Errorf("failed to stat manual keys directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("manual keys path is not a directory: %s", k.config.ManualKeysDir)
	}

	entries, err := os.ReadDir(k.config.ManualKeysDir)
	if err != nil {
		return fmt.Errorf("failed to read manual keys directory: %w", err)
	}

	root, err := os.OpenRoot(k.config.ManualKeysDir)
	if err != nil {
		return fmt.Errorf("failed to open manual keys directory: %w", err)
	}
	defer root.Close()

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()

		isJWKFile := strings.HasSuffix(filename, ".jwk") ||
			strings.HasSuffix(filename, ".jwks") ||
			strings.HasSuffix(filename, ".jwks.json")
		if !isJWKFile {
			k.logger.Debug("skipping non-JWK file", slog.String("file", filename))
			continue
		}

		data, err := root.ReadFile(filename)
		if err != nil {
			k.logger.Error("skipping: failed to read manual key file",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}

		keySet, err := jwk.Parse(data)
		if err != nil {
			k.logger.Error("skipping: failed to parse manual key data",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}

		if keySet.Len() == 0 {
			k.logger.Error("skipping: manual key file contains no keys",
				slog.String("file", filename))
			continue
		}
		if keySet.Len() > 1 {
			k.logger.Error("skipping: manual key file contains multiple keys",
				slog.String("file", filename),
				slog.Int("key_count", keySet.Len()),
				slog.String("hint", "only single key files are supported for manual configuration - use a JWKS endpoint for key rotation"))
			continue
		}

		key, _ := keySet.Key(0)

		keyID, ok := key.KeyID()
		if !ok || keyID == "" {
			k.logger.Error("skipping: manual key missing kid",
				slog.String("file", filename))
			continue
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			k.logger.Error("skipping: failed to export manual key",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}

		if _, ok := raw.(ed25519.PublicKey); !ok {
			k.logger.Warn("skipping: file does not contain an Ed25519 public key",
				slog.String("file", filename),
				slog.String("key_type", fmt.Sprintf("%T", raw)))
			continue
		}

		// find the registry entry with a matching manual key id
		var issuer *TrustedIssuer
		for _, candidate := range k.registry.Issuers() {
			if candidate.ManualKeyID == keyID {
				issuer = candidate
				break
			}
		}
		if issuer == nil {
			k.logger.Warn("skipping: kid not found in the issuer registry",
				slog.String("file", filename),
				slog.String("kid", keyID))
			continue
		}

		k.manualKeys[keyID] = &PublicKeyInfo{
			Issuer: issuer,
			Key:    key,
			KeyID:  keyID,
		}

		k.logger.Info("public key loaded to keymanager",
			slog.String("file", filename),
			slog.String("issuer", issuer.IssuerID),
			slog.String("kid", keyID))
	}

	return nil
}

// initJWKCache initializes the JWK cache and registers all issuer JWKS endpoints.
// The cache automatically fetches and refreshes JWK sets in the background.
func (k *KeyManager) initJWKCache(ctx context.Context) error {
	client := httprc.NewClient()

	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to create JWK cache: %w", err)
	}
	k.jwkCache = cache

	successCount := 0

	for _, issuer := range k.registry.Issuers() {
		if issuer.JWKSEndpoint == "" {
			k.logger.Debug("no JWKS endpoint configured for issuer - skipping",
				slog.String("issuer", issuer.IssuerID))
			continue
		}

		err := k.jwkCache.Register(ctx, issuer.JWKSEndpoint,
			jwk.WithMinInterval(k.config.JWKCacheMinRefreshInterval),
			jwk.WithMaxInterval(k.config.JWKCacheMaxRefreshInterval),
			jwk.WithWaitReady(false), // Don't block startup - fetch in background
		)
		if err != nil {
			k.logger.Warn("failed to register JWKS endpoint",
				slog.String("issuer", issuer.IssuerID),
				slog.String("jwks_url", issuer.JWKSEndpoint),
				slog.String("error", err.Error()))
			continue
		}

		successCount++
		k.logger.Info("registered JWKS endpoint for background fetch",
			slog.String("issuer", issuer.IssuerID),
			slog.String("jwks_url", issuer.JWKSEndpoint))
	}

	k.logger.Info("JWK cache initialization complete - keys will be fetched in background",
		slog.Int("endpoints_registered", successCount))

	return nil
}

// FetchKeys implements the jws.KeyProvider interface for automatic key lookup
// during JWS verification.
//
// The jws library passes the signature headers to this method; the key is
// looked up by kid (manual keys first, then the remote cache) and added to
// the key sink.
func (k *KeyManager) FetchKeys(ctx context.Context, sink jws.KeySink, sig *jws.Signature, msg *jws.Message) error {
	kid, ok := sig.ProtectedHeaders().KeyID()
	if !ok || kid == "" {
		return fmt.Errorf("kid is required in JWS header")
	}

	alg, ok := sig.ProtectedHeaders().Algorithm()
	if !ok {
		return fmt.Errorf("alg is required in JWS header")
	}

	k.mu.RLock()
	if keyInfo, exists := k.manualKeys[kid]; exists {
		k.mu.RUnlock()
		sink.Key(alg, keyInfo.Key)
		return nil
	}
	k.mu.RUnlock()

	if k.jwkCache != nil {
		for _, issuer := range k.registry.Issuers() {
			if issuer.JWKSEndpoint == "" {
				continue
			}

			keySet, err := k.jwkCache.Lookup(ctx, issuer.JWKSEndpoint)
			if err != nil {
				k.logger.Debug("failed to lookup JWK set from cache",
					slog.String("issuer", issuer.IssuerID),
					slog.String("jwks_url", issuer.JWKSEndpoint),
					slog.String("error", err.Error()))
				continue
			}

			key, found := keySet.LookupKeyID(kid)
			if found {
				sink.Key(alg, key)
				return nil
			}
		}
	}

	return fmt.Errorf("key not found: %s", kid)
}

// PublicKeyForIssuer returns the Ed25519 public key for an issuer.
// Used to build a verify-only signer for that issuer's credentials.
func (k *KeyManager) PublicKeyForIssuer(ctx context.Context, issuerID string) (ed25519.PublicKey, string, error) {
	issuer, ok := k.registry.Issuer(issuerID)
	if !ok {
		return nil, "", fmt.Errorf("issuer not found in registry: %s", issuerID)
	}

	if issuer.ManualKeyID != "" {
		k.mu.RLock()
		keyInfo, exists := k.manualKeys[issuer.ManualKeyID]
		k.mu.RUnlock()
		if !exists {
			return nil, "", fmt.Errorf("manual key not loaded for issuer %s (kid %s)", issuerID, issuer.ManualKeyID)
		}

		var raw any
		if err := jwk.Export(keyInfo.Key, &raw); err != nil {
			return nil, "", fmt.Errorf("failed to export key: %w", err)
		}
		publicKey, ok := raw.(ed25519.PublicKey)
		if !ok {
			return nil, "", fmt.Errorf("key for issuer %s is not an Ed25519 public key", issuerID)
		}
		return publicKey, keyInfo.KeyID, nil
	}

	if k.jwkCache == nil {
		return nil, "", fmt.Errorf("JWK cache not initialized and issuer %s has no manual key", issuerID)
	}

	keySet, err := k.jwkCache.Lookup(ctx, issuer.JWKSEndpoint)
	if err != nil {
		return nil, "", fmt.Errorf("failed to lookup JWK set for issuer %s: %w", issuerID, err)
	}

	// take the first Ed25519 signature key in the set
	for i := 0; i < keySet.Len(); i++ {
		key, ok := keySet.Key(i)
		if !ok {
			continue
		}
		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			continue
		}
		if publicKey, ok := raw.(ed25519.PublicKey); ok {
			kid, _ := key.KeyID()
			return publicKey, kid, nil
		}
	}

	return nil, "", fmt.Errorf("no Ed25519 public key found for issuer %s", issuerID)
}

// LookupIssuerByKeyID returns the issuer that owns the given key ID.
// Verifiers use this to check a signing key belongs to the claimed issuer.
func (k *KeyManager) LookupIssuerByKeyID(ctx context.Context, keyID string) (string, error) {
	if keyID == "" {
		return "", fmt.Errorf("kid is required")
	}

	k.mu.RLock()
	if keyInfo, exists := k.manualKeys[keyID]; exists {
		k.mu.RUnlock()
		return keyInfo.Issuer.IssuerID, nil
	}
	k.mu.RUnlock()

	if k.jwkCache != nil {
		for _, issuer := range k.registry.Issuers() {
			if issuer.JWKSEndpoint == "" {
				continue
			}

			keySet, err := k.jwkCache.Lookup(ctx, issuer.JWKSEndpoint)
			if err != nil {
				continue
			}

			if _, found := keySet.LookupKeyID(keyID); found {
				return issuer.IssuerID, nil
			}
		}
	}

	return "", fmt.Errorf("no issuer found for key: %s", keyID)
}
