// Package registry implements the trust registry gate for issuer identity.
//
// The registry maps issuer identifiers to an authorization status. It is a
// pure lookup: the engine never mutates issuer entries (conceptually the
// registry is owned by an external authority - for the demo it is a JSON
// file loaded at startup and not refreshed).
//
// Unknown issuers are treated identically to suspended ones by the verifier
// (both block acceptance) but are reported with distinct reason codes for
// diagnostics.
package registry

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// IssuerStatus is the authorization status of an issuer.
type IssuerStatus string

const (
	// IssuerStatusTrusted: the issuer is authorized to sign credentials.
	IssuerStatusTrusted IssuerStatus = "trusted"

	// IssuerStatusSuspended: the issuer was registered but is currently blocked.
	IssuerStatusSuspended IssuerStatus = "suspended"

	// IssuerStatusUnknown: the issuer is not in the registry.
	IssuerStatusUnknown IssuerStatus = "unknown"
)

// TrustedIssuer is one entry in the issuer registry.
type TrustedIssuer struct {

	// IssuerID is the unique issuer identifier carried in credentials.
	IssuerID string `json:"issuerId"`

	// Name is the issuing authority's display name.
	Name string `json:"name"`

	// Status is trusted or suspended (unknown issuers simply have no entry).
	Status IssuerStatus `json:"status"`

	// RegisteredAt is the registration timestamp in RFC 3339 format.
	RegisteredAt string `json:"registeredAt"`

	// JWKSEndpoint is the URL the issuer publishes its public keys at
	// (e.g., "https://issuer.example.com/.well-known/jwks.json").
	// Mutually exclusive with ManualKeyID.
	JWKSEndpoint string `json:"jwksEndpoint,omitempty"`

	// ManualKeyID is the kid of a public key distributed out-of-band and
	// loaded from the manual keys directory at startup.
	// Mutually exclusive with JWKSEndpoint.
	ManualKeyID string `json:"manualKeyId,omitempty"`
}

// Registry is the in-process issuer registry.
type Registry struct {
	issuers map[string]*TrustedIssuer
}

// registryFile is the on-disk JSON format.
type registryFile struct {
	Issuers []*TrustedIssuer `json:"issuers"`
}

// Load reads the issuer registry from a JSON file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read issuer registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse issuer registry: %w", err)
	}

	registry := &Registry{issuers: make(map[string]*TrustedIssuer)}

	for _, issuer := range file.Issuers {
		if issuer.IssuerID == "" {
			return nil, fmt.Errorf("invalid registry entry - issuerId not set: %+v", issuer)
		}
		if issuer.Status != IssuerStatusTrusted && issuer.Status != IssuerStatusSuspended {
			return nil, fmt.Errorf("invalid registry entry %s - status must be trusted or suspended, got %q",
				issuer.IssuerID, issuer.Status)
		}
		if issuer.JWKSEndpoint == "" && issuer.ManualKeyID == "" {
			return nil, fmt.Errorf("invalid registry entry %s - no jwksEndpoint or manualKeyId", issuer.IssuerID)
		}
		if issuer.JWKSEndpoint != "" && issuer.ManualKeyID != "" {
			return nil, fmt.Errorf("invalid registry entry %s - both jwksEndpoint and manualKeyId set", issuer.IssuerID)
		}
		if issuer.JWKSEndpoint != "" {
			if _, err := url.Parse(issuer.JWKSEndpoint); err != nil {
				return nil, fmt.Errorf("invalid registry entry %s - invalid jwksEndpoint: %w", issuer.IssuerID, err)
			}
		}
		if registry.issuers[issuer.IssuerID] != nil {
			return nil, fmt.Errorf("duplicate issuerId in registry: %s", issuer.IssuerID)
		}
		registry.issuers[issuer.IssuerID] = issuer
	}

	return registry, nil
}

// New creates a registry from issuer entries (used by tests and embedded setups).
func New(issuers ...*TrustedIssuer) *Registry {
	registry := &Registry{issuers: make(map[string]*TrustedIssuer)}
	for _, issuer := range issuers {
		registry.issuers[issuer.IssuerID] = issuer
	}
	return registry
}

// Authorize returns the authorization status for an issuer identifier.
// Pure lookup, no side effects. Issuers with no registry entry are Unknown.
func (r *Registry) Authorize(issuerID string) IssuerStatus {
	issuer, ok := r.issuers[issuerID]
	if !ok {
		return IssuerStatusUnknown
	}
	return issuer.Status
}

// Issuer returns the registry entry for an issuer identifier.
func (r *Registry) Issuer(issuerID string) (*TrustedIssuer, bool) {
	issuer, ok := r.issuers[issuerID]
	return issuer, ok
}

// Issuers returns all registry entries.
func (r *Registry) Issuers() []*TrustedIssuer {
	out := make([]*TrustedIssuer, 0, len(r.issuers))
	for _, issuer := range r.issuers {
		out = append(out, issuer)
	}
	return out
}
