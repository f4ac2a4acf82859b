package engine

import (
	"context"

	"github.com/openrx-networks/rxcred/internal/audit"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// AuditTrail returns a prescription's audit entries ordered by sequence number.
func (e *Engine) AuditTrail(ctx context.Context, id string) ([]audit.Entry, error) {
	entries, err := e.store.AuditTrail(ctx, id)
	if err != nil {
		return nil, rx.WrapInternalError(err, "failed to load audit trail")
	}
	if len(entries) == 0 {
		if _, err := e.store.GetRecord(ctx, id); err != nil {
			return nil, rx.NewNotFoundError("prescription " + id + " not found")
		}
	}
	return entries, nil
}

// VerifyAuditChain recomputes a prescription's audit chain hashes and
// reports whether the chain is intact. A broken chain is evidence of
// tampering with stored history and is never repaired.
func (e *Engine) VerifyAuditChain(ctx context.Context, id string) (audit.ChainVerification, error) {
	entries, err := e.AuditTrail(ctx, id)
	if err != nil {
		return audit.ChainVerification{}, err
	}

	verification, err := audit.VerifyChain(entries)
	if err != nil {
		return audit.ChainVerification{}, rx.WrapInternalError(err, "failed to verify audit chain")
	}
	return verification, nil
}
