package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openrx-networks/rxcred/internal/audit"
	"github.com/openrx-networks/rxcred/internal/revocation"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// Revoke applies a revocation request to a prescription.
//
// An immediate revocation transitions the record to REVOKED right away. A
// scheduled one attaches the revocation record and leaves the lifecycle
// state unchanged until the effective time is reached, at which point any
// read applies it. Both the request and its rejection are audited.
func (e *Engine) Revoke(ctx context.Context, id string, req revocation.Request) (*rx.PrescriptionRecord, error) {
	lock := e.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.loadCurrent(ctx, id, req.RevokedBy)
	if err != nil {
		return nil, err
	}

	now := e.now()

	revocationRecord, err := revocation.Revoke(record, req, now)
	if err != nil {
		e.appendAudit(ctx, id, req.RevokedBy, audit.ActionRevocationRejected, err.Error())
		return nil, err
	}
	record.Revocation = revocationRecord
	record.UpdatedAt = now

	detail := fmt.Sprintf("revocation requested by %s: %s", req.RevokedBy, req.Reason)
	if revocationRecord.EffectiveAt.After(now) {
		detail = fmt.Sprintf("%s (effective %s)", detail, revocationRecord.EffectiveAt.Format(time.RFC3339))
	}

	if revocationRecord.IsEffective(now) {
		from := record.Status
		newStatus, err := rx.Transition(from, rx.StatusRevoked)
		if err != nil {
			e.appendAudit(ctx, id, req.RevokedBy, audit.ActionTransitionRejected,
				fmt.Sprintf("%s -> %s rejected: %v", from, rx.StatusRevoked, err))
			return nil, err
		}
		record.Status = newStatus
	}

	if err := e.store.UpdateRecord(ctx, record); err != nil {
		return nil, rx.WrapInternalError(err, "failed to persist revocation")
	}

	e.appendAudit(ctx, id, req.RevokedBy, audit.ActionRevocationRequested, detail)
	if record.Status == rx.StatusRevoked {
		e.appendAudit(ctx, id, req.RevokedBy, audit.ActionTransition,
			fmt.Sprintf("%s -> %s", revocationRecord.PriorStatus, rx.StatusRevoked))
	}

	e.logger.Info("revocation requested",
		slog.String("prescription_id", id),
		slog.String("revoked_by", req.RevokedBy),
		slog.Bool("effective", record.Status == rx.StatusRevoked),
		slog.Bool("reversible", req.Reversible))

	return record.Clone(), nil
}

// RollbackRevocation reverses a reversible revocation before its deadline,
// restoring the state the prescription held before the revocation took effect.
func (e *Engine) RollbackRevocation(ctx context.Context, id, actor string) (*rx.PrescriptionRecord, error) {
	lock := e.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.loadCurrent(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	now := e.now()

	priorStatus, err := revocation.Rollback(record, now)
	if err != nil {
		e.appendAudit(ctx, id, actor, audit.ActionRevocationRejected,
			fmt.Sprintf("rollback rejected: %v", err))
		return nil, err
	}

	from := record.Status
	record.Status = priorStatus
	record.Revocation = nil
	record.UpdatedAt = now

	if err := e.store.UpdateRecord(ctx, record); err != nil {
		return nil, rx.WrapInternalError(err, "failed to persist rollback")
	}

	e.appendAudit(ctx, id, actor, audit.ActionRevocationRollback,
		fmt.Sprintf("revocation rolled back, %s -> %s", from, priorStatus))

	e.logger.Info("revocation rolled back",
		slog.String("prescription_id", id),
		slog.String("restored_status", string(priorStatus)))

	return record.Clone(), nil
}

// PreviewRevocationImpact reports what revoking the prescription now would
// block, without modifying anything.
func (e *Engine) PreviewRevocationImpact(ctx context.Context, id string) (revocation.ImpactReport, error) {
	record, err := e.Get(ctx, id)
	if err != nil {
		return revocation.ImpactReport{}, err
	}
	return revocation.PreviewImpact(record, e.now()), nil
}

// BulkRevocationResult is the per-prescription outcome of a bulk revocation.
type BulkRevocationResult struct {
	PrescriptionID string `json:"prescriptionId"`
	Revoked        bool   `json:"revoked"`
	Error          string `json:"error,omitempty"`
}

// BulkRevoke revokes a batch of prescriptions, e.g. for a product recall.
//
// Each prescription is processed independently: one failure never aborts the
// batch, and the result reports the outcome per ID.
func (e *Engine) BulkRevoke(ctx context.Context, ids []string, req revocation.Request) []BulkRevocationResult {
	results := make([]BulkRevocationResult, 0, len(ids))

	for _, id := range ids {
		result := BulkRevocationResult{PrescriptionID: id}
		if _, err := e.Revoke(ctx, id, req); err != nil {
			result.Error = err.Error()
		} else {
			result.Revoked = true
		}
		results = append(results, result)
	}

	e.logger.Info("bulk revocation processed",
		slog.Int("requested", len(ids)),
		slog.String("revoked_by", req.RevokedBy))

	return results
}
