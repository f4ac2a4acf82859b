// Package revocation implements issuer-initiated invalidation of
// prescriptions: immediate, scheduled and reversible revocation, rollback,
// and impact preview.
//
// The functions here are pure domain operations on prescription records -
// persistence, per-record locking and audit appends are the engine's job.
// Scheduled revocations are honored at read time as a function of
// (record, now); nothing here depends on a background timer.
package revocation

import (
	"fmt"
	"time"

	"github.com/openrx-networks/rxcred/internal/rx"
)

// Request describes a revocation request.
type Request struct {

	// Reason is the human-readable revocation reason (required).
	Reason string

	// RevokedBy identifies the requesting actor (required).
	RevokedBy string

	// EffectiveAt schedules the revocation. Nil means immediate
	// (effective at the request time).
	EffectiveAt *time.Time

	// Reversible marks the revocation as rollback-able until RollbackDeadline.
	Reversible bool

	// RollbackDeadline is the latest time a rollback is permitted.
	// Only meaningful when Reversible is true.
	RollbackDeadline *time.Time
}

// Revoke validates the request against the record and returns the revocation
// record to attach. The caller owns persisting the record and transitioning
// the lifecycle state once the revocation is effective.
//
// At most one revocation record exists per prescription: a second request is
// rejected while one is attached (a rolled-back revocation is cleared by
// Rollback, after which a new request is allowed).
func Revoke(record *rx.PrescriptionRecord, req Request, now time.Time) (*rx.RevocationRecord, error) {
	if req.Reason == "" {
		return nil, rx.NewRevocationError("revocation reason is required")
	}
	if req.RevokedBy == "" {
		return nil, rx.NewRevocationError("revokedBy is required")
	}
	if record.Status.IsTerminal() {
		return nil, rx.NewRevocationError(
			fmt.Sprintf("prescription %s is already in terminal state %s", record.ID, record.Status))
	}
	if record.Revocation != nil {
		return nil, rx.NewRevocationError(
			fmt.Sprintf("prescription %s already has an outstanding revocation", record.ID))
	}

	effectiveAt := now
	if req.EffectiveAt != nil {
		if req.EffectiveAt.Before(now) {
			return nil, rx.NewRevocationError("effectiveAt cannot be in the past")
		}
		effectiveAt = *req.EffectiveAt
	}

	if req.RollbackDeadline != nil && !req.Reversible {
		return nil, rx.NewRevocationError("rollbackDeadline requires reversible=true")
	}

	return &rx.RevocationRecord{
		Reason:           req.Reason,
		RequestedAt:      now,
		EffectiveAt:      effectiveAt,
		RevokedBy:        req.RevokedBy,
		Reversible:       req.Reversible,
		RollbackDeadline: req.RollbackDeadline,
		PriorStatus:      record.Status,
	}, nil
}

// Rollback validates that the record's revocation may be rolled back at now
// and returns the lifecycle state to restore. The caller clears the
// revocation record, restores the state and audits the counter-transition.
func Rollback(record *rx.PrescriptionRecord, now time.Time) (rx.Status, error) {
	if record.Revocation == nil {
		return record.Status, rx.NewRevocationError(
			fmt.Sprintf("prescription %s has no revocation to roll back", record.ID))
	}
	if !record.Revocation.Reversible {
		return record.Status, rx.NewRevocationError("revocation is not reversible")
	}
	if !record.Revocation.RollbackAllowed(now) {
		deadline := "unset"
		if record.Revocation.RollbackDeadline != nil {
			deadline = record.Revocation.RollbackDeadline.UTC().Format(time.RFC3339)
		}
		return record.Status, rx.NewRevocationError(
			fmt.Sprintf("rollback deadline has passed (deadline %s)", deadline))
	}

	return record.Revocation.PriorStatus, nil
}

// ImpactReport describes what a revocation would block, reported to the
// requester before committing.
type ImpactReport struct {

	// PrescriptionID identifies the record the report applies to.
	PrescriptionID string `json:"prescriptionId"`

	// CurrentStatus is the record's lifecycle state at preview time.
	CurrentStatus rx.Status `json:"currentStatus"`

	// AlreadyRevoked indicates an effective revocation is already in force.
	AlreadyRevoked bool `json:"alreadyRevoked"`

	// BlockedOperations lists the operations an effective revocation would block.
	BlockedOperations []string `json:"blockedOperations"`

	// RemainingRepeatsForfeited is the number of repeat dispensings the
	// patient would lose.
	RemainingRepeatsForfeited int `json:"remainingRepeatsForfeited"`
}

// PreviewImpact reports what revoking the record at now would block.
// Read-only: the record is not modified.
func PreviewImpact(record *rx.PrescriptionRecord, now time.Time) ImpactReport {
	report := ImpactReport{
		PrescriptionID: record.ID,
		CurrentStatus:  record.Status,
		AlreadyRevoked: record.Revocation.IsEffective(now),
	}

	if report.AlreadyRevoked || record.Status.IsTerminal() {
		return report
	}

	// verification and sharing are blocked for any revoked credential;
	// dispensing is additionally blocked when repeats remain
	report.BlockedOperations = []string{"verification", "sharing"}
	if record.Repeats != nil && record.Repeats.RemainingCount > 0 {
		report.BlockedOperations = append(report.BlockedOperations, "dispensing")
		report.RemainingRepeatsForfeited = record.Repeats.RemainingCount
	}

	return report
}
