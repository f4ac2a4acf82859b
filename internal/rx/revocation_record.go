package rx

// revocation_record.go defines the revocation record data model.
//
// Time-dependent activation (scheduled revocation, rollback deadlines) is
// evaluated as a pure function of (record, now) at read time - correctness
// never depends on a background scheduler firing.

import "time"

// RevocationRecord describes an issuer-initiated invalidation of a
// prescription. One-to-one with a PrescriptionRecord once requested.
type RevocationRecord struct {

	// Reason is the human-readable revocation reason.
	Reason string `json:"reason"`

	// RequestedAt is when the revocation was requested (UTC).
	RequestedAt time.Time `json:"requestedAt"`

	// EffectiveAt is when the revocation takes effect. Equal to RequestedAt
	// for immediate revocations, in the future for scheduled ones.
	EffectiveAt time.Time `json:"effectiveAt"`

	// RevokedBy identifies the actor that requested the revocation.
	RevokedBy string `json:"revokedBy"`

	// Reversible indicates the revocation may be rolled back before the deadline.
	Reversible bool `json:"reversible"`

	// RollbackDeadline is the latest time a rollback is permitted
	// (only set when Reversible is true).
	RollbackDeadline *time.Time `json:"rollbackDeadline,omitempty"`

	// PriorStatus is the lifecycle state immediately before revocation took
	// effect. A rollback restores this state.
	PriorStatus Status `json:"priorStatus"`
}

// IsEffective reports whether the revocation is in force at now.
// A scheduled revocation is not effective until now >= EffectiveAt.
func (r *RevocationRecord) IsEffective(now time.Time) bool {
	if r == nil {
		return false
	}
	return !now.Before(r.EffectiveAt)
}

// RollbackAllowed reports whether the revocation may still be rolled back at now.
func (r *RevocationRecord) RollbackAllowed(now time.Time) bool {
	if r == nil || !r.Reversible {
		return false
	}
	if r.RollbackDeadline == nil {
		return true
	}
	return !now.After(*r.RollbackDeadline)
}
