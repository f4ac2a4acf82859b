package rx

import "time"

// PrescriptionRecord is the mutable wrapper entity that owns the lifecycle
// status, the current credential+proof, the repeat authorization (optional)
// and at most one revocation record.
//
// Records are created as StatusDraft by the issuer and mutated only through
// state machine transitions. They are never deleted - terminal states are
// retained for audit.
type PrescriptionRecord struct {

	// ID is the unique prescription record identifier (UUID).
	ID string `json:"id"`

	// Status is the current lifecycle state. Only Transition writes this.
	Status Status `json:"status"`

	// Credential is the current signed payload. Immutable once a proof is attached.
	Credential Credential `json:"credential"`

	// Proof is attached when the credential is signed (nil while draft).
	Proof *Proof `json:"proof,omitempty"`

	// Repeats is the optional repeat/refill authorization.
	Repeats *RepeatAuthorization `json:"repeats,omitempty"`

	// Revocation holds the revocation record once revocation has been
	// requested. At most one revocation record exists per prescription;
	// a rolled-back revocation is cleared before a new one can be requested.
	Revocation *RevocationRecord `json:"revocation,omitempty"`

	// CreatedAt / UpdatedAt are bookkeeping timestamps (UTC).
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the record. Readers operate on clones so that
// concurrent verification and eligibility checks observe a consistent
// snapshot while a writer mutates the original under the per-record lock.
func (r *PrescriptionRecord) Clone() *PrescriptionRecord {
	if r == nil {
		return nil
	}

	clone := *r

	clone.Credential.Medications = append([]Medication(nil), r.Credential.Medications...)

	if r.Proof != nil {
		proof := *r.Proof
		clone.Proof = &proof
	}
	if r.Repeats != nil {
		clone.Repeats = r.Repeats.Clone()
	}
	if r.Revocation != nil {
		rev := *r.Revocation
		clone.Revocation = &rev
	}

	return &clone
}
