package rx

// repeats.go implements the repeat/refill authorization tracker.
//
// The tracker never mutates an authorization in place: RecordDispense returns
// a new snapshot so that the dispensing history backing the audit trail stays
// exact. remainingCount is non-increasing and never negative.

import (
	"fmt"
	"math"
	"time"
)

// DispensingEvent records one fill against the authorization.
type DispensingEvent struct {

	// Timestamp is when the medication was dispensed (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Quantity dispensed.
	Quantity int `json:"quantity"`

	// DispenserID identifies the dispensing pharmacy/pharmacist.
	DispenserID string `json:"dispenserId"`

	// Override is set when an approved emergency override bypassed the
	// minimum interval check for this event.
	Override *EmergencyOverride `json:"override,omitempty"`
}

// EmergencyOverride is a signed justification for dispensing before the
// minimum interval has elapsed. An override never bypasses the
// remaining-count check - only the interval check.
type EmergencyOverride struct {

	// Justification is the clinical reason for the early dispense.
	Justification string `json:"justification"`

	// ApprovedBy identifies the approving prescriber or authority.
	ApprovedBy string `json:"approvedBy"`

	// Signature is the approver's signature over the justification.
	Signature string `json:"signature"`
}

// ValidateStructure checks the override carries a justification and signature.
func (o *EmergencyOverride) ValidateStructure() error {
	if o.Justification == "" {
		return NewIncompleteCredentialError("override justification is required")
	}
	if o.ApprovedBy == "" {
		return NewIncompleteCredentialError("override approvedBy is required")
	}
	if o.Signature == "" {
		return NewIncompleteCredentialError("override signature is required")
	}
	return nil
}

// RepeatAuthorization tracks how many repeat dispensings are authorized and
// the minimum interval between them.
type RepeatAuthorization struct {

	// AuthorizedCount is the total number of dispensings authorized.
	AuthorizedCount int `json:"authorizedCount"`

	// RemainingCount is the number of dispensings still available.
	// Invariant: never negative, non-increasing across dispensing events.
	RemainingCount int `json:"remainingCount"`

	// MinimumIntervalDays is the minimum number of days between dispensings.
	MinimumIntervalDays int `json:"minimumIntervalDays"`

	// Dispensings is the ordered dispensing history (oldest first).
	Dispensings []DispensingEvent `json:"dispensings"`
}

// NewRepeatAuthorization creates an authorization with the full count remaining.
func NewRepeatAuthorization(authorizedCount, minimumIntervalDays int) (*RepeatAuthorization, error) {
	if authorizedCount < 1 {
		return nil, NewIncompleteCredentialError("authorizedCount must be at least 1")
	}
	if minimumIntervalDays < 0 {
		return nil, NewIncompleteCredentialError("minimumIntervalDays cannot be negative")
	}
	return &RepeatAuthorization{
		AuthorizedCount:     authorizedCount,
		RemainingCount:      authorizedCount,
		MinimumIntervalDays: minimumIntervalDays,
	}, nil
}

// Clone returns a deep copy of the authorization.
func (a *RepeatAuthorization) Clone() *RepeatAuthorization {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Dispensings = append([]DispensingEvent(nil), a.Dispensings...)
	return &clone
}

// LastDispense returns the most recent dispensing event, or nil if none.
func (a *RepeatAuthorization) LastDispense() *DispensingEvent {
	if len(a.Dispensings) == 0 {
		return nil
	}
	return &a.Dispensings[len(a.Dispensings)-1]
}

// EligibilityStatus is the outcome of an eligibility check.
type EligibilityStatus int

const (
	// Eligible: a dispense may proceed now.
	Eligible EligibilityStatus = iota + 1

	// TooEarly: the minimum interval since the last dispense has not elapsed.
	TooEarly

	// Exhausted: no repeats remain.
	Exhausted
)

// String returns a human-readable representation of the eligibility status.
func (s EligibilityStatus) String() string {
	switch s {
	case Eligible:
		return "ELIGIBLE"
	case TooEarly:
		return "TOO_EARLY"
	case Exhausted:
		return "EXHAUSTED"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Eligibility is the result of CheckEligibility. For TooEarly results,
// DaysRemaining and NextEligible carry the remediation data returned to the
// dispenser.
type Eligibility struct {
	Status        EligibilityStatus
	DaysRemaining int
	NextEligible  time.Time
}

// CheckEligibility reports whether a dispense may proceed at now.
//
// Eligibility requires remainingCount > 0 and, if a prior dispensing event
// exists, now >= lastDispense + minimumIntervalDays. The exhausted check runs
// first: an exhausted authorization is reported as Exhausted even when the
// interval has also not elapsed.
func (a *RepeatAuthorization) CheckEligibility(now time.Time) Eligibility {
	if a.RemainingCount <= 0 {
		return Eligibility{Status: Exhausted}
	}

	last := a.LastDispense()
	if last == nil || a.MinimumIntervalDays == 0 {
		return Eligibility{Status: Eligible}
	}

	nextEligible := last.Timestamp.AddDate(0, 0, a.MinimumIntervalDays)
	if !now.Before(nextEligible) {
		return Eligibility{Status: Eligible}
	}

	// round partial days up so "eligible in 0 days" is never reported early
	daysRemaining := int(math.Ceil(nextEligible.Sub(now).Hours() / 24))

	return Eligibility{
		Status:        TooEarly,
		DaysRemaining: daysRemaining,
		NextEligible:  nextEligible,
	}
}

// RecordDispense validates eligibility and returns a new authorization
// snapshot with the event appended and remainingCount decremented.
//
// An approved emergency override bypasses the interval check only - the
// remaining-count check always applies. The original authorization is never
// mutated.
func (a *RepeatAuthorization) RecordDispense(event DispensingEvent) (*RepeatAuthorization, error) {
	if event.DispenserID == "" {
		return nil, NewIncompleteCredentialError("dispenserId is required")
	}
	if event.Quantity < 1 {
		return nil, NewIncompleteCredentialError("quantity must be at least 1")
	}
	if event.Override != nil {
		if err := event.Override.ValidateStructure(); err != nil {
			return nil, err
		}
	}

	eligibility := a.CheckEligibility(event.Timestamp)
	switch eligibility.Status {
	case Exhausted:
		return nil, NewRepeatExhaustedError(
			fmt.Sprintf("all %d authorized dispensings have been used", a.AuthorizedCount))
	case TooEarly:
		if event.Override == nil {
			return nil, &TooEarlyError{
				DaysRemaining: eligibility.DaysRemaining,
				NextEligible:  eligibility.NextEligible,
			}
		}
		// approved override: interval check bypassed, count still enforced above
	}

	next := a.Clone()
	next.Dispensings = append(next.Dispensings, event)
	next.RemainingCount--

	return next, nil
}
